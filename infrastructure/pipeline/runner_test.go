package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUnknownLanguage(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), t.TempDir(), "cobol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no validation pipeline")
}

func TestLanguageCheckSets(t *testing.T) {
	// Every supported language defines all three checks.
	for lang, checks := range languages {
		names := make(map[string]bool, len(checks))
		for _, c := range checks {
			names[c.name] = true
		}
		assert.True(t, names["build"] && names["format"] && names["test"],
			"language %s missing a check", lang)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 100))

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	out := truncate(string(long), 100)
	assert.Contains(t, out, "output truncated")
	assert.Less(t, len(out), 150)
}
