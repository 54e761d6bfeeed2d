package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

const validConfigYAML = `
name: nightly
results_dir: /tmp/results
repo_path: /tmp/repo
base_commit: abc123
runs_per_subtest: 3
language: go
agent:
  command: agent
  model: test-model
  timeout_seconds: 1800
judges:
  - provider: anthropic
    model: judge-a
  - provider: openai
    model: judge-b
tiers:
  - id: T0
    subtests:
      - id: baseline
        prompt_path: prompts/t0.md
  - id: T1
    subtests:
      - id: caching
        prompt_path: prompts/t1.md
        rubric_path: rubrics/t1.md
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, validConfigYAML))
		require.NoError(t, err)
		assert.Equal(t, "nightly", cfg.Name)
		assert.Equal(t, 3, cfg.RunsPerSubtest)
		assert.Len(t, cfg.Judges, 2)
		assert.Equal(t, 2, cfg.Workers, "workers defaults when unset")
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "name: x\n"))
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})

	t.Run("unknown judge provider", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
name: nightly
results_dir: /tmp/results
repo_path: /tmp/repo
base_commit: abc123
runs_per_subtest: 1
language: go
agent: {command: agent, model: m, timeout_seconds: 60}
judges: [{provider: bedrock, model: m}]
tiers: [{id: T0, subtests: [{id: s, prompt_path: p.md}]}]
`))
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})

	t.Run("nonexistent file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestFingerprint(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	fp1, err := cfg.Fingerprint()
	require.NoError(t, err)
	fp2, err := cfg.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2, "fingerprint is deterministic")

	// Shape-irrelevant fields do not change the fingerprint.
	cfg.ResultsDir = "/elsewhere"
	cfg.Agent.TimeoutSeconds = 99
	fp3, err := cfg.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp3)

	// Shape-relevant fields do.
	cfg.RunsPerSubtest = 5
	fp4, err := cfg.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp4)
}

func TestTrialEnumeration(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	trials := cfg.Trials()
	assert.Len(t, trials, 6, "2 subtests x 3 runs")
	assert.Equal(t, domain.TrialID{Tier: "T0", Subtest: "baseline", Run: 1}, trials[0])
	assert.Equal(t, domain.TrialID{Tier: "T1", Subtest: "caching", Run: 3}, trials[5])

	ref, ok := cfg.FindSubtest("T1", "caching")
	require.True(t, ok)
	assert.Equal(t, "rubrics/t1.md", ref.Subtest.RubricPath)

	_, ok = cfg.FindSubtest("T9", "nope")
	assert.False(t, ok)
}
