package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// TestDetect_JSONErrorRecord verifies detection of streamed JSON error
// records carrying an is_error flag and a limiting phrase.
func TestDetect_JSONErrorRecord(t *testing.T) {
	stdout := `{"type":"progress","step":1}
{"is_error":true,"error":"API rate limit exceeded, retry-after: 120"}
`
	info, ok := Detect(stdout, "", domain.SourceAgent)
	require.True(t, ok)
	assert.Equal(t, domain.SourceAgent, info.Source)
	assert.Equal(t, 120, info.RetryAfterSeconds)
	assert.Contains(t, info.ErrorMessage, "rate limit")
}

// TestDetect_JSONErrorWithoutLimiting verifies that ordinary JSON errors
// are not mistaken for rate limiting.
func TestDetect_JSONErrorWithoutLimiting(t *testing.T) {
	stdout := `{"is_error":true,"error":"compilation failed: missing semicolon"}`
	_, ok := Detect(stdout, "", domain.SourceAgent)
	assert.False(t, ok)
}

// TestDetect_HTTP429InStderr verifies detection of an HTTP 429 trail in
// stderr with the default wait applied when no reset is declared.
func TestDetect_HTTP429InStderr(t *testing.T) {
	stderr := "request failed: HTTP 429 Too Many Requests\n"
	info, ok := Detect("", stderr, domain.SourceJudge)
	require.True(t, ok)
	assert.Equal(t, domain.SourceJudge, info.Source)
	assert.Equal(t, DefaultRetrySeconds, info.RetryAfterSeconds)
}

// TestDetect_CleanOutput verifies the no-evidence path.
func TestDetect_CleanOutput(t *testing.T) {
	_, ok := Detect("all tests passed\n", "", domain.SourceAgent)
	assert.False(t, ok)
}

// TestParseResetsAt verifies the seconds-until-reset computation in the
// vendor's declared timezone, including rollover past midnight.
func TestParseResetsAt(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// 10:00 in Chicago; a reset at 10:30am is 1800 seconds away.
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, loc)

	secs, ok := parseResetsAt("usage limit reached, resets at 10:30am (America/Chicago)", now)
	require.True(t, ok)
	assert.Equal(t, 1800, secs)

	// A reset time already past rolls to tomorrow.
	secs, ok = parseResetsAt("usage limit reached, resets at 9:00am (America/Chicago)", now)
	require.True(t, ok)
	assert.Equal(t, 23*3600, secs)

	// pm conversion.
	secs, ok = parseResetsAt("resets at 1:00pm (America/Chicago)", now)
	require.True(t, ok)
	assert.Equal(t, 3*3600, secs)

	// Unknown timezone is not evidence of a parseable reset.
	_, ok = parseResetsAt("resets at 10:30am (Mars/Olympus)", now)
	assert.False(t, ok)
}

// TestDetect_ResetsAtPhrasing verifies end-to-end detection of the
// vendor "resets at" phrasing in stdout.
func TestDetect_ResetsAtPhrasing(t *testing.T) {
	stdout := "usage limit reached, resets at 11:30pm (UTC)\n"
	info, ok := Detect(stdout, "", domain.SourceAgent)
	require.True(t, ok)
	assert.Greater(t, info.RetryAfterSeconds, 0)
	assert.LessOrEqual(t, info.RetryAfterSeconds, 24*3600)
}
