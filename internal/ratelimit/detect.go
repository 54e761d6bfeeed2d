// Package ratelimit detects upstream rate-limit evidence in
// heterogeneous agent/judge output and coordinates the pool-wide
// pause-all/resume-all protocol. One worker's signal pauses every worker
// sharing the coordinator rather than letting the rest keep hammering an
// already-limited upstream.
package ratelimit

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// DefaultRetrySeconds is the wait assumed when evidence carries no
// explicit reset time.
const DefaultRetrySeconds = 300

// limitPhrases are the substrings that mark an error message as rate
// limiting rather than an ordinary failure. Matching is case-insensitive.
var limitPhrases = []string{
	"rate limit",
	"rate_limit",
	"usage limit",
	"too many requests",
	"429",
	"overloaded",
	"quota exceeded",
}

var (
	retryAfterRe = regexp.MustCompile(`(?i)retry[- _]after[:\s]+(\d+)`)
	resetsAtRe   = regexp.MustCompile(`(?i)resets at (\d{1,2}):(\d{2})\s*(am|pm)?\s*\(([^)]+)\)`)
)

// jsonErrorLine is the vendor-neutral shape of a streamed JSON error
// record: an is_error flag plus the message under one of several keys.
type jsonErrorLine struct {
	IsError bool   `json:"is_error"`
	Error   string `json:"error"`
	Result  string `json:"result"`
	Message string `json:"message"`
}

func (l jsonErrorLine) text() string {
	for _, s := range []string{l.Error, l.Result, l.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

func mentionsLimiting(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range limitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Detect scans stdout and stderr for rate-limit evidence across the
// encodings seen in the wild: JSON records with is_error and a limiting
// phrase, HTTP 429 mentions in stderr, and the textual
// "resets at HH:MM (timezone)" phrasing. It returns the detected info
// and true, or a zero value and false.
//
// Detect never decides how long to sleep; it only reports the upstream's
// declared wait (or DefaultRetrySeconds when none is declared). The
// safety buffer is applied by RateLimitInfo.BufferedWait at sleep time.
func Detect(stdout, stderr string, source domain.RateLimitSource) (domain.RateLimitInfo, bool) {
	now := time.Now()

	// JSON error records appear one per line in streamed agent output.
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var rec jsonErrorLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.IsError && mentionsLimiting(rec.text()) {
			return buildInfo(rec.text(), source, now), true
		}
	}

	if mentionsLimiting(stderr) {
		return buildInfo(firstMatchingLine(stderr), source, now), true
	}

	// Vendor phrasing sometimes lands in stdout without the JSON wrapper.
	if resetsAtRe.MatchString(stdout) && mentionsLimiting(stdout) {
		return buildInfo(firstMatchingLine(stdout), source, now), true
	}

	return domain.RateLimitInfo{}, false
}

// buildInfo assembles a RateLimitInfo from the matched evidence,
// preferring an explicit retry-after, then a textual reset time, then
// the default.
func buildInfo(evidence string, source domain.RateLimitSource, now time.Time) domain.RateLimitInfo {
	info := domain.RateLimitInfo{
		Source:            source,
		RetryAfterSeconds: DefaultRetrySeconds,
		ErrorMessage:      evidence,
		DetectedAt:        now,
	}

	if m := retryAfterRe.FindStringSubmatch(evidence); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil && secs > 0 {
			info.RetryAfterSeconds = secs
			return info
		}
	}

	if secs, ok := parseResetsAt(evidence, now); ok {
		info.RetryAfterSeconds = secs
	}
	return info
}

func firstMatchingLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if mentionsLimiting(line) {
			return strings.TrimSpace(line)
		}
	}
	return strings.TrimSpace(s)
}

// parseResetsAt computes seconds until the declared reset time in the
// vendor's declared timezone. A reset time that already passed today
// rolls to tomorrow.
func parseResetsAt(s string, now time.Time) (int, bool) {
	m := resetsAtRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	minute, err := strconv.Atoi(m[2])
	if err != nil || minute > 59 {
		return 0, false
	}

	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 {
		return 0, false
	}

	loc, err := time.LoadLocation(strings.TrimSpace(m[4]))
	if err != nil {
		return 0, false
	}

	local := now.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !reset.After(local) {
		reset = reset.Add(24 * time.Hour)
	}
	return int(reset.Sub(local).Seconds()), true
}
