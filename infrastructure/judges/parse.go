package judges

import (
	"encoding/json"
	"strings"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
)

// verdict is the JSON object judges are instructed to emit.
type verdict struct {
	Score          *float64           `json:"score"`
	Passed         *bool              `json:"passed"`
	Reasoning      string             `json:"reasoning"`
	CriteriaScores map[string]float64 `json:"criteria_scores"`
}

// ParseJudgment extracts the structured verdict from a judge response.
// Models wrap JSON in prose and markdown fences unpredictably, so the
// parser scans for the first balanced JSON object containing a score.
// Responses with no parseable verdict or an out-of-range score yield an
// invalid judgment, never an error.
func ParseJudgment(response string) ports.Judgment {
	for _, candidate := range jsonCandidates(response) {
		var v verdict
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			continue
		}
		if v.Score == nil {
			continue
		}
		if *v.Score < 0 || *v.Score > 1 {
			return ports.Judgment{IsValid: false, Reasoning: "score out of range"}
		}

		passed := v.Passed != nil && *v.Passed
		return ports.Judgment{
			Score:          *v.Score,
			Passed:         passed,
			Grade:          domain.GradeFromScore(*v.Score),
			Reasoning:      v.Reasoning,
			IsValid:        true,
			CriteriaScores: v.CriteriaScores,
		}
	}
	return ports.Judgment{IsValid: false, Reasoning: "no parseable verdict in response"}
}

// jsonCandidates yields balanced top-level JSON objects found in the
// text, fenced blocks first since models usually put the verdict there.
func jsonCandidates(s string) []string {
	var out []string

	for _, fence := range []string{"```json", "```"} {
		rest := s
		for {
			start := strings.Index(rest, fence)
			if start < 0 {
				break
			}
			body := rest[start+len(fence):]
			end := strings.Index(body, "```")
			if end < 0 {
				break
			}
			out = append(out, strings.TrimSpace(body[:end]))
			rest = body[end+3:]
		}
	}

	// Fall back to scanning for balanced braces in the raw text.
	depth := 0
	startIdx := -1
	inString := false
	escaped := false
	for i, ch := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				startIdx = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && startIdx >= 0 {
					out = append(out, s[startIdx:i+1])
					startIdx = -1
				}
			}
		}
	}
	return out
}
