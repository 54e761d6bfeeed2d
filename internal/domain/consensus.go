package domain

import "math"

// Consensus aggregates the verdicts of all judge slots for one trial into
// a single scored, graded, pass/fail outcome.
//
// Averaging only considers judges with a non-nil score and IsValid true.
// When no judge qualifies, the consensus carries nil score, nil pass and
// an empty grade: a total failure signal, deliberately distinct from a
// score of zero. Validity is stricter than averaging: one invalid judge
// invalidates the consensus record even though its score was excluded,
// so reporting can tell "valid unanimous score" from "score computed
// despite a missing judge".
func Consensus(judges []JudgeResultSummary) JudgeResultSummary {
	consensus := JudgeResultSummary{
		Model:       "consensus",
		JudgeNumber: 0,
		IsValid:     len(judges) > 0,
	}

	var valid []JudgeResultSummary
	for _, j := range judges {
		if !j.IsValid {
			consensus.IsValid = false
			continue
		}
		if j.Score == nil {
			continue
		}
		valid = append(valid, j)
	}

	if len(valid) == 0 {
		return consensus
	}

	var sum float64
	passVotes := 0
	for _, j := range valid {
		sum += *j.Score
		if j.Passed != nil && *j.Passed {
			passVotes++
		}
	}
	score := sum / float64(len(valid))
	passed := passVotes*2 > len(valid)

	consensus.Score = &score
	consensus.Passed = &passed
	consensus.Grade = GradeFromScore(score)

	// Representative reasoning comes from the valid judge whose score is
	// numerically closest to the mean. Equidistant judges resolve to the
	// earlier slot; distances within epsilon count as equal so float
	// noise in the mean cannot flip the pick.
	const eps = 1e-9
	best := valid[0]
	bestDist := math.Abs(*best.Score - score)
	for _, j := range valid[1:] {
		if d := math.Abs(*j.Score - score); d < bestDist-eps {
			best, bestDist = j, d
		}
	}
	consensus.Reasoning = best.Reasoning
	consensus.CriteriaScores = best.CriteriaScores

	return consensus
}
