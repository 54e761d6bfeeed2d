package domain

// JudgeResultSummary captures one judge slot's verdict on a trial.
// A trial holds an ordered list of these, one per configured judge model,
// plus one derived consensus record of the same shape.
type JudgeResultSummary struct {
	// Model is the judge model identifier (e.g. "claude-sonnet-4").
	Model string `json:"model"`

	// Score is the normalized score in [0,1], or nil when the judge
	// produced no usable score.
	Score *float64 `json:"score"`

	// Passed is the judge's pass/fail vote, or nil when unknown.
	Passed *bool `json:"passed"`

	// Grade is the letter grade derived from Score.
	Grade string `json:"grade"`

	// Reasoning is the judge's free-text justification.
	Reasoning string `json:"reasoning"`

	// JudgeNumber is the 1-based judge slot index.
	JudgeNumber int `json:"judge_number"`

	// IsValid reports whether the judge invocation produced a well-formed
	// judgment. Invalid judges are excluded from score averaging but
	// still poison the consensus validity flag.
	IsValid bool `json:"is_valid"`

	// CriteriaScores holds optional per-criterion sub-scores.
	CriteriaScores map[string]float64 `json:"criteria_scores,omitempty"`
}

// InvalidJudgeResult converts a failed judge invocation into a zero-score,
// invalid summary so the remaining judges' opinions survive the trial.
func InvalidJudgeResult(model string, judgeNumber int, reason string) JudgeResultSummary {
	zero := 0.0
	return JudgeResultSummary{
		Model:       model,
		Score:       &zero,
		Passed:      nil,
		Grade:       "",
		Reasoning:   reason,
		JudgeNumber: judgeNumber,
		IsValid:     false,
	}
}

// gradeBoundary maps a minimum score to its letter grade.
// Boundaries are evaluated from highest to lowest; scores below the last
// boundary grade F.
type gradeBoundary struct {
	min   float64
	grade string
}

var gradeBoundaries = []gradeBoundary{
	{0.95, "A+"},
	{0.90, "A"},
	{0.85, "A-"},
	{0.80, "B+"},
	{0.75, "B"},
	{0.70, "B-"},
	{0.65, "C+"},
	{0.60, "C"},
	{0.50, "D"},
}

// GradeFromScore maps a normalized score to its fixed letter grade.
func GradeFromScore(score float64) string {
	for _, b := range gradeBoundaries {
		if score >= b.min {
			return b.grade
		}
	}
	return "F"
}
