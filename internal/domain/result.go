package domain

import "time"

// TokenStats summarizes token consumption reported by an external call.
type TokenStats struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// AgentResult is the parsed outcome of one agent invocation.
// Expected failure modes of the agent (crash, timeout, non-zero exit)
// are captured here as data rather than surfaced as errors, so the
// pipeline continues and diagnostics are preserved.
type AgentResult struct {
	ExitCode     int        `json:"exit_code"`
	Stdout       string     `json:"stdout,omitempty"`
	Stderr       string     `json:"stderr,omitempty"`
	Tokens       TokenStats `json:"tokens"`
	CostUSD      float64    `json:"cost_usd"`
	APICalls     int        `json:"api_calls"`
	TimedOut     bool       `json:"timed_out"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationS    float64    `json:"duration_s"`
}

// Succeeded reports whether the agent ran to a clean exit.
func (r AgentResult) Succeeded() bool { return r.ExitCode == 0 && !r.TimedOut }

// CapturedDiff holds the workspace changes left behind by the agent.
type CapturedDiff struct {
	// Diff is the unified git diff against the base commit.
	Diff string `json:"diff"`

	// Status is the porcelain git status output.
	Status string `json:"status"`

	// DeletedFiles lists paths the agent removed.
	DeletedFiles []string `json:"deleted_files,omitempty"`
}

// PipelineResult is the outcome of one build/lint/test validation pass
// over a workspace.
type PipelineResult struct {
	BuildPassed  bool   `json:"build_passed"`
	FormatPassed bool   `json:"format_passed"`
	TestPassed   bool   `json:"test_passed"`
	AllPassed    bool   `json:"all_passed"`
	BuildOutput  string `json:"build_output,omitempty"`
	FormatOutput string `json:"format_output,omitempty"`
	TestOutput   string `json:"test_output,omitempty"`
}

// RunResult is the finalized, aggregated outcome of one trial. It is the
// terminal artifact (run_result.json); its presence marks trial success.
type RunResult struct {
	Trial       TrialID              `json:"trial"`
	Agent       AgentResult          `json:"agent"`
	Pipeline    PipelineResult       `json:"pipeline"`
	Baseline    PipelineResult       `json:"baseline"`
	Judges      []JudgeResultSummary `json:"judges"`
	Consensus   JudgeResultSummary   `json:"consensus"`
	Passed      bool                 `json:"passed"`
	CostUSD     float64              `json:"cost_usd"`
	Tokens      TokenStats           `json:"tokens"`
	CompletedAt time.Time            `json:"completed_at"`
}
