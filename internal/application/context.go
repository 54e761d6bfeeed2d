package application

import (
	"github.com/ahrav/go-gauntlet/internal/domain"
)

// RunContext is the in-memory working set of one active trial. It is
// never persisted: every field that must survive a crash has a
// corresponding on-disk artifact written by the stage that produced it,
// and stages reload those artifacts on resume.
type RunContext struct {
	// ID is the trial identity.
	ID domain.TrialID

	// State is the last state successfully reached.
	State domain.RunState

	// Tier and Subtest are the immutable configuration slices for this
	// trial.
	Tier    TierConfig
	Subtest SubtestConfig

	// Branch is the worktree branch name for this trial.
	Branch string

	// Slots filled in by successive stages. A nil slot means the stage
	// has not run (or been replayed from disk) yet.

	// AgentRes is the parsed agent outcome.
	AgentRes *domain.AgentResult

	// AgentReran is true when this process actually invoked the agent,
	// as opposed to loading a prior result from disk. Judge artifacts
	// are considered stale only when the agent actually re-ran.
	AgentReran bool

	// Diff is the captured workspace diff.
	Diff *domain.CapturedDiff

	// Baseline is the pristine-workspace pipeline snapshot.
	Baseline *domain.PipelineResult

	// PipelineRes is the post-agent pipeline result.
	PipelineRes *domain.PipelineResult

	// JudgePrompt is the assembled prompt shared by all judge slots.
	JudgePrompt string

	// JudgeResults holds one summary per configured judge slot.
	JudgeResults []domain.JudgeResultSummary

	// ConsensusRes is the aggregated judge verdict.
	ConsensusRes *domain.JudgeResultSummary

	// Final is the finalized run result.
	Final *domain.RunResult
}

// newRunContext builds the context for one trial attempt.
func newRunContext(id domain.TrialID, tier TierConfig, subtest SubtestConfig) *RunContext {
	return &RunContext{
		ID:      id,
		State:   domain.StatePending,
		Tier:    tier,
		Subtest: subtest,
		Branch:  branchName(id),
	}
}

// branchName renders the worktree branch for a trial.
func branchName(id domain.TrialID) string {
	return "gauntlet/" + id.Tier + "-" + id.Subtest + "-" + domain.RunDirName(id.Run)
}
