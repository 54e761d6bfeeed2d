// Package domain contains the pure types and pure functions of the
// evaluation harness: trial identity, the run-state ordering, judge
// summaries and consensus, on-disk status classification values, and the
// rate-limit value object. Nothing in this package touches the
// filesystem or the network.
package domain

import "fmt"

// TrialID uniquely identifies one execution instance of the benchmark:
// a (tier, subtest, run number) triple.
type TrialID struct {
	// Tier names the difficulty/configuration level (e.g. "T3").
	Tier string `json:"tier"`

	// Subtest names the configuration variant within the tier.
	Subtest string `json:"subtest"`

	// Run is the 1-based run number for this (tier, subtest) pair.
	Run int `json:"run"`
}

// String renders the identity in the canonical "tier/subtest/run_NN" form
// used in logs and error messages.
func (id TrialID) String() string {
	return fmt.Sprintf("%s/%s/run_%02d", id.Tier, id.Subtest, id.Run)
}

// RunState enumerates the stages of the per-trial pipeline in strict
// execution order. Transitions only move forward; a state is never
// revisited within one trial attempt.
type RunState int

const (
	// StatePending is the initial state of a freshly scheduled trial.
	StatePending RunState = iota

	// StateDirStructureCreated means the run directory tree exists.
	StateDirStructureCreated

	// StateWorktreeCreated means the isolated workspace exists at the
	// configured base commit.
	StateWorktreeCreated

	// StateSymlinksApplied means tier resource overlays have been placed
	// into the workspace.
	StateSymlinksApplied

	// StateConfigCommitted means the overlay files are committed into the
	// workspace history, so the agent sees them as pre-existing state.
	StateConfigCommitted

	// StateBaselineCaptured means the pristine-workspace build/lint/test
	// snapshot has been captured (or loaded from the subtest cache).
	StateBaselineCaptured

	// StatePromptWritten means the task prompt has been materialized.
	StatePromptWritten

	// StateReplayGenerated means the agent invocation has been persisted
	// as a reproducible replay script.
	StateReplayGenerated

	// StateAgentComplete means the agent subprocess finished (or its
	// failure was synthesized into a result).
	StateAgentComplete

	// StateDiffCaptured means the workspace diff has been captured.
	StateDiffCaptured

	// StateJudgePipelineRun means the validation pipeline ran against the
	// agent-modified workspace.
	StateJudgePipelineRun

	// StateJudgePromptBuilt means the shared judge prompt is on disk.
	StateJudgePromptBuilt

	// StateJudgeComplete means every configured judge slot has a result.
	StateJudgeComplete

	// StateRunFinalized means run_result.json has been written and the
	// checkpoint pre-seeded with the pass/fail status.
	StateRunFinalized

	// StateReportWritten means the human-facing reports are rendered.
	StateReportWritten

	// StateCheckpointed is the terminal success state.
	StateCheckpointed
)

var runStateNames = map[RunState]string{
	StatePending:             "PENDING",
	StateDirStructureCreated: "DIR_STRUCTURE_CREATED",
	StateWorktreeCreated:     "WORKTREE_CREATED",
	StateSymlinksApplied:     "SYMLINKS_APPLIED",
	StateConfigCommitted:     "CONFIG_COMMITTED",
	StateBaselineCaptured:    "BASELINE_CAPTURED",
	StatePromptWritten:       "PROMPT_WRITTEN",
	StateReplayGenerated:     "REPLAY_GENERATED",
	StateAgentComplete:       "AGENT_COMPLETE",
	StateDiffCaptured:        "DIFF_CAPTURED",
	StateJudgePipelineRun:    "JUDGE_PIPELINE_RUN",
	StateJudgePromptBuilt:    "JUDGE_PROMPT_BUILT",
	StateJudgeComplete:       "JUDGE_COMPLETE",
	StateRunFinalized:        "RUN_FINALIZED",
	StateReportWritten:       "REPORT_WRITTEN",
	StateCheckpointed:        "CHECKPOINTED",
}

// String returns the canonical upper-snake name of the state.
func (s RunState) String() string {
	if name, ok := runStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// Terminal reports whether the state is the terminal success state.
func (s RunState) Terminal() bool { return s == StateCheckpointed }

// Next returns the state that follows s in pipeline order.
// Calling Next on the terminal state returns the terminal state.
func (s RunState) Next() RunState {
	if s.Terminal() {
		return s
	}
	return s + 1
}

// ResourceClass tags a stage with the host-resource pool it must acquire
// before executing. The scheduler holds one semaphore per class, so the
// number of concurrently open worktrees, concurrent paid model calls,
// and concurrent build pipelines can each be tuned independently.
type ResourceClass string

const (
	// ClassIO covers cheap filesystem and git work.
	ClassIO ResourceClass = "io"

	// ClassModelCall covers paid external model invocations
	// (agent and judge subprocess/API calls).
	ClassModelCall ResourceClass = "model_call"

	// ClassBuildPipeline covers heavy local build/lint/test pipelines.
	ClassBuildPipeline ResourceClass = "build_pipeline"
)
