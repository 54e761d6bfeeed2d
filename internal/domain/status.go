package domain

// TrialStatus is the post-hoc classification of a trial directory,
// computed purely from file presence and size. Every constructible
// directory maps to exactly one status.
type TrialStatus string

const (
	// TrialCompleted means agent output, agent result, the judge
	// directory and the final result file all exist.
	TrialCompleted TrialStatus = "COMPLETED"

	// TrialResults means the agent ran to completion (output, timing and
	// command log exist) but the parsed result or final result file is
	// missing. Regenerable from logs without re-invoking the agent.
	TrialResults TrialStatus = "RESULTS"

	// TrialFailed means a stderr log exists and agent output is missing
	// or empty.
	TrialFailed TrialStatus = "FAILED"

	// TrialPartial means the agent directory exists but lacks some of
	// output, timing, or the command log.
	TrialPartial TrialStatus = "PARTIAL"

	// TrialMissing means no agent directory was found.
	TrialMissing TrialStatus = "MISSING"
)

// JudgeSlotStatus classifies one judge slot of a trial.
type JudgeSlotStatus string

const (
	// JudgeSlotComplete means the slot holds a well-formed judgment.
	JudgeSlotComplete JudgeSlotStatus = "COMPLETE"

	// JudgeSlotMissing means the slot has not been judged.
	JudgeSlotMissing JudgeSlotStatus = "MISSING"

	// JudgeSlotFailed means the judge ran and left an error trail but no
	// judgment.
	JudgeSlotFailed JudgeSlotStatus = "FAILED"

	// JudgeSlotAgentFailed means the agent side of the trial is invalid,
	// so the slot cannot be judged at all. Takes priority over the
	// per-slot statuses.
	JudgeSlotAgentFailed JudgeSlotStatus = "AGENT_FAILED"
)

// RerunsAgent reports whether trials with this status are eligible for a
// full agent re-invocation. COMPLETED and RESULTS trials are protected:
// they must go through the lighter regenerate or judge-only paths.
func (s TrialStatus) RerunsAgent() bool {
	return s != TrialCompleted && s != TrialResults
}
