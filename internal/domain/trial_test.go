package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRunState_Ordering verifies the strict forward ordering of the
// pipeline states and that the terminal state absorbs Next.
func TestRunState_Ordering(t *testing.T) {
	order := []RunState{
		StatePending,
		StateDirStructureCreated,
		StateWorktreeCreated,
		StateSymlinksApplied,
		StateConfigCommitted,
		StateBaselineCaptured,
		StatePromptWritten,
		StateReplayGenerated,
		StateAgentComplete,
		StateDiffCaptured,
		StateJudgePipelineRun,
		StateJudgePromptBuilt,
		StateJudgeComplete,
		StateRunFinalized,
		StateReportWritten,
		StateCheckpointed,
	}

	for i := 0; i < len(order)-1; i++ {
		assert.Equal(t, order[i+1], order[i].Next(), "after %s", order[i])
		assert.False(t, order[i].Terminal())
	}
	assert.True(t, StateCheckpointed.Terminal())
	assert.Equal(t, StateCheckpointed, StateCheckpointed.Next())
}

// TestRunState_String verifies the canonical upper-snake names used in
// checkpoints and logs.
func TestRunState_String(t *testing.T) {
	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "JUDGE_PIPELINE_RUN", StateJudgePipelineRun.String())
	assert.Equal(t, "CHECKPOINTED", StateCheckpointed.String())
}

// TestTrialID_String verifies the canonical trial rendering.
func TestTrialID_String(t *testing.T) {
	id := TrialID{Tier: "T3", Subtest: "caching", Run: 7}
	assert.Equal(t, "T3/caching/run_07", id.String())
}

// TestLayout verifies the bit-exact artifact paths downstream tooling
// depends on.
func TestLayout(t *testing.T) {
	l := Layout{Root: "/exp"}
	id := TrialID{Tier: "T1", Subtest: "s1", Run: 2}

	assert.Equal(t, "/exp/T1/s1/run_02", l.RunDir(id))
	assert.Equal(t, "/exp/T1/s1/run_02/workspace", l.WorkspaceDir(id))
	assert.Equal(t, "/exp/T1/s1/run_02/agent/output.txt", l.AgentPath(id, AgentOutputFile))
	assert.Equal(t, "/exp/T1/s1/run_02/judge/judge_01/judgment.json", l.JudgeSlotPath(id, 1, JudgeJudgmentFile))
	assert.Equal(t, "/exp/T1/s1/run_02/judge/result.json", l.ConsensusPath(id))
	assert.Equal(t, "/exp/T1/s1/run_02/run_result.json", l.RunResultPath(id))
	assert.Equal(t, "/exp/T1/s1/baseline.json", l.BaselineCachePath(id))
	assert.Equal(t, "/exp/T1/s1/.failed", l.FailedDir(id))
	assert.Equal(t, "/exp/checkpoint.json", l.CheckpointPath())
}

// TestTrialStatus_RerunsAgent verifies the rerun-safety gate: trials with
// recoverable agent artifacts refuse a full agent re-invocation.
func TestTrialStatus_RerunsAgent(t *testing.T) {
	assert.False(t, TrialCompleted.RerunsAgent())
	assert.False(t, TrialResults.RerunsAgent())
	assert.True(t, TrialFailed.RerunsAgent())
	assert.True(t, TrialPartial.RerunsAgent())
	assert.True(t, TrialMissing.RerunsAgent())
}

// TestRateLimitInfo_BufferedWait verifies the 10% safety buffer applied
// to upstream retry-after declarations.
func TestRateLimitInfo_BufferedWait(t *testing.T) {
	info := RateLimitInfo{RetryAfterSeconds: 60}
	assert.Equal(t, float64(66), info.BufferedWait().Seconds())

	info.RetryAfterSeconds = 300
	assert.Equal(t, float64(330), info.BufferedWait().Seconds())
}
