package domain

import (
	"fmt"
	"path/filepath"
)

// Canonical artifact file names within a run directory. Downstream
// tooling depends on these bit-exactly; change nothing casually.
const (
	AgentPromptFile     = "prompt.md"
	AgentReplayFile     = "replay.sh"
	AgentStdoutFile     = "stdout.log"
	AgentStderrFile     = "stderr.log"
	AgentOutputFile     = "output.txt"
	AgentResultFile     = "result.json"
	AgentTimingFile     = "timing.json"
	AgentCommandLogFile = "command_log.json"
	AgentModelFile      = "MODEL.md"

	JudgeResponseFile  = "response.txt"
	JudgeJudgmentFile  = "judgment.json"
	JudgeTimingFile    = "timing.json"
	JudgeStdoutFile    = "stdout.log"
	JudgeStderrFile    = "stderr.log"
	JudgeModelFile     = "MODEL.md"
	JudgeConsensusFile = "result.json"

	RunResultFile   = "run_result.json"
	ReportMDFile    = "report.md"
	ReportJSONFile  = "report.json"
	JudgePromptFile = "judge_prompt.md"
	TaskPromptFile  = "task_prompt.md"

	WorkspaceDirName = "workspace"
	AgentDirName     = "agent"
	JudgeDirName     = "judge"
	FailedDirName    = ".failed"

	BaselineCacheFile = "baseline.json"
	CheckpointFile    = "checkpoint.json"
)

// Layout computes every artifact path of an experiment from its root
// directory. It is a pure value; all path math lives here so the state
// machine, classifier and report renderer agree byte for byte.
type Layout struct {
	// Root is the experiment root directory.
	Root string
}

// RunDirName renders the canonical run directory basename.
func RunDirName(run int) string { return fmt.Sprintf("run_%02d", run) }

// JudgeSlotDirName renders the canonical judge slot directory basename.
func JudgeSlotDirName(slot int) string { return fmt.Sprintf("judge_%02d", slot) }

// SubtestDir returns the directory holding all runs of one subtest.
func (l Layout) SubtestDir(tier, subtest string) string {
	return filepath.Join(l.Root, tier, subtest)
}

// RunDir returns the trial's run directory.
func (l Layout) RunDir(id TrialID) string {
	return filepath.Join(l.SubtestDir(id.Tier, id.Subtest), RunDirName(id.Run))
}

// WorkspaceDir returns the trial's isolated workspace (a git worktree).
func (l Layout) WorkspaceDir(id TrialID) string {
	return filepath.Join(l.RunDir(id), WorkspaceDirName)
}

// AgentDir returns the trial's agent artifact directory.
func (l Layout) AgentDir(id TrialID) string {
	return filepath.Join(l.RunDir(id), AgentDirName)
}

// AgentPath returns the path of an agent artifact by file name.
func (l Layout) AgentPath(id TrialID, name string) string {
	return filepath.Join(l.AgentDir(id), name)
}

// JudgeDir returns the trial's judge artifact directory.
func (l Layout) JudgeDir(id TrialID) string {
	return filepath.Join(l.RunDir(id), JudgeDirName)
}

// JudgeSlotDir returns the artifact directory of one judge slot.
func (l Layout) JudgeSlotDir(id TrialID, slot int) string {
	return filepath.Join(l.JudgeDir(id), JudgeSlotDirName(slot))
}

// JudgeSlotPath returns the path of a judge slot artifact by file name.
func (l Layout) JudgeSlotPath(id TrialID, slot int, name string) string {
	return filepath.Join(l.JudgeSlotDir(id, slot), name)
}

// ConsensusPath returns the trial's aggregated judge result file.
func (l Layout) ConsensusPath(id TrialID) string {
	return filepath.Join(l.JudgeDir(id), JudgeConsensusFile)
}

// RunResultPath returns the trial's terminal result artifact.
func (l Layout) RunResultPath(id TrialID) string {
	return filepath.Join(l.RunDir(id), RunResultFile)
}

// RunPath returns the path of a run-level artifact by file name.
func (l Layout) RunPath(id TrialID, name string) string {
	return filepath.Join(l.RunDir(id), name)
}

// BaselineCachePath returns the per-subtest baseline snapshot, shared by
// all trials of the subtest.
func (l Layout) BaselineCachePath(id TrialID) string {
	return filepath.Join(l.SubtestDir(id.Tier, id.Subtest), BaselineCacheFile)
}

// FailedDir returns the sibling directory that archives invalidated run
// directories for audit.
func (l Layout) FailedDir(id TrialID) string {
	return filepath.Join(l.SubtestDir(id.Tier, id.Subtest), FailedDirName)
}

// CheckpointPath returns the experiment-wide checkpoint file.
func (l Layout) CheckpointPath() string {
	return filepath.Join(l.Root, CheckpointFile)
}

// TaskPromptSharePath returns the experiment-level shared copy of a task
// prompt; run directories symlink to it to avoid duplication.
func (l Layout) TaskPromptSharePath(tier, subtest string) string {
	return filepath.Join(l.SubtestDir(tier, subtest), TaskPromptFile)
}
