// Package classify derives trial and judge-slot statuses purely from
// on-disk artifacts. The mapping is total: every constructible run
// directory lands in exactly one status, recomputed from file presence
// and size on every call, never cached. Both reporting and the selective
// rerun tooling are built on this single source of truth.
package classify

import (
	"github.com/spf13/afero"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// Classifier evaluates the status decision tables for one experiment.
type Classifier struct {
	// Fs is the filesystem holding the experiment tree.
	Fs afero.Fs

	// Layout locates artifacts under the experiment root.
	Layout domain.Layout
}

// exists reports plain file presence.
func (c Classifier) exists(path string) bool {
	ok, err := afero.Exists(c.Fs, path)
	return err == nil && ok
}

// nonEmpty reports presence with at least one byte of content.
func (c Classifier) nonEmpty(path string) bool {
	info, err := c.Fs.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func (c Classifier) dirExists(path string) bool {
	ok, err := afero.DirExists(c.Fs, path)
	return err == nil && ok
}

// ClassifyTrial assigns the trial its status. The decision table is
// evaluated top to bottom, first match wins:
//
//	COMPLETED  agent output non-empty, agent result, judge dir and final
//	           result all present
//	RESULTS    output/timing/command-log present but the parsed result or
//	           final result is missing (regenerable without the agent)
//	FAILED     stderr log present, output missing or empty
//	PARTIAL    agent dir present but missing some of output/timing/log
//	MISSING    anything else
func (c Classifier) ClassifyTrial(id domain.TrialID) domain.TrialStatus {
	output := c.Layout.AgentPath(id, domain.AgentOutputFile)
	result := c.Layout.AgentPath(id, domain.AgentResultFile)
	timing := c.Layout.AgentPath(id, domain.AgentTimingFile)
	commandLog := c.Layout.AgentPath(id, domain.AgentCommandLogFile)
	stderr := c.Layout.AgentPath(id, domain.AgentStderrFile)

	switch {
	case c.nonEmpty(output) &&
		c.exists(result) &&
		c.dirExists(c.Layout.JudgeDir(id)) &&
		c.exists(c.Layout.RunResultPath(id)):
		return domain.TrialCompleted

	case c.exists(output) && c.exists(timing) && c.exists(commandLog):
		// Agent finished; only derived records are missing.
		return domain.TrialResults

	case c.exists(stderr) && !c.nonEmpty(output):
		return domain.TrialFailed

	case c.dirExists(c.Layout.AgentDir(id)):
		return domain.TrialPartial

	default:
		return domain.TrialMissing
	}
}

// ClassifyJudgeSlot assigns one judge slot its status. An invalid agent
// side (anything but COMPLETED or RESULTS) dominates: the slot is
// AGENT_FAILED regardless of its own files.
func (c Classifier) ClassifyJudgeSlot(id domain.TrialID, slot int) domain.JudgeSlotStatus {
	switch c.ClassifyTrial(id) {
	case domain.TrialCompleted, domain.TrialResults:
	default:
		return domain.JudgeSlotAgentFailed
	}

	judgment := c.Layout.JudgeSlotPath(id, slot, domain.JudgeJudgmentFile)
	stderr := c.Layout.JudgeSlotPath(id, slot, domain.JudgeStderrFile)

	switch {
	case c.nonEmpty(judgment):
		return domain.JudgeSlotComplete
	case c.nonEmpty(stderr):
		return domain.JudgeSlotFailed
	default:
		return domain.JudgeSlotMissing
	}
}

// TrialClassification is one row of the classification table the rerun
// and dashboard tooling print before acting.
type TrialClassification struct {
	Trial  domain.TrialID           `json:"trial"`
	Status domain.TrialStatus       `json:"status"`
	Judges []domain.JudgeSlotStatus `json:"judges"`
}

// Table classifies a set of trials with judgeCount slots each.
func (c Classifier) Table(trials []domain.TrialID, judgeCount int) []TrialClassification {
	rows := make([]TrialClassification, 0, len(trials))
	for _, id := range trials {
		row := TrialClassification{Trial: id, Status: c.ClassifyTrial(id)}
		for slot := 1; slot <= judgeCount; slot++ {
			row.Judges = append(row.Judges, c.ClassifyJudgeSlot(id, slot))
		}
		rows = append(rows, row)
	}
	return rows
}
