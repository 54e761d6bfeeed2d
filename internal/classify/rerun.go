package classify

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// maxArchiveAttempts bounds the collision-safe numbering under .failed.
const maxArchiveAttempts = 100

// PrepareAgentRerun invalidates a trial for a full agent re-invocation.
// The existing run directory is moved wholesale into the sibling .failed
// tree, never deleted, and a fresh empty directory is created at the
// original path. The returned string is the archive location.
//
// Trials classified COMPLETED or RESULTS are refused: those hold good
// agent work and must go through the regenerate or judge-only paths.
// The refusal is an explicit logged no-op, not an error, so batch rerun
// tooling can sweep mixed sets safely.
func (c Classifier) PrepareAgentRerun(id domain.TrialID) (string, error) {
	status := c.ClassifyTrial(id)
	if !status.RerunsAgent() {
		log.Printf("refusing full agent rerun for %s: status %s holds recoverable agent output", id, status)
		return "", nil
	}

	runDir := c.Layout.RunDir(id)
	if !c.dirExists(runDir) {
		// Nothing to archive; just make room for the fresh attempt.
		if err := c.Fs.MkdirAll(runDir, 0o755); err != nil {
			return "", fmt.Errorf("creating run dir %s: %w", runDir, err)
		}
		return "", nil
	}

	dest, err := c.archiveDest(id)
	if err != nil {
		return "", err
	}
	if err := c.Fs.Rename(runDir, dest); err != nil {
		return "", fmt.Errorf("archiving %s to %s: %w", runDir, dest, err)
	}
	if err := c.Fs.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("recreating run dir %s: %w", runDir, err)
	}
	return dest, nil
}

// archiveDest picks the first free slot under .failed: run_NN, then
// run_NN_attempt01, run_NN_attempt02, ... so every prior attempt
// survives for audit.
func (c Classifier) archiveDest(id domain.TrialID) (string, error) {
	failedDir := c.Layout.FailedDir(id)
	if err := c.Fs.MkdirAll(failedDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", failedDir, err)
	}

	base := filepath.Join(failedDir, domain.RunDirName(id.Run))
	if !c.dirExists(base) && !c.exists(base) {
		return base, nil
	}
	for attempt := 1; attempt < maxArchiveAttempts; attempt++ {
		candidate := fmt.Sprintf("%s_attempt%02d", base, attempt)
		if !c.dirExists(candidate) && !c.exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free archive slot under %s for %s", failedDir, id)
}

// JudgeRerunSlots returns the judge slots of a trial that need
// re-judging: FAILED and MISSING slots on a judgeable trial. COMPLETE
// slots are left alone; AGENT_FAILED slots cannot be judged until the
// agent side is repaired.
func (c Classifier) JudgeRerunSlots(id domain.TrialID, judgeCount int) []int {
	var slots []int
	for slot := 1; slot <= judgeCount; slot++ {
		switch c.ClassifyJudgeSlot(id, slot) {
		case domain.JudgeSlotFailed, domain.JudgeSlotMissing:
			slots = append(slots, slot)
		}
	}
	return slots
}
