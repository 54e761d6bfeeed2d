package classify

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// osClassifier uses a real temp directory; MemMapFs renames do not move
// directory children, and PrepareAgentRerun moves whole trees.
func osClassifier(t *testing.T) Classifier {
	t.Helper()
	return Classifier{Fs: afero.NewOsFs(), Layout: domain.Layout{Root: t.TempDir()}}
}

// TestPrepareAgentRerun_RefusesRecoverableTrials verifies the safety
// invariant: a COMPLETED or RESULTS trial is a logged no-op and its
// files are untouched.
func TestPrepareAgentRerun_RefusesRecoverableTrials(t *testing.T) {
	c := osClassifier(t)
	writeCompleted(t, c)

	dest, err := c.PrepareAgentRerun(trial)
	require.NoError(t, err)
	assert.Empty(t, dest)

	// Original artifacts still in place.
	assert.Equal(t, domain.TrialCompleted, c.ClassifyTrial(trial))
	ok, _ := afero.Exists(c.Fs, c.Layout.RunResultPath(trial))
	assert.True(t, ok)
}

// TestPrepareAgentRerun_ArchivesFailedTrial verifies the forced-retry
// preservation property: the directory moves under .failed and a fresh
// empty one appears at the original path.
func TestPrepareAgentRerun_ArchivesFailedTrial(t *testing.T) {
	c := osClassifier(t)
	write(t, c, c.Layout.AgentPath(trial, domain.AgentStderrFile), "boom")

	dest, err := c.PrepareAgentRerun(trial)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Layout.FailedDir(trial), "run_01"), dest)

	// Archived stderr survives; the fresh run dir is empty.
	archived := filepath.Join(dest, domain.AgentDirName, domain.AgentStderrFile)
	data, err := afero.ReadFile(c.Fs, archived)
	require.NoError(t, err)
	assert.Equal(t, "boom", string(data))

	assert.Equal(t, domain.TrialMissing, c.ClassifyTrial(trial))
	entries, err := afero.ReadDir(c.Fs, c.Layout.RunDir(trial))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestPrepareAgentRerun_CollisionSafeNumbering verifies that repeated
// forced retries never overwrite a prior archived attempt.
func TestPrepareAgentRerun_CollisionSafeNumbering(t *testing.T) {
	c := osClassifier(t)

	write(t, c, c.Layout.AgentPath(trial, domain.AgentStderrFile), "first")
	first, err := c.PrepareAgentRerun(trial)
	require.NoError(t, err)

	write(t, c, c.Layout.AgentPath(trial, domain.AgentStderrFile), "second")
	second, err := c.PrepareAgentRerun(trial)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(c.Layout.FailedDir(trial), "run_01"), first)
	assert.Equal(t, filepath.Join(c.Layout.FailedDir(trial), "run_01_attempt01"), second)

	data, err := afero.ReadFile(c.Fs, filepath.Join(first, domain.AgentDirName, domain.AgentStderrFile))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

// TestPrepareAgentRerun_MissingTrial verifies the no-archive path when
// nothing exists yet.
func TestPrepareAgentRerun_MissingTrial(t *testing.T) {
	c := osClassifier(t)

	dest, err := c.PrepareAgentRerun(trial)
	require.NoError(t, err)
	assert.Empty(t, dest)

	ok, _ := afero.DirExists(c.Fs, c.Layout.RunDir(trial))
	assert.True(t, ok)
}

// TestJudgeRerunSlots verifies selection of only the re-judgeable slots.
func TestJudgeRerunSlots(t *testing.T) {
	c := osClassifier(t)
	writeCompleted(t, c)
	write(t, c, c.Layout.JudgeSlotPath(trial, 1, domain.JudgeJudgmentFile), `{"score":1}`)
	write(t, c, c.Layout.JudgeSlotPath(trial, 2, domain.JudgeStderrFile), "crash")

	assert.Equal(t, []int{2, 3}, c.JudgeRerunSlots(trial, 3))

	// An agent-failed trial has no judgeable slots.
	broken := domain.TrialID{Tier: "T1", Subtest: "s9", Run: 1}
	write(t, c, c.Layout.AgentPath(broken, domain.AgentStderrFile), "boom")
	assert.Nil(t, c.JudgeRerunSlots(broken, 3))
}
