package application

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ahrav/go-gauntlet/internal/checkpoint"
	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
	"github.com/ahrav/go-gauntlet/internal/ratelimit"
	"github.com/ahrav/go-gauntlet/internal/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fake collaborators ---

type fakeAgent struct {
	mu      sync.Mutex
	calls   int
	results []domain.AgentResult

	// errs are returned alongside the scripted results, index for index.
	errs []error
}

func (f *fakeAgent) Run(_ context.Context, _ ports.AgentInvocation) (domain.AgentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) > 0 {
		r := f.results[0]
		var err error
		if len(f.errs) > 0 {
			err = f.errs[0]
			if len(f.errs) > 1 {
				f.errs = f.errs[1:]
			}
		}
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
		return r, err
	}
	return domain.AgentResult{ExitCode: 0, Stdout: "done\n", DurationS: 1.5, CostUSD: 0.25}, nil
}

func (f *fakeAgent) ReplayScript(inv ports.AgentInvocation) string {
	return "#!/bin/sh\nagent --model " + inv.Model + " < " + inv.PromptPath + "\n"
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeJudge struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeJudge) Judge(_ context.Context, _, _, model string) (ports.Judgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return ports.Judgment{
		Score: 0.9, Passed: true, Reasoning: "looks correct", IsValid: true,
		RawResponse: `{"score":0.9,"passed":true}`,
	}, nil
}

func (f *fakeJudge) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWorkspace struct {
	mu       sync.Mutex
	cleanups int
}

func (f *fakeWorkspace) CreateWorktree(_ context.Context, dest, _, _ string) error {
	return os.MkdirAll(dest, 0o755)
}

func (f *fakeWorkspace) CaptureDiff(_ context.Context, _ string) (domain.CapturedDiff, error) {
	return domain.CapturedDiff{Diff: "diff --git a/x b/x\n+change\n", Status: "M x"}, nil
}

func (f *fakeWorkspace) CommitAll(_ context.Context, _, _ string) error  { return nil }
func (f *fakeWorkspace) ApplyPatch(_ context.Context, _, _ string) error { return nil }
func (f *fakeWorkspace) CleanupWorktree(_ context.Context, dir string) error {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
	return os.RemoveAll(dir)
}

type fakePipeline struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePipeline) Run(_ context.Context, _, _ string) (domain.PipelineResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return domain.PipelineResult{BuildPassed: true, FormatPassed: true, TestPassed: true, AllPassed: true}, nil
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- harness assembly ---

type testHarness struct {
	cfg    *ExperimentConfig
	engine *Engine
	coord  *ratelimit.Coordinator
	store  *checkpoint.Store

	agent     *fakeAgent
	judge     *fakeJudge
	workspace *fakeWorkspace
	pipeline  *fakePipeline
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	root := t.TempDir()

	promptPath := filepath.Join(root, "prompt.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("Do the task.\n"), 0o644))

	cfg := &ExperimentConfig{
		Name:           "test-exp",
		ResultsDir:     filepath.Join(root, "results"),
		RepoPath:       root,
		BaseCommit:     "abc123",
		RunsPerSubtest: 1,
		Language:       "go",
		Agent:          AgentConfig{Command: "agent", Model: "test-model", TimeoutSeconds: 60},
		Judges: []JudgeConfig{
			{Provider: "anthropic", Model: "judge-a"},
			{Provider: "openai", Model: "judge-b"},
		},
		Workers: 2,
		Tiers: []TierConfig{
			{ID: "T1", Subtests: []SubtestConfig{{ID: "caching", PromptPath: promptPath}}},
		},
	}

	store, err := checkpoint.Create(afero.NewMemMapFs(), "/checkpoint.json", "exp-01", "fp")
	require.NoError(t, err)

	h := &testHarness{
		cfg:       cfg,
		coord:     ratelimit.NewCoordinator(),
		store:     store,
		agent:     &fakeAgent{},
		judge:     &fakeJudge{},
		workspace: &fakeWorkspace{},
		pipeline:  &fakePipeline{},
	}
	h.engine = NewEngine(cfg, EngineDeps{
		Agent:      h.agent,
		Judges:     h.judge,
		Workspace:  h.workspace,
		Pipeline:   h.pipeline,
		Checkpoint: store,
		Scheduler:  scheduler.New(scheduler.DefaultLimits()),
		Coord:      h.coord,
	})
	return h
}

func (h *testHarness) trialID() domain.TrialID {
	return domain.TrialID{Tier: "T1", Subtest: "caching", Run: 1}
}

// rateLimitedResult mimics a streamed agent error record.
func rateLimitedResult() domain.AgentResult {
	return domain.AgentResult{
		ExitCode:  1,
		Stdout:    `{"is_error":true,"error":"rate limit exceeded, retry-after: 60"}` + "\n",
		DurationS: 0.2,
	}
}

// --- tests ---

func TestEngineAdvanceToCompletion(t *testing.T) {
	h := newTestHarness(t)
	id := h.trialID()

	rc, err := h.engine.NewRunContext(id)
	require.NoError(t, err)
	require.NoError(t, h.engine.AdvanceToCompletion(context.Background(), rc))
	assert.Equal(t, domain.StateCheckpointed, rc.State)

	layout := h.engine.Layout()
	for _, path := range []string{
		layout.AgentPath(id, domain.AgentResultFile),
		layout.AgentPath(id, domain.AgentOutputFile),
		layout.AgentPath(id, domain.AgentReplayFile),
		layout.RunPath(id, domain.JudgePromptFile),
		layout.JudgeSlotPath(id, 1, domain.JudgeJudgmentFile),
		layout.JudgeSlotPath(id, 1, domain.JudgeStdoutFile),
		layout.JudgeSlotPath(id, 2, domain.JudgeJudgmentFile),
		layout.ConsensusPath(id),
		layout.RunResultPath(id),
		layout.RunPath(id, domain.ReportMDFile),
	} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Positive(t, info.Size(), path)
	}

	assert.Equal(t, 1, h.agent.callCount())
	assert.Equal(t, 2, h.judge.callCount(), "one call per judge slot")
	assert.Equal(t, 2, h.pipeline.callCount(), "baseline plus post-agent")

	done, passed := h.store.IsCompleted(id)
	assert.True(t, done)
	assert.True(t, passed)

	// Passed trials release their workspace.
	_, err = os.Stat(layout.WorkspaceDir(id))
	assert.True(t, os.IsNotExist(err))
}

func TestEngineResumeReplaysArtifacts(t *testing.T) {
	h := newTestHarness(t)
	id := h.trialID()

	rc, err := h.engine.NewRunContext(id)
	require.NoError(t, err)
	require.NoError(t, h.engine.AdvanceToCompletion(context.Background(), rc))

	// A fresh context simulates a restarted process. Every stage must
	// load its persisted artifact instead of repeating external calls.
	rc2, err := h.engine.NewRunContext(id)
	require.NoError(t, err)
	require.NoError(t, h.engine.AdvanceToCompletion(context.Background(), rc2))

	assert.Equal(t, 1, h.agent.callCount(), "agent must not be re-invoked on resume")
	assert.Equal(t, 2, h.judge.callCount(), "judges must not be re-invoked on resume")
	assert.Equal(t, 2, h.pipeline.callCount(), "pipeline results must be replayed from disk")
	assert.False(t, rc2.AgentReran)
}

func TestEngineRateLimitPropagates(t *testing.T) {
	h := newTestHarness(t)
	h.agent.results = []domain.AgentResult{rateLimitedResult()}
	id := h.trialID()

	rc, err := h.engine.NewRunContext(id)
	require.NoError(t, err)
	err = h.engine.AdvanceToCompletion(context.Background(), rc)

	rle, ok := domain.AsRateLimit(err)
	require.True(t, ok, "expected a rate-limit error, got %v", err)
	assert.Equal(t, domain.SourceAgent, rle.Info.Source)
	assert.Equal(t, 60, rle.Info.RetryAfterSeconds)

	// The limited attempt must leave no success artifacts so the retry
	// re-invokes the agent, while the diagnostic logs are preserved.
	layout := h.engine.Layout()
	assert.NoFileExists(t, layout.AgentPath(id, domain.AgentResultFile))
	assert.NoFileExists(t, layout.AgentPath(id, domain.AgentOutputFile))
	assert.FileExists(t, layout.AgentPath(id, domain.AgentStdoutFile))
}

func TestEngineTimedOutAgentKeepsOutputAndDetectsRateLimit(t *testing.T) {
	h := newTestHarness(t)
	h.agent.results = []domain.AgentResult{{
		ExitCode:     -1,
		Stderr:       "HTTP 429 Too Many Requests\n",
		TimedOut:     true,
		ErrorMessage: "agent exceeded 1m0s timeout",
		DurationS:    60,
	}}
	h.agent.errs = []error{domain.ErrAgentTimeout}
	id := h.trialID()

	rc, err := h.engine.NewRunContext(id)
	require.NoError(t, err)
	err = h.engine.AdvanceToCompletion(context.Background(), rc)

	// The output captured before the timeout carries the evidence; the
	// trial must pause the pool, not finalize as an ordinary failure.
	rle, ok := domain.AsRateLimit(err)
	require.True(t, ok, "expected a rate-limit error, got %v", err)
	assert.Equal(t, domain.SourceAgent, rle.Info.Source)

	layout := h.engine.Layout()
	data, readErr := os.ReadFile(layout.AgentPath(id, domain.AgentStderrFile))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "429", "captured stderr must survive the timeout")
	assert.NoFileExists(t, layout.AgentPath(id, domain.AgentResultFile))
}

func TestEngineStageFailureWrapsStageError(t *testing.T) {
	h := newTestHarness(t)
	id := domain.TrialID{Tier: "T9", Subtest: "missing", Run: 1}

	_, err := h.engine.NewRunContext(id)
	require.Error(t, err)
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestEngineShutdownStopsBetweenStages(t *testing.T) {
	h := newTestHarness(t)
	h.coord.SignalShutdown()

	rc, err := h.engine.NewRunContext(h.trialID())
	require.NoError(t, err)
	_, err = h.engine.Advance(context.Background(), rc)
	assert.ErrorIs(t, err, domain.ErrShutdownRequested)
	assert.Equal(t, domain.StatePending, rc.State)
	assert.Equal(t, 0, h.agent.callCount())
}
