package application

import (
	"context"
	"log"
	"time"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
	"github.com/ahrav/go-gauntlet/internal/ratelimit"
	"github.com/ahrav/go-gauntlet/internal/scheduler"
)

// Engine drives trials through the stage pipeline. One Engine is shared
// by all workers; per-trial mutable state lives in RunContext.
type Engine struct {
	cfg    *ExperimentConfig
	layout domain.Layout

	agent     ports.AgentRunner
	judges    ports.JudgeRunner
	workspace ports.WorkspaceManager
	pipeline  ports.PipelineRunner

	checkpoint ports.CheckpointStore
	metrics    ports.MetricsCollector
	sched      *scheduler.Scheduler
	coord      *ratelimit.Coordinator
}

// EngineDeps bundles the collaborators injected into a new Engine.
type EngineDeps struct {
	Agent      ports.AgentRunner
	Judges     ports.JudgeRunner
	Workspace  ports.WorkspaceManager
	Pipeline   ports.PipelineRunner
	Checkpoint ports.CheckpointStore
	Metrics    ports.MetricsCollector
	Scheduler  *scheduler.Scheduler
	Coord      *ratelimit.Coordinator
}

// NewEngine assembles the execution engine.
func NewEngine(cfg *ExperimentConfig, deps EngineDeps) *Engine {
	return &Engine{
		cfg:        cfg,
		layout:     domain.Layout{Root: cfg.ResultsDir},
		agent:      deps.Agent,
		judges:     deps.Judges,
		workspace:  deps.Workspace,
		pipeline:   deps.Pipeline,
		checkpoint: deps.Checkpoint,
		metrics:    deps.Metrics,
		sched:      deps.Scheduler,
		coord:      deps.Coord,
	}
}

// Layout exposes the engine's artifact layout.
func (e *Engine) Layout() domain.Layout { return e.layout }

// NewRunContext builds the working context for one trial attempt.
func (e *Engine) NewRunContext(id domain.TrialID) (*RunContext, error) {
	ref, ok := e.cfg.FindSubtest(id.Tier, id.Subtest)
	if !ok {
		return nil, &domain.StageError{Trial: id, State: domain.StatePending, Err: domain.ErrInvalidConfiguration}
	}
	return newRunContext(id, ref.Tier, ref.Subtest), nil
}

// stage binds a target state to its resource class and implementation.
// Each implementation is idempotent: it first checks whether its on-disk
// artifact already exists and is well-formed, loading it instead of
// redoing the work. Artifact presence is the source of truth; the
// checkpoint is only a fast index. A crash between "artifact written"
// and "checkpoint saved" therefore never repeats a billed external call.
type stage struct {
	target domain.RunState
	class  domain.ResourceClass
	run    func(ctx context.Context, rc *RunContext) error
}

// stages returns the pipeline in execution order. The slice index of
// each stage is one less than its target state's ordinal.
func (e *Engine) stages() []stage {
	return []stage{
		{domain.StateDirStructureCreated, domain.ClassIO, e.stageCreateDirs},
		{domain.StateWorktreeCreated, domain.ClassIO, e.stageCreateWorktree},
		{domain.StateSymlinksApplied, domain.ClassIO, e.stageApplyOverlays},
		{domain.StateConfigCommitted, domain.ClassIO, e.stageCommitOverlays},
		{domain.StateBaselineCaptured, domain.ClassBuildPipeline, e.stageCaptureBaseline},
		{domain.StatePromptWritten, domain.ClassIO, e.stageWritePrompt},
		{domain.StateReplayGenerated, domain.ClassIO, e.stageGenerateReplay},
		{domain.StateAgentComplete, domain.ClassModelCall, e.stageRunAgent},
		{domain.StateDiffCaptured, domain.ClassIO, e.stageCaptureDiff},
		{domain.StateJudgePipelineRun, domain.ClassBuildPipeline, e.stageRunPipeline},
		{domain.StateJudgePromptBuilt, domain.ClassIO, e.stageBuildJudgePrompt},
		{domain.StateJudgeComplete, domain.ClassModelCall, e.stageRunJudges},
		{domain.StateRunFinalized, domain.ClassIO, e.stageFinalize},
		{domain.StateReportWritten, domain.ClassIO, e.stageWriteReport},
		{domain.StateCheckpointed, domain.ClassIO, e.stageCheckpoint},
	}
}

// Advance executes the next stage of the trial. On success the context
// moves to the stage's target state. Errors leave the context in its
// current state with all artifacts preserved; rate-limit errors
// propagate unchanged so the driver can pause the pool.
func (e *Engine) Advance(ctx context.Context, rc *RunContext) (domain.RunState, error) {
	if rc.State.Terminal() {
		return rc.State, nil
	}

	if err := e.coord.CheckIfPaused(ctx); err != nil {
		return rc.State, err
	}
	if e.coord.IsShutdownRequested() {
		return rc.State, domain.ErrShutdownRequested
	}

	st := e.stages()[int(rc.State)]
	start := time.Now()

	err := e.sched.WithClass(ctx, st.class, func() error { return st.run(ctx, rc) })
	if err != nil {
		if _, ok := domain.AsRateLimit(err); ok {
			return rc.State, err
		}
		return rc.State, &domain.StageError{Trial: rc.ID, State: st.target, Err: err}
	}

	if e.metrics != nil {
		e.metrics.RecordStageLatency(st.target, time.Since(start))
	}
	rc.State = st.target
	return rc.State, nil
}

// AdvanceToCompletion loops Advance until the trial reaches its terminal
// state or a stage fails.
func (e *Engine) AdvanceToCompletion(ctx context.Context, rc *RunContext) error {
	for !rc.State.Terminal() {
		prev := rc.State
		next, err := e.Advance(ctx, rc)
		if err != nil {
			return err
		}
		log.Printf("trial %s: %s -> %s", rc.ID, prev, next)
	}
	return nil
}
