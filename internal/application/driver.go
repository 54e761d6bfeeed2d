package application

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-gauntlet/internal/checkpoint"
	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ratelimit"
	"github.com/ahrav/go-gauntlet/internal/report"
)

// Driver owns the worker pool. One worker per subtest, up to the
// configured limit; trials within a subtest run sequentially so the
// baseline cache and delegated-subtest references need no locking.
type Driver struct {
	engine *Engine
	cfg    *ExperimentConfig
	coord  *ratelimit.Coordinator

	// sleep is replaceable in tests so pause cycles do not wall-wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDriver assembles the experiment driver around an engine.
func NewDriver(engine *Engine, coord *ratelimit.Coordinator) *Driver {
	return &Driver{
		engine: engine,
		cfg:    engine.cfg,
		coord:  coord,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes every incomplete trial of the experiment. It returns nil
// when all trials reached their terminal state, ErrShutdownRequested on
// cooperative interrupt, or the first hard trial failure.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.engine.checkpoint.SetLifecycle(checkpoint.StatusRunning); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, ref := range d.cfg.Subtests() {
		ref := ref
		g.Go(func() error { return d.runSubtest(gctx, ref) })
	}

	err := g.Wait()
	switch {
	case err == nil:
		if lifecycleErr := d.engine.checkpoint.SetLifecycle(checkpoint.StatusCompleted); lifecycleErr != nil {
			return lifecycleErr
		}
		return d.writeSummary()
	case errors.Is(err, domain.ErrShutdownRequested) || errors.Is(err, context.Canceled):
		if lifecycleErr := d.engine.checkpoint.SetLifecycle(checkpoint.StatusInterrupted); lifecycleErr != nil {
			log.Printf("recording interrupt: %v", lifecycleErr)
		}
		return domain.ErrShutdownRequested
	default:
		return err
	}
}

// runSubtest drives the trials of one subtest to completion, in order.
func (d *Driver) runSubtest(ctx context.Context, ref SubtestRef) error {
	for run := 1; run <= d.cfg.RunsPerSubtest; run++ {
		id := domain.TrialID{Tier: ref.Tier.ID, Subtest: ref.Subtest.ID, Run: run}

		if done, _ := d.engine.checkpoint.IsCompleted(id); done {
			log.Printf("trial %s: already completed, skipping", id)
			continue
		}
		if err := d.runTrial(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// runTrial advances one trial to its terminal state, retrying after each
// rate-limit pause cycle. The retry restarts from PENDING; every stage
// replays its persisted artifacts, so only the interrupted external call
// is actually repeated.
func (d *Driver) runTrial(ctx context.Context, id domain.TrialID) error {
	for {
		rc, err := d.engine.NewRunContext(id)
		if err != nil {
			return err
		}

		err = d.engine.AdvanceToCompletion(ctx, rc)
		if err == nil {
			return nil
		}

		if rle, ok := domain.AsRateLimit(err); ok {
			if pauseErr := d.handleRateLimit(ctx, rle.Info); pauseErr != nil {
				return pauseErr
			}
			continue
		}
		return err
	}
}

// handleRateLimit coordinates the pool-wide pause. Exactly one worker,
// the pause initiator, records the pause, sleeps out the buffered wait
// and releases the pool; every other worker parks in CheckIfPaused.
func (d *Driver) handleRateLimit(ctx context.Context, info domain.RateLimitInfo) error {
	if !d.coord.SignalRateLimit(info) {
		return d.coord.CheckIfPaused(ctx)
	}

	wait := info.BufferedWait()
	log.Printf("rate limit from %s: pausing all workers for %s (%q)",
		info.Source, wait, info.ErrorMessage)

	if err := d.engine.checkpoint.RecordPause(info); err != nil {
		log.Printf("recording pause: %v", err)
	}
	if d.engine.metrics != nil {
		d.engine.metrics.RecordRateLimitPause(info.Source)
	}

	if err := d.sleep(ctx, wait); err != nil {
		// Interrupted mid-pause: release the pool so workers observe the
		// cancellation instead of blocking forever.
		d.coord.ResumeAllWorkers()
		return err
	}

	if err := d.engine.checkpoint.RecordResume(); err != nil {
		log.Printf("recording resume: %v", err)
	}
	d.coord.ResumeAllWorkers()
	log.Printf("rate limit pause over, resuming all workers")
	return nil
}

// writeSummary loads every terminal run result and renders the
// experiment summary.
func (d *Driver) writeSummary() error {
	var results []domain.RunResult
	for _, id := range d.cfg.Trials() {
		result, err := readJSONFile[domain.RunResult](d.engine.layout.RunResultPath(id))
		if err != nil {
			continue
		}
		results = append(results, result)
	}
	return report.WriteExperimentSummary(d.engine.layout, d.cfg.Name, results)
}
