package cmd

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/ahrav/go-gauntlet/infrastructure/agents"
	"github.com/ahrav/go-gauntlet/infrastructure/judges"
	"github.com/ahrav/go-gauntlet/infrastructure/middleware"
	"github.com/ahrav/go-gauntlet/infrastructure/pipeline"
	"github.com/ahrav/go-gauntlet/infrastructure/workspace"
	"github.com/ahrav/go-gauntlet/internal/application"
	"github.com/ahrav/go-gauntlet/internal/checkpoint"
	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ratelimit"
	"github.com/ahrav/go-gauntlet/internal/scheduler"
)

// apiKeyEnv maps judge providers to their credential environment variable.
var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GEMINI_API_KEY",
}

// harness bundles everything a command needs to execute trials.
type harness struct {
	cfg    *application.ExperimentConfig
	engine *application.Engine
	driver *application.Driver
	coord  *ratelimit.Coordinator
	store  *checkpoint.Store
}

// newExperimentID mints a lexicographically sortable run identifier.
func newExperimentID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return "exp_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// openHarness loads the config and assembles the full execution stack.
// With requireCheckpoint, a missing checkpoint is an error instead of a
// fresh start.
func openHarness(requireCheckpoint bool) (*harness, error) {
	cfg, err := application.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	layout := domain.Layout{Root: cfg.ResultsDir}
	if err := fs.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results dir: %w", err)
	}

	var store *checkpoint.Store
	_, loadErr := checkpoint.Load(fs, layout.CheckpointPath())
	switch {
	case loadErr == nil:
		store, err = checkpoint.Open(fs, layout.CheckpointPath(), fingerprint)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Resuming experiment (%d trials already completed)\n", store.Snapshot().CompletedCount())
	case errors.Is(loadErr, domain.ErrCheckpointNotFound):
		if requireCheckpoint {
			return nil, fmt.Errorf("no checkpoint at %s: nothing to resume", layout.CheckpointPath())
		}
		store, err = checkpoint.Create(fs, layout.CheckpointPath(), newExperimentID(), fingerprint)
		if err != nil {
			return nil, err
		}
	default:
		return nil, loadErr
	}

	judgeModels := make([]judges.ModelConfig, 0, len(cfg.Judges))
	for _, j := range cfg.Judges {
		key := os.Getenv(apiKeyEnv[j.Provider])
		if key == "" {
			return nil, fmt.Errorf("judge %s/%s: %s is not set", j.Provider, j.Model, apiKeyEnv[j.Provider])
		}
		judgeModels = append(judgeModels, judges.ModelConfig{Provider: j.Provider, Model: j.Model, APIKey: key})
	}
	judgeRunner, err := judges.NewRunner(judgeModels, judges.DefaultOptions())
	if err != nil {
		return nil, err
	}

	coord := ratelimit.NewCoordinator()
	engine := application.NewEngine(cfg, application.EngineDeps{
		Agent:      agents.NewRunner(cfg.Agent.Command),
		Judges:     judgeRunner,
		Workspace:  workspace.NewManager(cfg.RepoPath),
		Pipeline:   pipeline.NewRunner(),
		Checkpoint: store,
		Metrics:    middleware.NewPrometheusMetrics(nil),
		Scheduler:  scheduler.New(cfg.Scheduler),
		Coord:      coord,
	})

	return &harness{
		cfg:    cfg,
		engine: engine,
		driver: application.NewDriver(engine, coord),
		coord:  coord,
		store:  store,
	}, nil
}

// installInterruptHandler arranges cooperative shutdown: the first
// SIGINT asks workers to stop between stages, a second forces exit.
func (h *harness) installInterruptHandler() func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt: finishing in-flight stages, press Ctrl-C again to force quit")
		h.coord.SignalShutdown()
		<-sigCh
		os.Exit(130)
	}()

	return func() { signal.Stop(sigCh) }
}
