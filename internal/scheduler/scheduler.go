// Package scheduler bounds how many trials may concurrently execute each
// resource class of pipeline stage. Trial-pipeline correctness is fully
// decoupled from host-resource policy: the number of open worktrees,
// concurrent paid model calls, and concurrent build pipelines are each
// tuned independently without touching the state machine.
package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// Limits configures the per-class concurrency bounds.
// A zero or negative limit falls back to its default.
type Limits struct {
	// IO bounds cheap filesystem and git stages.
	IO int64 `yaml:"io" json:"io"`

	// ModelCalls bounds paid external model invocations.
	ModelCalls int64 `yaml:"model_calls" json:"model_calls"`

	// BuildPipelines bounds heavy local build/lint/test runs.
	BuildPipelines int64 `yaml:"build_pipelines" json:"build_pipelines"`
}

// DefaultLimits returns the limits used when configuration is silent.
func DefaultLimits() Limits {
	return Limits{IO: 16, ModelCalls: 4, BuildPipelines: 2}
}

// Scheduler holds one counting semaphore per resource class.
type Scheduler struct {
	sems map[domain.ResourceClass]*semaphore.Weighted
}

// New creates a scheduler with the given limits.
func New(limits Limits) *Scheduler {
	defaults := DefaultLimits()
	if limits.IO <= 0 {
		limits.IO = defaults.IO
	}
	if limits.ModelCalls <= 0 {
		limits.ModelCalls = defaults.ModelCalls
	}
	if limits.BuildPipelines <= 0 {
		limits.BuildPipelines = defaults.BuildPipelines
	}
	return &Scheduler{
		sems: map[domain.ResourceClass]*semaphore.Weighted{
			domain.ClassIO:            semaphore.NewWeighted(limits.IO),
			domain.ClassModelCall:     semaphore.NewWeighted(limits.ModelCalls),
			domain.ClassBuildPipeline: semaphore.NewWeighted(limits.BuildPipelines),
		},
	}
}

// WithClass acquires the class's semaphore, runs fn, and releases the
// slot regardless of fn's outcome. Acquisition blocks until a slot frees
// or the context is cancelled.
func (s *Scheduler) WithClass(ctx context.Context, class domain.ResourceClass, fn func() error) error {
	sem, ok := s.sems[class]
	if !ok {
		return fmt.Errorf("unknown resource class %q", class)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring %s slot: %w", class, err)
	}
	defer sem.Release(1)
	return fn()
}
