package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// TestScheduler_BoundsConcurrencyPerClass verifies that no more than the
// configured number of callers run a class simultaneously.
func TestScheduler_BoundsConcurrencyPerClass(t *testing.T) {
	s := New(Limits{IO: 16, ModelCalls: 2, BuildPipelines: 1})

	var active, peak int64
	var wg sync.WaitGroup
	gate := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithClass(context.Background(), domain.ClassModelCall, func() error {
				n := atomic.AddInt64(&active, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				<-gate
				atomic.AddInt64(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	close(gate)
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

// TestScheduler_ReleasesOnError verifies the slot is released when fn
// fails, so the class does not leak capacity.
func TestScheduler_ReleasesOnError(t *testing.T) {
	s := New(Limits{BuildPipelines: 1})
	boom := errors.New("pipeline exploded")

	err := s.WithClass(context.Background(), domain.ClassBuildPipeline, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// The slot must be free again.
	err = s.WithClass(context.Background(), domain.ClassBuildPipeline, func() error { return nil })
	assert.NoError(t, err)
}

// TestScheduler_UnknownClass verifies the error path for an unmapped
// resource class.
func TestScheduler_UnknownClass(t *testing.T) {
	s := New(DefaultLimits())
	err := s.WithClass(context.Background(), domain.ResourceClass("gpu"), func() error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource class")
}

// TestScheduler_ContextCancellation verifies acquisition respects
// cancellation while blocked.
func TestScheduler_ContextCancellation(t *testing.T) {
	s := New(Limits{BuildPipelines: 1})

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.WithClass(context.Background(), domain.ClassBuildPipeline, func() error {
			<-release
			return nil
		})
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithClass(ctx, domain.ClassBuildPipeline, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	<-done
}
