package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestCoordinator_PauseBlocksWorkers verifies that one worker's signal
// blocks every worker until resume, and that only the first signaler is
// told it initiated the pause.
func TestCoordinator_PauseBlocksWorkers(t *testing.T) {
	c := NewCoordinator()
	info := domain.RateLimitInfo{Source: domain.SourceAgent, RetryAfterSeconds: 60}

	assert.True(t, c.SignalRateLimit(info))
	assert.False(t, c.SignalRateLimit(info), "second signal while paused must not own the pause")

	got, paused := c.Paused()
	require.True(t, paused)
	assert.Equal(t, 60, got.RetryAfterSeconds)

	var wg sync.WaitGroup
	released := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.CheckIfPaused(context.Background()))
			released <- struct{}{}
		}()
	}

	// Workers must still be blocked before resume.
	select {
	case <-released:
		t.Fatal("worker released before resume")
	case <-time.After(50 * time.Millisecond):
	}

	c.ResumeAllWorkers()
	wg.Wait()
	assert.Len(t, released, 3)

	_, paused = c.Paused()
	assert.False(t, paused)
}

// TestCoordinator_CheckIfPausedWhenRunning verifies the fast path.
func TestCoordinator_CheckIfPausedWhenRunning(t *testing.T) {
	c := NewCoordinator()
	assert.NoError(t, c.CheckIfPaused(context.Background()))
}

// TestCoordinator_ShutdownReleasesWaiters verifies that shutdown frees a
// worker blocked on a pause with the distinguished error.
func TestCoordinator_ShutdownReleasesWaiters(t *testing.T) {
	c := NewCoordinator()
	c.SignalRateLimit(domain.RateLimitInfo{RetryAfterSeconds: 3600})

	errCh := make(chan error, 1)
	go func() { errCh <- c.CheckIfPaused(context.Background()) }()

	c.SignalShutdown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrShutdownRequested)
	case <-time.After(time.Second):
		t.Fatal("worker not released by shutdown")
	}

	assert.True(t, c.IsShutdownRequested())
	// Cleanup so goleak sees no pending waiters.
	c.ResumeAllWorkers()
}

// TestCoordinator_ContextCancellation verifies that a cancelled context
// releases a blocked worker.
func TestCoordinator_ContextCancellation(t *testing.T) {
	c := NewCoordinator()
	c.SignalRateLimit(domain.RateLimitInfo{RetryAfterSeconds: 3600})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.CheckIfPaused(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker not released by cancellation")
	}
	c.ResumeAllWorkers()
}

// TestCoordinator_RepeatedCycles verifies pause/resume can repeat.
func TestCoordinator_RepeatedCycles(t *testing.T) {
	c := NewCoordinator()
	for i := 0; i < 3; i++ {
		require.True(t, c.SignalRateLimit(domain.RateLimitInfo{RetryAfterSeconds: 1}))
		c.ResumeAllWorkers()
		require.NoError(t, c.CheckIfPaused(context.Background()))
	}
}
