package ratelimit

import (
	"context"
	"sync"

	"github.com/ahrav/go-gauntlet/internal/domain"
)

// Coordinator is the shared backpressure channel between workers. It
// exposes exactly four mutations: signal a rate limit, resume all
// workers, signal shutdown, and the blocking pause check. Workers
// consult it before and after every stage; in-flight subprocesses are
// never preemptively killed.
type Coordinator struct {
	mu       sync.Mutex
	paused   bool
	info     domain.RateLimitInfo
	resumeCh chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewCoordinator returns a coordinator in the running state.
func NewCoordinator() *Coordinator {
	return &Coordinator{shutdownCh: make(chan struct{})}
}

// SignalRateLimit publishes a rate-limit condition to every worker
// sharing the coordinator. It returns true if this call initiated the
// pause; concurrent signals while already paused return false so only
// one worker drives the checkpoint bookkeeping and the sleep.
func (c *Coordinator) SignalRateLimit(info domain.RateLimitInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return false
	}
	c.paused = true
	c.info = info
	c.resumeCh = make(chan struct{})
	return true
}

// CheckIfPaused blocks the calling worker while a rate-limit pause is
// active. It returns nil once resumed, ctx.Err on cancellation, or
// domain.ErrShutdownRequested if shutdown was signalled while waiting.
func (c *Coordinator) CheckIfPaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.paused {
			c.mu.Unlock()
			return nil
		}
		resumed := c.resumeCh
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.shutdownCh:
			return domain.ErrShutdownRequested
		case <-resumed:
			// Loop: a new pause may have started immediately after.
		}
	}
}

// ResumeAllWorkers clears the pause condition and releases every worker
// blocked in CheckIfPaused.
func (c *Coordinator) ResumeAllWorkers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
	c.resumeCh = nil
}

// Paused reports the active pause condition, if any.
func (c *Coordinator) Paused() (domain.RateLimitInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, c.paused
}

// SignalShutdown requests cooperative cancellation. Workers observe it
// between trials and between stages; nothing in flight is interrupted.
func (c *Coordinator) SignalShutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
}

// IsShutdownRequested reports whether shutdown has been signalled.
func (c *Coordinator) IsShutdownRequested() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}
