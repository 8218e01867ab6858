// Package admission bounds concurrent calls to the extraction provider with
// a counted semaphore plus a bounded FIFO wait queue.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the wait queue is at capacity.
	ErrQueueFull = errors.New("admission queue full")
	// ErrQueueTimeout is returned when a queued caller is not granted a
	// slot within the configured wait timeout.
	ErrQueueTimeout = errors.New("timed out waiting for extraction slot")
)

// Config holds admission controller limits
type Config struct {
	MaxConcurrent int
	MaxQueueDepth int
	QueueTimeout  time.Duration
}

type waiter struct {
	grant chan struct{}
}

// Controller caps concurrently outstanding extraction calls. Release always
// hands the freed slot to the longest-waiting queued caller, preserving
// FIFO order and preventing starvation. The mutex is the single
// mutual-exclusion point guarding the active count and the wait list.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	active int
	queue  []*waiter
}

// NewController creates a new admission controller
func NewController(cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: logger,
	}
}

// Acquire obtains an extraction slot, queueing if none is free. It fails
// fast with ErrQueueFull when the queue is at capacity and with
// ErrQueueTimeout when the wait exceeds the configured timeout. A timed-out
// waiter is removed from the queue and can never be granted afterwards.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()

	if c.active < c.cfg.MaxConcurrent {
		c.active++
		c.mu.Unlock()
		return nil
	}

	if len(c.queue) >= c.cfg.MaxQueueDepth {
		c.mu.Unlock()
		c.logger.Warn("Admission queue full, rejecting caller",
			zap.Int("queue_depth", c.cfg.MaxQueueDepth))
		return ErrQueueFull
	}

	w := &waiter{grant: make(chan struct{}, 1)}
	c.queue = append(c.queue, w)
	position := len(c.queue)
	c.mu.Unlock()

	c.logger.Debug("Caller queued for extraction slot", zap.Int("position", position))

	timer := time.NewTimer(c.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case <-w.grant:
		return nil
	case <-timer.C:
		return c.abandon(w, ErrQueueTimeout)
	case <-ctx.Done():
		return c.abandon(w, ctx.Err())
	}
}

// abandon removes w from the queue. If a grant raced the timeout, the grant
// wins: the slot is consumed so it is never left dangling.
func (c *Controller) abandon(w *waiter, cause error) error {
	c.mu.Lock()
	for i, queued := range c.queue {
		if queued == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.mu.Unlock()
			return cause
		}
	}
	c.mu.Unlock()

	// Not in the queue anymore: Release already granted us the slot.
	<-w.grant
	return nil
}

// Release frees a slot. If anyone is waiting, the slot passes directly to
// the head of the queue instead of decrementing the active count.
func (c *Controller) Release() {
	c.mu.Lock()
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		next.grant <- struct{}{}
		return
	}
	if c.active > 0 {
		c.active--
	}
	c.mu.Unlock()
}

// Stats reports the current active count and queue depth.
func (c *Controller) Stats() (active, queued int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, len(c.queue)
}
