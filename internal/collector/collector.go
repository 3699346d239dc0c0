// Package collector batches real-time messages in front of the index
// coordinator. A push flushes straight through when nothing is indexing;
// otherwise messages wait in a buffer that a timer retries until the
// coordinator is idle again.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/chatindex/internal/message"
)

// DefaultInterval is how long buffered messages wait before a retry.
const DefaultInterval = 60 * time.Second

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("collector is closed")

// FlushFunc hands a batch to the indexer.
type FlushFunc func(ctx context.Context, msgs []message.Record) error

// Collector coalesces bursts of messages into single indexing calls and
// never runs two flushes at once.
type Collector struct {
	isIndexing func() bool
	flush      FlushFunc
	interval   time.Duration

	mu       sync.Mutex
	buffer   []message.Record
	timer    *time.Timer
	gen      uint64 // invalidates timers that were stopped too late
	flushing bool
	closed   bool

	// flushMu serializes calls into flush.
	flushMu sync.Mutex
}

// Option configures a Collector.
type Option func(*Collector)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New creates a Collector. isIndexing reports whether the indexer is
// busy; flush receives every batch.
func New(isIndexing func() bool, flush FlushFunc, opts ...Option) *Collector {
	c := &Collector{
		isIndexing: isIndexing,
		flush:      flush,
		interval:   DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.isIndexing == nil {
		c.isIndexing = func() bool { return false }
	}
	return c
}

// Push buffers msgs and flushes immediately when the indexer is idle.
// The returned error is the flush error, if a flush ran. The buffer is
// cleared either way.
func (c *Collector) Push(ctx context.Context, msgs ...message.Record) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.buffer = append(c.buffer, msgs...)
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return nil
	}
	if c.busyLocked() {
		c.armLocked()
		c.mu.Unlock()
		return nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()

	return c.run(ctx, batch)
}

// Pending returns the number of buffered messages.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Close stops the timer and flushes whatever is buffered, waiting for an
// in-flight flush first.
func (c *Collector) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopLocked()
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		// Wait for an in-flight flush to finish.
		c.flushMu.Lock()
		c.flushMu.Unlock()
		return nil
	}
	return c.call(ctx, batch)
}

func (c *Collector) busyLocked() bool {
	return c.flushing || c.isIndexing()
}

// armLocked starts the retry timer unless one is already pending.
func (c *Collector) armLocked() {
	if c.timer != nil || c.closed {
		return
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.interval, func() {
		c.onTimer(gen)
	})
}

func (c *Collector) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Collector) takeLocked() []message.Record {
	batch := c.buffer
	c.buffer = nil
	c.flushing = true
	c.stopLocked()
	return batch
}

func (c *Collector) onTimer(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	if c.busyLocked() {
		c.armLocked()
		c.mu.Unlock()
		return
	}
	batch := c.takeLocked()
	c.mu.Unlock()

	_ = c.run(context.Background(), batch)
}

// run flushes batch and re-arms the timer if messages arrived meanwhile.
func (c *Collector) run(ctx context.Context, batch []message.Record) error {
	err := c.call(ctx, batch)

	c.mu.Lock()
	c.flushing = false
	if len(c.buffer) > 0 {
		c.armLocked()
	}
	c.mu.Unlock()
	return err
}

func (c *Collector) call(ctx context.Context, batch []message.Record) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	start := time.Now()
	err := c.flush(ctx, batch)
	if err != nil {
		slog.Warn("collector_flush_failed",
			slog.Int("messages", len(batch)),
			slog.String("error", err.Error()))
		return err
	}
	slog.Debug("collector_flushed",
		slog.Int("messages", len(batch)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
