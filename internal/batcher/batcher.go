// Package batcher implements client-side telemetry buffering with bounded
// batches and at-least-once delivery toward a pluggable transport. Events
// accumulate in a live queue and are flushed when the queue reaches the batch
// size, when a caller asks for an immediate flush, or on a periodic timer. A
// failed flush pushes the whole batch back onto the front of the queue so a
// later flush retries it in original order.
package batcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mapfold/listsync/internal/clock/system"
	"github.com/mapfold/listsync/internal/core"
	"github.com/mapfold/listsync/internal/metrics"
)

// Config controls Batcher behavior.
//   - BatchSize: flush once this many events queue (default 25).
//   - FlushInterval: periodic flush cadence; 0 disables the timer.
//   - Enabled: initial opt-in state.
//   - BaseContext: parent context for transport calls (defaults to Background).
//   - Logger: optional structured logger used for the failure warning.
//   - Clock: timestamp source (defaults to UTC time.Now).
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	Enabled       bool
	BaseContext   context.Context
	Logger        *zap.Logger
	Clock         core.Clock
}

const defaultBatchSize = 25

// RemoteFactory builds a remote transport from a runtime upload config. The
// batcher never selects transports itself; it only swaps between the local
// transport and whatever this factory returns.
type RemoteFactory func(cfg core.TransportConfig) core.Transport

// Batcher accumulates events and flushes them in batches. All methods are
// safe for concurrent use and never block the caller on delivery.
type Batcher struct {
	mu        sync.Mutex
	queue     []core.Event
	flushing  bool
	enabled   bool
	disposed  bool
	transport core.Transport
	warned    bool

	local     core.Transport
	newRemote RemoteFactory
	cfg       Config
	logger    *zap.Logger
	clock     core.Clock

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Batcher that delivers to the local transport until
// ConfigureUpload selects a remote one. The periodic flush timer starts
// immediately when FlushInterval is positive.
func New(local core.Transport, newRemote RemoteFactory, cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	b := &Batcher{
		enabled:   cfg.Enabled,
		transport: local,
		local:     local,
		newRemote: newRemote,
		cfg:       cfg,
		logger:    logger,
		clock:     clock,
		stopCh:    make(chan struct{}),
	}
	if cfg.FlushInterval > 0 {
		go b.runTimer(cfg.FlushInterval)
	}
	return b
}

// Track appends a named event to the live queue. It is a no-op while the
// batcher is disabled. Reaching the batch size triggers an asynchronous
// flush; Track itself never blocks and never fails.
func (b *Batcher) Track(name string, payload map[string]any) {
	b.track(name, payload, false)
}

// TrackFlush appends an event and always triggers an asynchronous flush.
func (b *Batcher) TrackFlush(name string, payload map[string]any) {
	b.track(name, payload, true)
}

func (b *Batcher) track(name string, payload map[string]any, flush bool) {
	b.mu.Lock()
	if !b.enabled || b.disposed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, core.Event{
		Name:             name,
		Payload:          payload,
		FlushImmediately: flush,
		ClientTimestamp:  b.clock.Now(),
	})
	metrics.IncEventTracked()
	metrics.SetQueueDepth(len(b.queue))
	trigger := flush || len(b.queue) >= b.cfg.BatchSize
	b.mu.Unlock()

	if trigger {
		go b.Flush()
	}
}

// Flush attempts one delivery of everything currently queued. It is an
// idempotent no-op when the batcher is disabled, a flush is already in
// flight, or the queue is empty. Delivery failures are absorbed: the batch
// returns to the front of the queue and a warning is logged once per batcher
// lifetime.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if !b.enabled || b.flushing || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.queue
	b.queue = nil
	b.flushing = true
	transport := b.transport
	b.mu.Unlock()

	err := transport.Deliver(b.cfg.BaseContext, batch)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushing = false
	if err != nil {
		// Requeue ahead of anything tracked meanwhile so original arrival
		// order survives the retry. If the batcher was disabled or disposed
		// while the delivery was in flight, the opt-out wins and the batch
		// is discarded instead of resurrected.
		if b.enabled && !b.disposed {
			requeued := make([]core.Event, 0, len(batch)+len(b.queue))
			requeued = append(requeued, batch...)
			requeued = append(requeued, b.queue...)
			b.queue = requeued
		}
		metrics.IncBatchFlush("failed")
		if !b.warned {
			b.warned = true
			b.logger.Warn("telemetry flush failed, batch requeued",
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
	} else {
		metrics.IncBatchFlush("delivered")
	}
	metrics.SetQueueDepth(len(b.queue))
}

// SetEnabled toggles telemetry. Disabling drops the live queue entirely so an
// opt-out leaves no buffered data behind; enabling applies to subsequent
// Track calls only.
func (b *Batcher) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled && !b.disposed
	if !enabled {
		b.queue = nil
		metrics.SetQueueDepth(0)
	}
}

// ConfigureUpload swaps transport selection. A nil config or empty endpoint
// reverts to the local transport; otherwise the remote factory builds
// the new transport. Takes effect on the next flush.
func (b *Batcher) ConfigureUpload(cfg *core.TransportConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cfg == nil || cfg.Endpoint == "" || b.newRemote == nil {
		b.transport = b.local
		return
	}
	b.transport = b.newRemote(*cfg)
}

// SwapTransport installs a specific transport directly, bypassing the remote
// factory. Used at wiring time for transports ConfigureUpload cannot build,
// such as Pub/Sub.
func (b *Batcher) SwapTransport(t core.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t == nil {
		t = b.local
	}
	b.transport = t
}

// QueueDepth reports the number of events waiting in the live queue. An
// in-flight batch is not counted.
func (b *Batcher) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Dispose stops the flush timer and drops the queue. The batcher accepts no
// further events afterwards.
func (b *Batcher) Dispose() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
	b.enabled = false
	b.queue = nil
	metrics.SetQueueDepth(0)
}

func (b *Batcher) runTimer(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.stopCh:
			return
		}
	}
}
