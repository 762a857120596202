package core

import (
	"context"
	"sync/atomic"
	"time"
)

// Transport delivers a batch of events to a sink. A returned error means the
// whole batch failed and will be redelivered on a later flush.
type Transport interface {
	Deliver(ctx context.Context, batch []Event) error
}

// LocalSink accepts events one at a time from the local transport.
type LocalSink interface {
	DeliverLocal(event Event) error
}

// JobRunner executes one refresh job. Implementations report progress through
// the callback, check cancel at cooperative checkpoints between units of
// work, and return a terminal Outcome. The context covers process shutdown
// only; per-job cancellation goes through the Canceller.
type JobRunner interface {
	Run(ctx context.Context, job Job, report func(Progress), cancel *Canceller) Outcome
}

// SaltStore persists the telemetry hashing salt across sessions. Set failures
// are best-effort and ignored by callers.
type SaltStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, salt string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Canceller carries a cooperative cancellation flag. Running work polls
// Cancelled between units; nothing in flight is forcibly interrupted.
type Canceller struct {
	flag atomic.Bool
}

// Cancel requests cancellation at the next checkpoint.
func (c *Canceller) Cancel() {
	if c != nil {
		c.flag.Store(true)
	}
}

// Cancelled reports whether cancellation has been requested.
func (c *Canceller) Cancelled() bool {
	return c != nil && c.flag.Load()
}
