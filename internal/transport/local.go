// Package transport implements the pluggable sinks a telemetry batch is
// delivered through: a trusted in-process local sink,
// and a remote HTTP endpoint. Selection happens upstream, in configuration;
// both implement core.Transport with whole-batch failure semantics.
package transport

import (
	"context"
	"fmt"

	"github.com/mapfold/listsync/internal/core"
)

// Local delivers events one at a time, in order, to a trusted in-process
// sink. Any single failed delivery fails the whole batch so the batcher can
// requeue it without partial-delivery bookkeeping.
type Local struct {
	sink core.LocalSink
}

// NewLocal constructs a Local transport.
func NewLocal(sink core.LocalSink) *Local {
	return &Local{sink: sink}
}

// Deliver sends the batch event by event.
func (l *Local) Deliver(_ context.Context, batch []core.Event) error {
	if l.sink == nil {
		return fmt.Errorf("local sink is not configured")
	}
	for i, evt := range batch {
		if err := l.sink.DeliverLocal(evt); err != nil {
			return fmt.Errorf("deliver event %d/%d %q: %w", i+1, len(batch), evt.Name, err)
		}
	}
	return nil
}
