// Package resolver implements the refresh JobRunner: it walks the pending
// records of one partition and resolves each through a rate-limited upstream
// lookup, reporting progress row by row. The upstream API is shared and
// rate-limited, which is why the scheduler never runs two of these at once.
package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mapfold/listsync/internal/core"
	"github.com/mapfold/listsync/internal/metrics"
)

// Record is one row awaiting external resolution.
type Record struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// RecordSource loads the rows of a partition that still need resolution.
type RecordSource interface {
	PendingRecords(ctx context.Context, partition core.Partition) ([]Record, error)
}

// Lookup resolves a single record against the upstream service. It returns
// whether the record resolved; an error counts the row as unresolved without
// failing the job.
type Lookup interface {
	Resolve(ctx context.Context, rec Record) (bool, error)
}

// Config controls Runner behavior.
//   - QPS: upstream request budget (default 3).
//   - Burst: limiter burst (default 1).
type Config struct {
	QPS    float64
	Burst  int
	Logger *zap.Logger
}

// Runner implements core.JobRunner.
type Runner struct {
	source  RecordSource
	lookup  Lookup
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ core.JobRunner = (*Runner)(nil)

// New constructs a Runner.
func New(source RecordSource, lookup Lookup, cfg Config) *Runner {
	qps := cfg.QPS
	if qps <= 0 {
		qps = 3
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source:  source,
		lookup:  lookup,
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		logger:  logger,
	}
}

// Run resolves the partition's pending records one at a time. The cancel flag
// is checked between rows only; a row already past the limiter finishes its
// upstream call before the job stops.
func (r *Runner) Run(
	ctx context.Context,
	job core.Job,
	report func(core.Progress),
	cancel *core.Canceller,
) core.Outcome {
	records, err := r.source.PendingRecords(ctx, job.Partition)
	if err != nil {
		return core.Outcome{
			Status:  core.JobStatusError,
			Total:   job.Total,
			Pending: job.Pending,
			Message: fmt.Sprintf("load pending records: %v", err),
		}
	}

	total := len(records)
	processed := 0
	resolved := 0

	for _, rec := range records {
		if cancel.Cancelled() {
			break
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return core.Outcome{
				Status:    core.JobStatusError,
				Processed: processed,
				Total:     total,
				Resolved:  resolved,
				Pending:   total - resolved,
				Message:   fmt.Sprintf("rate limiter interrupted: %v", err),
			}
		}

		ok, err := r.lookup.Resolve(ctx, rec)
		switch {
		case err != nil:
			r.logger.Warn("record resolution failed",
				zap.String("job_id", job.ID),
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
			metrics.IncRowProcessed("unresolved")
		case ok:
			resolved++
			metrics.IncRowProcessed("resolved")
		default:
			metrics.IncRowProcessed("unresolved")
		}
		processed++
		report(core.Progress{
			Processed: processed,
			Total:     total,
			Resolved:  resolved,
			Pending:   total - resolved,
		})
	}

	if cancel.Cancelled() && processed < total {
		return core.Outcome{
			Status:    core.JobStatusCancelled,
			Processed: processed,
			Total:     total,
			Resolved:  resolved,
			Pending:   total - resolved,
			Message:   "cancelled before all records were processed",
		}
	}
	return core.Outcome{
		Status:    core.JobStatusComplete,
		Processed: processed,
		Total:     total,
		Resolved:  resolved,
		Pending:   total - resolved,
		Message:   fmt.Sprintf("resolved %d of %d records", resolved, total),
	}
}
