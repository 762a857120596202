// Package scheduler serializes partition refresh jobs behind a single active
// worker. Jobs run in strict FIFO order, at most one at a time; the scheduler
// owns all job mutation and republishes observable state changes to
// subscribers without ever blocking its dispatch path.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mapfold/listsync/internal/clock/system"
	"github.com/mapfold/listsync/internal/core"
	"github.com/mapfold/listsync/internal/metrics"
)

// Config controls Scheduler behavior.
//   - SubscriberBuffer: per-subscriber channel capacity (default 16). A full
//     subscriber drops updates rather than stalling dispatch.
//   - BaseContext: parent context handed to the runner for process shutdown.
//   - Logger, Clock, IDGen: optional; sensible defaults apply.
type Config struct {
	SubscriberBuffer int
	BaseContext      context.Context
	Logger           *zap.Logger
	Clock            core.Clock
	IDGen            core.IDGenerator
}

const defaultSubscriberBuffer = 16

type estimate struct {
	total   int
	pending int
}

// Scheduler holds the ordered job list and drives the single-flight dispatch
// loop. Safe for concurrent use.
type Scheduler struct {
	mu            sync.Mutex
	jobs          []*core.Job
	estimates     map[core.Partition]estimate
	runningID     string
	runningCancel *core.Canceller
	paused        bool
	closed        bool
	subs          map[int]chan core.Job
	nextSub       int

	runner core.JobRunner
	cfg    Config
	logger *zap.Logger
	clock  core.Clock
	idGen  core.IDGenerator
}

// New constructs a Scheduler around the given runner.
func New(runner core.JobRunner, cfg Config) *Scheduler {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
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
	return &Scheduler{
		estimates: make(map[core.Partition]estimate),
		subs:      make(map[int]chan core.Job),
		runner:    runner,
		cfg:       cfg,
		logger:    logger,
		clock:     clock,
		idGen:     cfg.IDGen,
	}
}

// Enqueue appends a new queued job for the partition and returns a copy of
// it. Total and Pending are seeded from the best currently-known estimate and
// corrected once the worker reports real numbers. Repeated enqueues for the
// same partition are allowed and run in FIFO order.
func (s *Scheduler) Enqueue(partition core.Partition) core.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	est := s.estimates[partition]
	job := &core.Job{
		ID:        s.newID(),
		Partition: partition,
		Status:    core.JobStatusQueued,
		Total:     est.total,
		Pending:   est.pending,
	}
	s.jobs = append(s.jobs, job)
	s.publishLocked(*job)
	s.dispatchLocked()
	return *job
}

// SetEstimate records the best-known row counts for a partition, used to seed
// Total/Pending on the next enqueue.
func (s *Scheduler) SetEstimate(partition core.Partition, total, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[partition] = estimate{total: total, pending: pending}
}

// Pause stops the dispatch loop from promoting queued jobs. An already
// running job continues to completion; pause is non-preemptive.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables dispatch and promotes the head of the queue if the
// running slot is free.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.dispatchLocked()
}

// Cancel signals the currently running job's worker to stop at its next
// cooperative checkpoint. The job turns Cancelled only once the worker
// honors the signal and returns. No-op when nothing is running.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningCancel != nil {
		s.runningCancel.Cancel()
	}
}

// ClearFinished removes every terminal job from the observable list. Queued
// and running jobs are untouched.
func (s *Scheduler) ClearFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.jobs[:0]
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			kept = append(kept, job)
		}
	}
	s.jobs = kept
}

// Snapshot returns copies of all observable jobs in enqueue order.
func (s *Scheduler) Snapshot() []core.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Job, len(s.jobs))
	for i, job := range s.jobs {
		out[i] = *job
	}
	return out
}

// Subscribe registers an observer for job updates. Each state change delivers
// a copy of the changed job; a subscriber whose buffer is full misses that
// update. The returned func unsubscribes and closes the channel.
func (s *Scheduler) Subscribe() (<-chan core.Job, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan core.Job, s.cfg.SubscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close cancels any running job and stops further dispatch. Used at shutdown.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.runningCancel != nil {
		s.runningCancel.Cancel()
	}
}

// dispatchLocked promotes the head queued job when nothing is running and the
// scheduler is neither paused nor closed. Must be called with mu held. This
// is the only place a job turns Running, so single-flight holds by
// construction.
func (s *Scheduler) dispatchLocked() {
	if s.paused || s.closed || s.runningID != "" {
		return
	}
	var next *core.Job
	for _, job := range s.jobs {
		if job.Status == core.JobStatusQueued {
			next = job
			break
		}
	}
	if next == nil {
		return
	}

	now := s.clock.Now()
	next.Status = core.JobStatusRunning
	next.StartedAt = &now
	s.runningID = next.ID
	cancel := &core.Canceller{}
	s.runningCancel = cancel
	s.publishLocked(*next)

	jobCopy := *next
	go s.run(jobCopy, cancel)
}

func (s *Scheduler) run(job core.Job, cancel *core.Canceller) {
	report := func(p core.Progress) {
		s.applyProgress(job.ID, p)
	}
	outcome := s.runner.Run(s.cfg.BaseContext, job, report, cancel)
	s.complete(job.ID, outcome)
}

// applyProgress folds a worker update into the matching running job. Updates
// for any other job id or a non-running status are stale and dropped.
func (s *Scheduler) applyProgress(jobID string, p core.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(jobID)
	if job == nil || job.Status != core.JobStatusRunning || jobID != s.runningID {
		return
	}
	if p.Total > 0 {
		job.Total = p.Total
	}
	job.Processed = p.Processed
	if job.Total > 0 && job.Processed > job.Total {
		job.Processed = job.Total
	}
	job.Resolved = p.Resolved
	job.Pending = p.Pending
	if p.Message != "" {
		job.Message = p.Message
	}
	s.publishLocked(*job)
}

// complete applies a terminal outcome, frees the running slot, and
// re-triggers dispatch for the next queued job.
func (s *Scheduler) complete(jobID string, outcome core.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(jobID)
	if job == nil || job.Status != core.JobStatusRunning {
		return
	}

	status := outcome.Status
	if !status.IsTerminal() {
		s.logger.Error("runner returned non-terminal status",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
		)
		status = core.JobStatusError
	}
	job.Status = status
	if outcome.Total > 0 {
		job.Total = outcome.Total
	}
	job.Processed = outcome.Processed
	job.Resolved = outcome.Resolved
	job.Pending = outcome.Pending
	job.Message = outcome.Message
	now := s.clock.Now()
	job.Finished = &now

	s.estimates[job.Partition] = estimate{total: job.Total, pending: job.Pending}

	metrics.IncJobTerminal(string(status))
	if job.StartedAt != nil {
		metrics.ObserveJobDuration(now.Sub(*job.StartedAt))
	}

	if s.runningID == jobID {
		s.runningID = ""
		s.runningCancel = nil
	}
	s.publishLocked(*job)
	s.dispatchLocked()
}

func (s *Scheduler) findLocked(jobID string) *core.Job {
	for _, job := range s.jobs {
		if job.ID == jobID {
			return job
		}
	}
	return nil
}

func (s *Scheduler) publishLocked(job core.Job) {
	for _, sub := range s.subs {
		select {
		case sub <- job:
		default:
		}
	}
}

func (s *Scheduler) newID() string {
	if s.idGen != nil {
		id, err := s.idGen.NewID()
		if err == nil {
			return id
		}
		s.logger.Error("job id generation failed", zap.Error(err))
	}
	return fmt.Sprintf("job-%d", s.clock.Now().UnixNano())
}
