// Package core defines the types shared across the sync and telemetry subsystems.
package core

import (
	"fmt"
	"time"
)

// Partition identifies one of the two logical list slots a refresh job
// operates on.
type Partition string

// Supported partitions.
const (
	PartitionA Partition = "A"
	PartitionB Partition = "B"
)

// ParsePartition converts a client-supplied slot tag into a Partition.
func ParsePartition(value string) (Partition, error) {
	switch value {
	case "A", "a":
		return PartitionA, nil
	case "B", "b":
		return PartitionB, nil
	default:
		return "", fmt.Errorf("invalid partition %q", value)
	}
}

// JobStatus represents the lifecycle state of a refresh job.
type JobStatus string

// Job status values observable through the scheduler.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusComplete  JobStatus = "complete"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusComplete, JobStatusCancelled, JobStatusError:
		return true
	default:
		return false
	}
}

// Job is one unit of scheduled, partition-scoped refresh work. Jobs are
// created on enqueue and mutated only by the scheduler's dispatch loop.
type Job struct {
	ID        string     `json:"id"`
	Partition Partition  `json:"partition"`
	Status    JobStatus  `json:"status"`
	Processed int        `json:"processed"`
	Total     int        `json:"total"`
	Resolved  int        `json:"resolved"`
	Pending   int        `json:"pending"`
	Message   string     `json:"message,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
}

// Progress is a non-terminal update reported by a JobRunner mid-run.
type Progress struct {
	Processed int
	Total     int
	Resolved  int
	Pending   int
	Message   string
}

// Outcome is the terminal result returned by a JobRunner. Status must be one
// of the terminal job statuses.
type Outcome struct {
	Status    JobStatus
	Processed int
	Total     int
	Resolved  int
	Pending   int
	Message   string
}

// Event is a single named telemetry event. Immutable once enqueued; owned by
// the batcher until delivered or discarded.
type Event struct {
	Name             string         `json:"name"`
	Payload          map[string]any `json:"payload,omitempty"`
	FlushImmediately bool           `json:"-"`
	ClientTimestamp  time.Time      `json:"timestamp"`
}

// TransportConfig selects and parameterizes the remote telemetry transport.
// An empty Endpoint falls back to the local transport. Changes take
// effect on the next flush.
type TransportConfig struct {
	Endpoint   string            `json:"endpoint,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	DistinctID string            `json:"distinct_id,omitempty"`
	APIKey     string            `json:"api_key,omitempty"`
}
