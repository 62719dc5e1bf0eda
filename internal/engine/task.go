// Package engine implements the scheduler/runtime component: a priority
// task queue, a bounded worker pool that dispatches work to Rules over
// the mesh, and the REST surface for task submission.
package engine

import (
	"encoding/json"
	"time"
)

// Priority orders tasks within the queue; higher values run first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// weight returns the priority's sort rank — lower runs first.
func (p Priority) weight() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Status is a task's lifecycle state. Once terminal, it is fixed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Task is a unit of scheduled work: a span to route through Rules,
// producing a result span written back to Timeline.
type Task struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Priority   Priority        `json:"priority"`
	Status     Status          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`

	seq int64 // FIFO tiebreaker within a priority tier
}
