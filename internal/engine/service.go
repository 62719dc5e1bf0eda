package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the Engine component's public API: task submission,
// lookup, and listing, backed by a Scheduler's queue and store.
type Service struct {
	queue     *Queue
	store     *Store
	scheduler *Scheduler
}

// NewService constructs a Service over an already-configured Scheduler.
func NewService(queue *Queue, store *Store, scheduler *Scheduler) *Service {
	return &Service{queue: queue, store: store, scheduler: scheduler}
}

// SubmitInput is the caller-supplied subset of a task's fields.
type SubmitInput struct {
	TenantID string
	Priority Priority
	Payload  json.RawMessage
	Metadata json.RawMessage
}

// ErrUnavailable is returned when the queue is over its high-water mark
// or the scheduler is draining for shutdown.
type ErrUnavailable struct{ Reason string }

func (e ErrUnavailable) Error() string { return "engine: unavailable: " + e.Reason }

// Submit enqueues a new task, entering it at Queued.
func (s *Service) Submit(in SubmitInput) (*Task, error) {
	if s.scheduler.Draining() {
		return nil, ErrUnavailable{Reason: "runtime shutting down"}
	}
	if s.scheduler.Backpressured() {
		return nil, ErrUnavailable{Reason: "task queue over capacity"}
	}
	if in.TenantID == "" {
		return nil, fmt.Errorf("engine: tenant_id required")
	}

	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	task := &Task{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		Priority:  priority,
		Status:    StatusQueued,
		Payload:   in.Payload,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	s.store.Put(task)
	s.queue.Push(task)
	return task, nil
}

// Get fetches a task by id.
func (s *Service) Get(id string) (*Task, error) {
	return s.store.Get(id)
}

// Cancel requests cancellation of a running task, which finalizes it as
// Canceled and emits a status=reverted result span. Returns
// ErrTaskNotFound if no such task exists, or ErrTaskNotCancelable if it
// isn't currently running.
func (s *Service) Cancel(id string) error {
	if _, err := s.store.Get(id); err != nil {
		return err
	}
	return s.scheduler.Cancel(id)
}

// ListByTenant lists every task submitted under tenantID.
func (s *Service) ListByTenant(tenantID string) []*Task {
	return s.store.ListByTenant(tenantID)
}
