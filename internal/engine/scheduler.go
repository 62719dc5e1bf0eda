package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logline-run/logline/infrastructure/fallback"
	sllogging "github.com/logline-run/logline/infrastructure/logging"
	"github.com/logline-run/logline/infrastructure/redaction"
	"github.com/logline-run/logline/internal/mesh"
	"github.com/logline-run/logline/internal/mesh/correlate"
)

// errRedactor scrubs secret-shaped substrings (tokens, keys, passwords) out
// of error strings before they reach logs — a backend error body can echo
// request content verbatim, including whatever a tenant's rule payload
// carried.
var errRedactor = redaction.NewRedactor(redaction.DefaultConfig())

// Default backpressure marks and result-wait deadline, per the
// scheduling algorithm this component implements.
const (
	DefaultHighWaterMark = 10000
	DefaultLowWaterMark  = 8000
	DefaultResultTimeout = 5 * time.Second
)

// MeshLink is the subset of mesh.Client this scheduler depends on —
// satisfied directly by *mesh.Client.
type MeshLink interface {
	Send(env mesh.Envelope) error
	OnMessage(t mesh.MessageType, fn mesh.Handler)
	State() mesh.PeerState
}

// Scheduler pulls tasks off a priority Queue and dispatches them to a
// bounded worker pool. Each worker asks Rules to evaluate the task's
// span over the mesh, falling back to REST on timeout or disconnect,
// then writes a result span to Timeline.
type Scheduler struct {
	queue    *Queue
	store    *Store
	mesh     MeshLink
	rulesRS  RulesClient
	timeline TimelineClient
	tracker  *correlate.Tracker
	fallback *fallback.Handler
	logger   *sllogging.Logger

	workers       int
	resultTimeout time.Duration
	highWater     int
	lowWater      int

	wg            sync.WaitGroup
	stopCh        chan struct{}
	draining      bool
	backpressured bool
	mu            sync.RWMutex

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// SchedulerConfig configures a Scheduler. Zero values fall back to the
// spec defaults (CPU count x2 workers, 5s result deadline, 10000/8000
// high/low water marks).
type SchedulerConfig struct {
	Queue          *Queue
	Store          *Store
	Mesh           MeshLink
	RulesClient    RulesClient
	TimelineClient TimelineClient
	Logger         *sllogging.Logger
	Workers        int
	ResultTimeout  time.Duration
	HighWaterMark  int
	LowWaterMark   int
}

// NewScheduler constructs a Scheduler from cfg, applying defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	resultTimeout := cfg.ResultTimeout
	if resultTimeout <= 0 {
		resultTimeout = DefaultResultTimeout
	}
	highWater := cfg.HighWaterMark
	if highWater <= 0 {
		highWater = DefaultHighWaterMark
	}
	lowWater := cfg.LowWaterMark
	if lowWater <= 0 {
		lowWater = DefaultLowWaterMark
	}

	s := &Scheduler{
		queue:         cfg.Queue,
		store:         cfg.Store,
		mesh:          cfg.Mesh,
		rulesRS:       cfg.RulesClient,
		timeline:      cfg.TimelineClient,
		tracker:       correlate.NewTracker(resultTimeout, nil),
		fallback:      fallback.NewHandler(fallback.Config{MaxAttempts: 2}),
		logger:        cfg.Logger,
		workers:       workers,
		resultTimeout: resultTimeout,
		highWater:     highWater,
		lowWater:      lowWater,
		stopCh:        make(chan struct{}),
		cancels:       make(map[string]context.CancelFunc),
	}

	if s.mesh != nil {
		s.mesh.OnMessage(mesh.TypeRuleExecutionResult, s.onRuleExecutionResult)
	}

	return s
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}
}

// Backpressured reports whether new submissions should be rejected with
// 503. It latches at the high-water mark and only clears once the queue
// has drained below the low-water mark, so a queue oscillating around
// highWater doesn't flap submissions accepted/rejected on every push.
func (s *Scheduler) Backpressured() bool {
	length := s.queue.Len()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case length >= s.highWater:
		s.backpressured = true
	case length < s.lowWater:
		s.backpressured = false
	}
	return s.backpressured
}

// Draining reports whether graceful shutdown is in progress.
func (s *Scheduler) Draining() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draining
}

// Shutdown stops accepting new dispatches and drains in-flight tasks up
// to timeout. Anything still running when the deadline passes is
// force-terminated: its worker's context is canceled (evicting any
// pending mesh correlation wait), the task is marked Failed, and a
// status=failed result span is written, so no task is ever abandoned
// without a final recorded outcome.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	s.queue.Close()
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.forceTerminateRunning(timeout)
	}
}

// forceTerminateRunning is invoked once a drain timeout has passed. For
// every still-running task it claims ownership of finalization (see
// claimCancel), cancels the worker's context — unblocking its evaluate
// call and evicting its mesh correlation waiter — and writes the
// task's Failed outcome and result span itself, without waiting any
// further for the worker goroutine to exit on its own. A task whose
// worker finalizes it first (claimCancel loses the race) is left
// untouched here; its own process() call already recorded the outcome.
func (s *Scheduler) forceTerminateRunning(timeout time.Duration) {
	running := s.store.ListRunning()
	ctx := context.Background()
	terminated := 0

	for _, task := range running {
		cancel, owned := s.claimCancel(task.ID)
		if !owned {
			continue
		}
		if cancel != nil {
			cancel()
		}
		terminated++

		finished := time.Now().UTC()
		task.Status = StatusFailed
		task.Error = "engine: shutdown drain timeout, task force-terminated"
		task.FinishedAt = &finished
		s.store.Update(task)

		s.emitResultSpan(ctx, task, map[string]interface{}{"reason": task.Error})
	}

	s.logger.Warn(ctx, "engine: shutdown drain timed out, force-terminated in-flight tasks", map[string]interface{}{
		"timeout": timeout.String(),
		"count":   terminated,
	})
}

// claimCancel atomically removes taskID's registered cancel func, if
// any, from the registry and reports whether this call was the one that
// removed it. Both forceTerminateRunning and a task's own process() call
// race to finalize the same task id; whichever one wins this claim is
// the sole writer of that task's terminal state.
func (s *Scheduler) claimCancel(taskID string) (context.CancelFunc, bool) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	cancel, ok := s.cancels[taskID]
	if !ok {
		return nil, false
	}
	delete(s.cancels, taskID)
	return cancel, true
}

// ErrTaskNotCancelable is returned by Cancel when taskID is not
// currently running (it has already finished, or was never dispatched).
type ErrTaskNotCancelable struct{ ID string }

func (e ErrTaskNotCancelable) Error() string {
	return "engine: task not cancelable: " + e.ID
}

// Cancel requests cancellation of a currently running task. It cancels
// the worker's context — unblocking any pending mesh correlation wait
// and evicting its tracker entry — then lets the task's own process()
// call finalize it as Canceled and emit a status=reverted result span.
// Returns ErrTaskNotCancelable if the task isn't currently running.
func (s *Scheduler) Cancel(taskID string) error {
	s.cancelMu.Lock()
	cancel, ok := s.cancels[taskID]
	s.cancelMu.Unlock()
	if !ok {
		return ErrTaskNotCancelable{ID: taskID}
	}
	cancel()
	return nil
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		task, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.process(ctx, task)
	}
}

func (s *Scheduler) process(ctx context.Context, task *Task) {
	now := time.Now().UTC()
	task.Status = StatusRunning
	task.StartedAt = &now
	s.store.Update(task)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelMu.Lock()
	s.cancels[task.ID] = cancel
	s.cancelMu.Unlock()

	var payload map[string]interface{}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		payload = map[string]interface{}{"raw": string(task.Payload)}
	}

	success, output, evalErr := s.evaluate(workerCtx, task, payload)

	// Claim finalization rights: a concurrent Shutdown force-terminate
	// may have already claimed and finalized this task id while evaluate
	// was unblocking from cancellation, in which case this call must not
	// overwrite its recorded outcome.
	if _, owned := s.claimCancel(task.ID); !owned {
		return
	}

	finished := time.Now().UTC()
	task.FinishedAt = &finished

	switch {
	case evalErr != nil && errors.Is(evalErr, context.Canceled):
		task.Status = StatusCanceled
	case evalErr != nil || !success:
		task.Status = StatusFailed
		if evalErr != nil {
			task.Error = evalErr.Error()
			s.logger.Warn(ctx, "engine: task evaluation failed", map[string]interface{}{
				"task_id": task.ID,
				"error":   errRedactor.RedactString(evalErr.Error()),
			})
		}
	default:
		task.Status = StatusCompleted
	}
	s.store.Update(task)

	s.emitResultSpan(ctx, task, output)
}

// evalOutcome carries evaluate's result through fallback.Handler, which
// only knows how to pass around a bare interface{}.
type evalOutcome struct {
	success bool
	output  map[string]interface{}
}

// evaluate asks Rules to decide on the task's span: first over the mesh
// with request/response correlation, falling back to REST on timeout or
// when no mesh link is connected.
func (s *Scheduler) evaluate(ctx context.Context, task *Task, span map[string]interface{}) (bool, map[string]interface{}, error) {
	restFn := func(ctx context.Context) (interface{}, error) {
		if s.rulesRS == nil {
			return nil, fmt.Errorf("engine: no rules REST fallback configured")
		}
		success, output, err := s.rulesRS.Evaluate(ctx, task.TenantID, span)
		if err != nil {
			return nil, err
		}
		return evalOutcome{success: success, output: output}, nil
	}

	if s.mesh == nil || s.mesh.State() != mesh.StateConnected {
		outcome, err := restFn(ctx)
		if err != nil {
			return false, nil, err
		}
		o := outcome.(evalOutcome)
		return o.success, o.output, nil
	}

	meshFn := func(ctx context.Context) (interface{}, error) {
		success, output, err := s.evaluateOverMesh(ctx, task, span)
		if err != nil {
			return nil, err
		}
		return evalOutcome{success: success, output: output}, nil
	}

	result := s.fallback.Execute(ctx, meshFn, restFn)
	if result.Err != nil {
		return false, nil, result.Err
	}
	if result.Source == "fallback" {
		s.logger.Warn(ctx, "engine: mesh evaluation failed, fell back to REST", map[string]interface{}{
			"task_id": task.ID,
		})
	}
	o := result.Value.(evalOutcome)
	return o.success, o.output, nil
}

func (s *Scheduler) evaluateOverMesh(ctx context.Context, task *Task, span map[string]interface{}) (bool, map[string]interface{}, error) {
	requestID := uuid.NewString()

	if err := s.mesh.Send(mesh.NewEnvelope(mesh.ServiceMessage{
		Type:      mesh.TypeRuleEvaluationRequest,
		RequestID: requestID,
		TenantID:  task.TenantID,
		Metadata:  span,
	})); err != nil {
		return false, nil, fmt.Errorf("send rule_evaluation_request: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.resultTimeout)
	defer cancel()

	raw, err := s.tracker.Await(waitCtx, requestID)
	if err != nil {
		return false, nil, err
	}

	var result mesh.ServiceMessage
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, nil, fmt.Errorf("decode rule_execution_result: %w", err)
	}
	return result.Success, result.Output, nil
}

// onRuleExecutionResult is registered with the mesh link; it resolves a
// pending Await by request_id == result_id. A result arriving after its
// deadline has already evicted the waiter is logged and dropped, per the
// at-most-once guarantee.
func (s *Scheduler) onRuleExecutionResult(_ string, env mesh.Envelope) {
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return
	}
	if !s.tracker.Resolve(env.Payload.ResultID, raw) {
		s.logger.Debug(context.Background(), "engine: dropping unmatched or late rule_execution_result", map[string]interface{}{
			"result_id": env.Payload.ResultID,
		})
	}
}

func (s *Scheduler) emitResultSpan(ctx context.Context, task *Task, output map[string]interface{}) {
	if s.timeline == nil {
		return
	}

	status := "executed"
	switch task.Status {
	case StatusFailed:
		status = "failed"
	case StatusCanceled:
		status = "reverted"
	}

	span := map[string]interface{}{
		"logline_id": task.TenantID,
		"author":     "engine",
		"title":      "task_" + task.ID,
		"payload":    output,
		"tenant_id":  task.TenantID,
		"status":     status,
		"span_type":  "system",
		"caused_by":  task.ID,
		"signature":  "",
	}

	if err := s.timeline.CreateSpan(ctx, span); err != nil {
		s.logger.Error(ctx, "engine: failed to write result span", err, map[string]interface{}{"task_id": task.ID})
	}
}
