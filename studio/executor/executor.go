// Package executor runs job operations with bounded concurrency, retry
// policies, per-attempt timeouts, and cooperative cancellation.
package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
)

// DefaultCancelGrace bounds how long the executor waits for an operation to
// acknowledge a raised cancel or timeout before abandoning it. An abandoned
// operation keeps running in the background until it observes its context.
const DefaultCancelGrace = 30 * time.Second

// ProgressFunc receives progress percentages from a running operation.
type ProgressFunc func(percent int)

// Operation is one unit of retryable work. Implementations must return
// promptly once ctx is cancelled; attempt is 1-indexed.
type Operation func(ctx context.Context, attempt int, progress ProgressFunc) (interface{}, error)

// State classifies the outcome of an execution.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

// Result is the terminal outcome of an execution.
type Result struct {
	JobID    string
	State    State
	Value    interface{} // operation return value; set on completion and on cancel-after-completion
	Err      error       // last attempt error for failed, cancelled, and timed-out results
	Attempts int
}

// Task pairs an operation with its job id and retry policy.
type Task struct {
	JobID     string
	Operation Operation
	Policy    Policy
	Progress  ProgressFunc // optional; forwarded to every attempt
}

// Config sizes the executor.
type Config struct {
	MaxConcurrent int           // execution slots; minimum 1
	CancelGrace   time.Duration // 0 = DefaultCancelGrace
}

// Executor runs tasks under a shared concurrency cap. Submissions beyond the
// cap queue in arrival order.
type Executor struct {
	sem    chan struct{}
	grace  time.Duration
	logger *zap.SugaredLogger

	mu      sync.Mutex
	active  map[string]*execution
	running int
	queued  int
}

// execution tracks one in-flight Execute call so Cancel can reach it.
// The cancelled flag is guarded by the executor mutex.
type execution struct {
	jobID     string
	cancel    context.CancelFunc
	cancelled bool
}

// New creates an executor. A nil logger disables logging.
func New(cfg Config, logger *zap.SugaredLogger) *Executor {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Executor{
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		grace:  cfg.CancelGrace,
		logger: logger,
		active: make(map[string]*execution),
	}
}

// Execute runs the task to a terminal result. It blocks while queued behind
// the concurrency cap; cancelling ctx or calling Cancel abandons the wait.
// Externally cancelled executions report StateCancelled without consuming
// further retry attempts.
func (e *Executor) Execute(ctx context.Context, task Task) Result {
	if task.Operation == nil {
		return Result{JobID: task.JobID, State: StateFailed, Err: errors.New("task has no operation")}
	}
	progress := task.Progress
	if progress == nil {
		progress = func(int) {}
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exec := &execution{jobID: task.JobID, cancel: cancel}

	e.mu.Lock()
	if _, exists := e.active[task.JobID]; exists {
		e.mu.Unlock()
		return Result{
			JobID: task.JobID,
			State: StateFailed,
			Err:   errors.NewConflictError("job %s is already executing", task.JobID),
		}
	}
	e.active[task.JobID] = exec
	e.queued++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, task.JobID)
		e.mu.Unlock()
	}()

	// Wait for an execution slot. Blocked senders wake in arrival order, so
	// queued tasks start fairly.
	select {
	case e.sem <- struct{}{}:
		e.mu.Lock()
		e.queued--
		e.running++
		e.mu.Unlock()
	case <-execCtx.Done():
		e.mu.Lock()
		e.queued--
		e.mu.Unlock()
		return Result{JobID: task.JobID, State: StateCancelled, Err: execCtx.Err()}
	}
	defer func() {
		<-e.sem
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()

	maxAttempts := task.Policy.MaxAttempts()
	var lastErr error
	lastTimedOut := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := e.runAttempt(execCtx, task, attempt, progress)

		if err == nil {
			if e.wasCancelled(exec) {
				// The operation finished before observing the cancel. Report
				// cancelled but keep the value so callers can record that the
				// work may have landed.
				return Result{JobID: task.JobID, State: StateCancelled, Value: value, Attempts: attempt}
			}
			return Result{JobID: task.JobID, State: StateCompleted, Value: value, Attempts: attempt}
		}

		if e.wasCancelled(exec) || ctx.Err() != nil {
			return Result{JobID: task.JobID, State: StateCancelled, Err: err, Attempts: attempt}
		}

		lastErr = err
		lastTimedOut = errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout)

		if errors.Is(err, errors.ErrTerminal) {
			e.logger.Debugw("Attempt failed terminally",
				"job_id", task.JobID, "attempt", attempt, "error", err)
			return Result{JobID: task.JobID, State: StateFailed, Err: err, Attempts: attempt}
		}
		if attempt == maxAttempts {
			break
		}

		delay := task.Policy.RetryDelay(attempt)
		e.logger.Debugw("Attempt failed, will retry",
			"job_id", task.JobID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-execCtx.Done():
				timer.Stop()
				return Result{JobID: task.JobID, State: StateCancelled, Err: execCtx.Err(), Attempts: attempt}
			}
		}
	}

	state := StateFailed
	if lastTimedOut {
		state = StateTimedOut
	}
	return Result{JobID: task.JobID, State: state, Err: lastErr, Attempts: maxAttempts}
}

// runAttempt races one attempt against its timeout and the execution
// context. When the context fires first, the operation gets the grace window
// to return before being abandoned.
func (e *Executor) runAttempt(ctx context.Context, task Task, attempt int, progress ProgressFunc) (interface{}, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if task.Policy.TimeoutPerAttempt > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, task.Policy.TimeoutPerAttempt)
	}
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	// Buffered so an abandoned operation can still deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		value, err := task.Operation(attemptCtx, attempt, progress)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-attemptCtx.Done():
	}

	graceTimer := time.NewTimer(e.grace)
	defer graceTimer.Stop()
	select {
	case out := <-done:
		return out.value, out.err
	case <-graceTimer.C:
		e.logger.Warnw("Operation did not acknowledge cancellation within grace window",
			"job_id", task.JobID,
			"attempt", attempt,
			"grace", e.grace)
		return nil, attemptCtx.Err()
	}
}

// wasCancelled reports whether Cancel reached this execution.
func (e *Executor) wasCancelled(exec *execution) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return exec.cancelled
}

// Cancel signals the execution for jobID. Cancellation is cooperative: the
// attempt context is cancelled and the operation decides when to stop.
// Returns a not-found error when no execution is active for the id.
func (e *Executor) Cancel(jobID string) error {
	e.mu.Lock()
	exec, ok := e.active[jobID]
	if ok {
		exec.cancelled = true
	}
	e.mu.Unlock()

	if !ok {
		return errors.NewNotFoundError("no active execution for job %s", jobID)
	}
	exec.cancel()
	return nil
}

// ExecuteBatch runs tasks concurrently under the shared concurrency cap and
// returns results in task order. With failFast, the first failed or
// timed-out result cancels the tasks still outstanding.
func (e *Executor) ExecuteBatch(ctx context.Context, tasks []Task, failFast bool) []Result {
	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()

	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Execute(batchCtx, tasks[i])
			if failFast && (results[i].State == StateFailed || results[i].State == StateTimedOut) {
				cancelBatch()
			}
		}(i)
	}
	wg.Wait()
	return results
}

// ActiveCount returns the number of operations holding execution slots.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// QueuedCount returns the number of submissions waiting for a slot.
func (e *Executor) QueuedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queued
}

// Capacity returns the concurrency cap.
func (e *Executor) Capacity() int {
	return cap(e.sem)
}
