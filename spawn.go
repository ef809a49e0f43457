package corotask

import (
	"context"
	"sync"
	"time"

	"github.com/corotask/corotask/core"
)

// Re-export the core types callers need without importing the core package
// directly, the same re-export-layer idiom the teacher uses in its root
// package for core.Task/TaskTraits/TaskRunner.
type (
	TaskID              = core.TaskID
	Importance          = core.Importance
	State               = core.State
	CancellationReason  = core.CancellationReason
	WakeupSource        = core.WakeupSource
	Payload             = core.Payload
	TaskContext         = core.TaskContext
	TaskExecutionRecord = core.TaskExecutionRecord
	ProcessorStats      = core.ProcessorStats
)

const (
	Normal   = core.Normal
	Critical = core.Critical
)

const (
	CancelNone        = core.CancelNone
	CancelUserRequest = core.CancelUserRequest
	CancelOverload    = core.CancelOverload
	CancelShutdown    = core.CancelShutdown
	CancelAbandoned   = core.CancelAbandoned
)

var (
	ErrOutsideCoroutine = core.ErrOutsideCoroutine
	ErrInvalidYield     = core.ErrInvalidYield
)

type (
	ErrWaitInterrupted        = core.ErrWaitInterrupted
	ErrInvalidStateTransition = core.ErrInvalidStateTransition
	ErrSpawnFailure           = core.ErrSpawnFailure
)

// Option configures a Processor at construction.
type Option func(*core.TaskProcessorConfig)

func WithWorkers(n int) Option                { return func(c *core.TaskProcessorConfig) { c.Workers = n } }
func WithMaxCoroutines(n int) Option          { return func(c *core.TaskProcessorConfig) { c.MaxCoroutines = n } }
func WithEventThreads(n int) Option           { return func(c *core.TaskProcessorConfig) { c.EventThreads = n } }
func WithTraceBudget(n int32) Option          { return func(c *core.TaskProcessorConfig) { c.TraceBudgetPerTask = n } }
func WithStackDumpThreshold(d time.Duration) Option {
	return func(c *core.TaskProcessorConfig) { c.StackDumpThreshold = d }
}
func WithLogger(l core.Logger) Option { return func(c *core.TaskProcessorConfig) { c.Logger = l } }
func WithMetrics(m core.Metrics) Option {
	return func(c *core.TaskProcessorConfig) { c.Metrics = m }
}
func WithPanicHandler(h core.PanicHandler) Option {
	return func(c *core.TaskProcessorConfig) { c.PanicHandler = h }
}
func WithRejectedTaskHandler(h core.RejectedTaskHandler) Option {
	return func(c *core.TaskProcessorConfig) { c.RejectedTaskHandler = h }
}

// Processor is the caller-facing handle to a core.TaskProcessor: an
// unbounded ready queue, a pool of worker goroutines, and the coroutine/event pools
// those workers resume tasks through.
type Processor struct {
	inner *core.TaskProcessor
}

// NewProcessor starts a Processor named name with the given Options applied
// over DefaultTaskProcessorConfig.
func NewProcessor(name string, opts ...Option) *Processor {
	cfg := core.DefaultTaskProcessorConfig(name)
	for _, opt := range opts {
		opt(cfg)
	}
	return &Processor{inner: core.NewTaskProcessor(cfg)}
}

// Spawn schedules payload to run with the given importance. It returns
// ErrSpawnFailure if the processor has been closed.
func (p *Processor) Spawn(imp Importance, payload Payload) (*TaskHandle, error) {
	tc, err := p.inner.Spawn(imp, payload)
	if err != nil {
		return nil, err
	}
	return &TaskHandle{tc: tc}, nil
}

// Stats returns a point-in-time snapshot of the processor's counters.
func (p *Processor) Stats() ProcessorStats { return p.inner.Stats() }

// RecentHistory returns up to limit of the most recently finished task
// executions, most recent first.
func (p *Processor) RecentHistory(limit int) []TaskExecutionRecord {
	return p.inner.RecentHistory(limit)
}

// Close stops accepting new Spawn calls and tears down the processor's
// worker goroutines, coroutine pool, and event pool. It does not cancel or
// wait for tasks already in flight.
func (p *Processor) Close() { p.inner.Close() }

// TaskHandle is the caller-side view of a spawned task.
type TaskHandle struct {
	tc *core.TaskContext
}

// ID reports the task's identity.
func (h *TaskHandle) ID() TaskID { return h.tc.ID() }

// State atomically reads the task's current lifecycle state.
func (h *TaskHandle) State() State { return h.tc.State() }

// Importance reports the task's immutable importance.
func (h *TaskHandle) Importance() Importance { return h.tc.Importance() }

// IsFinished reports whether the task has reached Completed or Cancelled.
func (h *TaskHandle) IsFinished() bool { return h.tc.State().IsTerminal() }

// Result returns the payload's return value, valid only once State() is
// terminal; callers racing ahead of completion should use Await or
// WaitUntil instead of polling Result directly.
func (h *TaskHandle) Result() (any, error) { return h.tc.Result() }

// RequestCancel cooperatively requests cancellation with reason. Returns
// false if the task was already cancel-requested.
func (h *TaskHandle) RequestCancel(reason CancellationReason) bool {
	return h.tc.RequestCancel(reason)
}

// SetDetached marks the task as fire-and-forget: its finish waiters still
// wake normally, but no caller is expected to observe its result.
func (h *TaskHandle) SetDetached() { h.tc.SetDetached() }

// WaitUntil blocks waiter's own coroutine until h's task finishes or
// deadline passes (zero deadline waits indefinitely). Call it from inside
// waiter's payload; it returns immediately if h has already finished.
func (h *TaskHandle) WaitUntil(waiter *TaskContext, deadline time.Time) error {
	return h.tc.WaitUntil(waiter, deadline)
}

// Await blocks the calling goroutine — which must not itself be a task's
// own coroutine; use TaskContext.WaitUntil from inside a payload instead —
// until the task finishes or ctx is done, returning the payload's result.
func (h *TaskHandle) Await(ctx context.Context) (any, error) {
	select {
	case <-h.tc.Done():
		return h.tc.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// current_task-style ambient accessors (spec §6 "Current task")
// =============================================================================

// Current returns the TaskHandle-equivalent TaskContext running on the
// calling goroutine, and true. It returns (nil, false) outside a coroutine.
func Current() (*TaskContext, bool) { return core.CurrentTask() }

// Yield gives up the current task's scheduling slice and reschedules it
// immediately (spec §6 current_task::yield()). Must be called from inside
// a running task; otherwise panics with ErrOutsideCoroutine.
func Yield() { core.Yield() }

// ShouldCancel reports whether the current task has been cancel-requested
// and remains cancellable (spec §6 current_task::should_cancel()).
func ShouldCancel() bool { return core.ShouldCancel() }

// SetCancellable toggles the current task's cancellability, returning its
// previous value (spec §6 current_task::set_cancellable(bool)->prev).
func SetCancellable(v bool) bool { return core.SetCancellable(v) }

// SleepUntil suspends the current task until deadline (spec §6
// current_task::sleep_until(deadline)).
func SleepUntil(deadline time.Time) error { return core.SleepUntil(deadline) }

// =============================================================================
// Default process-wide Processor (singleton convenience)
// =============================================================================

var (
	defaultProcessor *Processor
	defaultMu        sync.Mutex
)

// InitDefaultProcessor starts the process-wide default Processor. A second
// call is a no-op.
func InitDefaultProcessor(opts ...Option) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultProcessor != nil {
		return
	}
	defaultProcessor = NewProcessor("default", opts...)
}

// DefaultProcessor returns the process-wide default Processor. It panics if
// InitDefaultProcessor has not been called first.
func DefaultProcessor() *Processor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultProcessor == nil {
		panic("corotask: default processor not initialized, call InitDefaultProcessor first")
	}
	return defaultProcessor
}

// ShutdownDefaultProcessor closes the process-wide default Processor, if
// one has been initialized.
func ShutdownDefaultProcessor() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultProcessor != nil {
		defaultProcessor.Close()
		defaultProcessor = nil
	}
}
