package core

import (
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task's Payload panics. Implementations must
// be safe to call concurrently: every worker goroutine in a TaskProcessor
// can trigger one independently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - taskID: the string form of the panicking task's TaskID
	// - processorName: the name of the owning TaskProcessor
	// - panicInfo: the panic value recovered from the task
	// - stackTrace: the stack trace at the time of panic
	HandlePanic(taskID string, processorName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs to stdout.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(taskID string, processorName string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[%s %s] panic: %v\n%s", processorName, taskID, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting runtime metrics. Implementations
// (internal/obsprom in this module) must be non-blocking and fast to
// avoid impacting task execution.
type Metrics interface {
	// RecordTaskDuration records how long a task's final step ran on a
	// worker, from its last resume to its terminal state; earlier steps of
	// a task that slept are not included.
	RecordTaskDuration(processorName string, importance Importance, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(processorName string, panicInfo any)

	// RecordQueueDepth records the current ready-queue depth.
	RecordQueueDepth(processorName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g. during
	// shutdown, or coroutine pool exhaustion).
	RecordTaskRejected(processorName string, reason string)

	// RecordWakeup records the resolved WakeupSource of a completed Sleep.
	RecordWakeup(processorName string, source WakeupSource)

	// RecordCancellation records a RequestCancel call reaching its first
	// successful compare-exchange, tagged by reason.
	RecordCancellation(processorName string, reason CancellationReason)

	// RecordCoroutinePoolSize records the live frame count of a processor's
	// coroutine pool (idle + on loan).
	RecordCoroutinePoolSize(processorName string, live int)
}

// NilMetrics is a no-op Metrics, the default when none is configured.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(string, Importance, time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(string, any)                         {}
func (m *NilMetrics) RecordQueueDepth(string, int)                        {}
func (m *NilMetrics) RecordTaskRejected(string, string)                   {}
func (m *NilMetrics) RecordWakeup(string, WakeupSource)                   {}
func (m *NilMetrics) RecordCancellation(string, CancellationReason)       {}
func (m *NilMetrics) RecordCoroutinePoolSize(string, int)                 {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected spawns
// =============================================================================

// RejectedTaskHandler is called when Spawn is refused because the processor
// is closed, and each time a task's first step finds the coroutine pool at
// capacity (the task is then re-queued, not dropped).
type RejectedTaskHandler interface {
	HandleRejectedTask(processorName string, reason string)
}

// DefaultRejectedTaskHandler logs the rejection.
type DefaultRejectedTaskHandler struct{}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(processorName string, reason string) {
	fmt.Printf("[%s] task rejected: %s", processorName, reason)
}

// =============================================================================
// TaskProcessorConfig: Configuration for TaskProcessor
// =============================================================================

// TaskProcessorConfig holds the tunables for a TaskProcessor (spec §4.5).
// All handlers are optional; unset fields fall back to the Default* values.
type TaskProcessorConfig struct {
	// Name identifies the processor in logs and metrics.
	Name string

	// Workers is the number of worker goroutines stepping ready tasks
	// concurrently. Must be >= 1.
	Workers int

	// MaxCoroutines bounds the coroutine pool's live frame count; <= 0 means
	// unbounded. Acquire past this bound fails with ErrSpawnFailure.
	MaxCoroutines int

	// EventThreads is the number of NextThread() loops backing deadline
	// timers (component B); <= 0 defaults to 1.
	EventThreads int

	// TraceBudgetPerTask caps how many state-transition log lines a single
	// task emits over its lifetime, so a task stuck in a Sleep/wake churn
	// loop cannot flood the log (supplemented feature, grounded on
	// original_source/'s per-task trace counters).
	TraceBudgetPerTask int32

	// StackDumpThreshold: a step() call running longer than this triggers a
	// one-off runtime.Stack capture of all goroutines logged at Warn, to catch a
	// payload that blocked without going through Sleep (supplemented
	// feature).
	StackDumpThreshold time.Duration

	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
	Logger              Logger
}

// DefaultTaskProcessorConfig returns a config with sensible defaults: 1
// worker goroutine, an unbounded coroutine pool, a single event thread,
// no-op metrics and logger, and panic/rejection handlers that print to
// stdout.
func DefaultTaskProcessorConfig(name string) *TaskProcessorConfig {
	return &TaskProcessorConfig{
		Name:               name,
		Workers:            1,
		MaxCoroutines:      0,
		EventThreads:       1,
		TraceBudgetPerTask: 64,
		StackDumpThreshold: 5 * time.Second,

		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
		Logger:              NewNoOpLogger(),
	}
}
