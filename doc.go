// Package corotask is a cooperative M:N task runtime: tasks are goroutines
// running inside reusable coroutine frames, suspended and resumed through a
// small set of wait primitives instead of blocking an OS thread directly.
//
// # Quick Start
//
// Start a processor and spawn a task:
//
//	proc := corotask.NewProcessor("workers", corotask.WithWorkers(4))
//	defer proc.Close()
//
//	handle, err := proc.Spawn(corotask.Normal, func(tc *core.TaskContext) (any, error) {
//		if err := tc.SleepUntil(time.Now().Add(100 * time.Millisecond)); err != nil {
//			return nil, err
//		}
//		return "done", nil
//	})
//
//	result, err := handle.Await(context.Background())
//
// # Key Concepts
//
// TaskContext is the per-task control block: identity, lifecycle state, and
// the Sleep/Wakeup primitives a task's own payload calls to suspend itself
// cooperatively. It is handed directly to the payload function, which is
// the preferred way to reach it. Current, Yield, ShouldCancel,
// SetCancellable, and SleepUntil also expose it ambiently by goroutine
// identity, for code that cannot easily thread a *TaskContext through —
// calling any of them outside a running task panics with
// ErrOutsideCoroutine.
//
// TaskHandle is the caller-side view of a spawned task: Await, inspect
// State, or RequestCancel it from outside the task's own coroutine.
//
// Importance is Normal or Critical. A Critical task always runs its payload
// at least once even if cancel-requested before its first step; Normal
// tasks may be skipped entirely in that case.
//
// Queue (see the queue subpackage) is a bounded concurrent queue for
// passing values between tasks, parameterized by producer/consumer
// multiplicity the same way the underlying lock-free queue is.
package corotask
