package core

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
)

// TaskContext is the per-task control block (spec §4.4): identity, lifecycle
// state, the sleep/wakeup race bitset, and the coroutine frame currently
// running its Payload, if any. Every field that can be touched from more
// than one goroutine is atomic; fields touched only from the task's own
// coroutine (waitStrategy, frame while attached) rely on the step/resume
// rendezvous as their happens-before edge instead of a lock.
type TaskContext struct {
	id         TaskID
	importance Importance
	payload    Payload
	processor  *TaskProcessor

	state              atomic.Int32 // State
	cancellationReason atomic.Int32 // CancellationReason
	isCancellable      atomic.Bool
	detached           atomic.Bool
	wakeupSource       atomic.Int32 // WakeupSource

	// sleepState is the fetch_or race bitset of spec §4.4 "Wakeup". Backed
	// by atomix.Uint32 rather than sync/atomic directly, following the
	// typed-atomic convention the wider example pack uses for this kind of
	// racy bitset (code.hybscloud.com/atomix, also used by the queue
	// package's handle counters).
	sleepState atomix.Uint32

	frame        *frame
	waitStrategy WaitStrategy

	finishWaiters MultiWaitList
	doneCh        chan struct{}

	traceBudget atomic.Int32

	result    any
	resultErr error

	createdAt time.Time
}

// newTaskContext builds a TaskContext in state New, owned by proc.
func newTaskContext(proc *TaskProcessor, imp Importance, payload Payload) *TaskContext {
	tc := &TaskContext{
		id:         GenerateTaskID(),
		importance: imp,
		payload:    payload,
		processor:  proc,
		createdAt:  time.Now(),
		doneCh:     make(chan struct{}),
	}
	tc.state.Store(int32(New))
	tc.isCancellable.Store(true)
	tc.traceBudget.Store(proc.config.TraceBudgetPerTask)
	return tc
}

// ID reports the task's process-wide identity.
func (tc *TaskContext) ID() TaskID { return tc.id }

// Importance reports the immutable importance chosen at construction.
func (tc *TaskContext) Importance() Importance { return tc.importance }

// State atomically reads the current lifecycle state.
func (tc *TaskContext) State() State { return State(tc.state.Load()) }

// WakeupSource reports the cause of the task's last awakening, valid only
// after a Sleep call has returned.
func (tc *TaskContext) WakeupSource() WakeupSource { return WakeupSource(tc.wakeupSource.Load()) }

// IsCancellable reports whether the task is currently in a cancellable
// region.
func (tc *TaskContext) IsCancellable() bool { return tc.isCancellable.Load() }

// IsDetached reports whether SetDetached has been called.
func (tc *TaskContext) IsDetached() bool { return tc.detached.Load() }

// Result returns the value and error the payload finished with. Only
// meaningful once State().IsTerminal().
func (tc *TaskContext) Result() (any, error) { return tc.result, tc.resultErr }

// Done returns a channel closed exactly once the task reaches a terminal
// state. Unlike finishWaiters (which wakes other coroutines through the
// Sleep machinery), Done lets a plain goroutine outside the task runtime
// block on completion with a normal select, the same way context.Context's
// Done works.
func (tc *TaskContext) Done() <-chan struct{} { return tc.doneCh }

// setState performs a validated transition. Arrival at a state once the
// task is already terminal is ignored (spec §4.4); any other invalid
// transition is a runtime invariant violation.
func (tc *TaskContext) setState(to State) {
	for {
		from := State(tc.state.Load())
		if from.IsTerminal() {
			return
		}
		if !validTransition(from, to) {
			panic(&ErrInvalidStateTransition{From: from, To: to})
		}
		if tc.state.CompareAndSwap(int32(from), int32(to)) {
			tc.traceTransition(from, to)
			return
		}
	}
}

func (tc *TaskContext) traceTransition(from, to State) {
	if tc.traceBudget.Add(-1) < 0 {
		return
	}
	tc.processor.config.Logger.Debug("task state transition",
		F("task_id", tc.id.String()),
		F("from", from.String()),
		F("to", to.String()),
	)
}

// schedule marks the task Queued and hands it to its processor's ready
// queue. Called both for the first schedule (from New) and every
// reschedule after a wakeup (from Suspended).
func (tc *TaskContext) schedule() {
	tc.setState(Queued)
	tc.processor.enqueue(tc)
}

// SetCancellable toggles the task's own cancellability and returns the
// previous value. Only ever called from the task's own coroutine.
func (tc *TaskContext) SetCancellable(v bool) bool {
	return tc.isCancellable.Swap(v)
}

// NonCancellable runs fn with cancellability suspended, restoring the prior
// value afterward even if fn panics (spec §4.4 "non-cancellable region").
func (tc *TaskContext) NonCancellable(fn func()) {
	prev := tc.SetCancellable(false)
	defer tc.SetCancellable(prev)
	fn()
}

// SetDetached marks the task as not requiring a caller to observe its
// result; its finish_waiters list is still woken normally.
func (tc *TaskContext) SetDetached() { tc.detached.Store(true) }

// RequestCancel latches reason as the task's cancellation cause if none has
// been latched yet, then raises a cancel wakeup. Returns false if the task
// was already cancel-requested (the first reason wins) or reason is
// CancelNone.
func (tc *TaskContext) RequestCancel(reason CancellationReason) bool {
	if reason == CancelNone {
		return false
	}
	if !tc.cancellationReason.CompareAndSwap(int32(CancelNone), int32(reason)) {
		return false
	}
	tc.processor.recordCancelRequested(tc)
	tc.wakeup(WakeupCancelRequest)
	return true
}

// CancellationReason reports the latched reason, or CancelNone if the task
// has never been cancel-requested.
func (tc *TaskContext) CancellationReason() CancellationReason {
	return CancellationReason(tc.cancellationReason.Load())
}

// ShouldCancel reports whether the task has been cancel-requested and is
// currently cancellable. Payloads call this cooperatively at their own
// cancellation points (spec §4.4).
func (tc *TaskContext) ShouldCancel() bool {
	return tc.cancellationReason.Load() != int32(CancelNone) && tc.IsCancellable()
}

func fetchOrUint32(a *atomix.Uint32, bits uint32) uint32 {
	for {
		old := a.Load()
		if a.CompareAndSwap(old, old|bits) {
			return old
		}
	}
}

func wakeupBit(source WakeupSource) SleepFlag {
	switch source {
	case WakeupWaitList:
		return FlagWakeupByWaitList
	case WakeupDeadlineTimer:
		return FlagWakeupByDeadlineTimer
	case WakeupBootstrap:
		return FlagWakeupByBootstrap
	case WakeupCancelRequest:
		return FlagWakeupByCancelRequest
	default:
		return 0
	}
}

// wakeup sets source's bit in sleepState and, if the bit was the first one
// to land since the task parked, reschedules it. Cancel wakeups are
// suppressed entirely while the task is in a non-cancellable region (spec
// §4.4 "Wakeup"): the cancellation reason is still latched by RequestCancel,
// it simply has no scheduling effect until the region ends and some other
// source wakes the task.
func (tc *TaskContext) wakeup(source WakeupSource) {
	if source == WakeupCancelRequest {
		if SleepFlag(tc.sleepState.Load())&FlagNonCancellable != 0 {
			return
		}
	}

	bit := wakeupBit(source)
	prev := SleepFlag(fetchOrUint32(&tc.sleepState, uint32(bit)))

	var shouldSchedule bool
	switch source {
	case WakeupBootstrap:
		shouldSchedule = prev&FlagSleeping != 0
	case WakeupCancelRequest:
		shouldSchedule = prev == FlagSleeping
	default:
		masked := prev
		if masked&FlagNonCancellable != 0 {
			masked &^= FlagNonCancellable | FlagWakeupByCancelRequest
		}
		shouldSchedule = masked == FlagSleeping
	}
	if shouldSchedule {
		tc.schedule()
	}
}

// Wakeup is the exported form of wakeup, used by synchronization primitives
// outside this package's own WaitList/WaitStrategy machinery (e.g. the queue
// package's producer/consumer disciplines) to resume a specific waiter.
func (tc *TaskContext) Wakeup(source WakeupSource) { tc.wakeup(source) }

// Sleep suspends the calling coroutine until ws's readiness condition is
// met, its deadline passes, or the task is cancelled out from under it
// (spec §4.4 "Sleep"). It must be called from inside the task's own
// coroutine. Nested Sleep calls (a primitive's AfterAsleep itself blocking)
// save and restore the outer strategy as a stack discipline.
func (tc *TaskContext) Sleep(ws WaitStrategy) error {
	outer := tc.waitStrategy
	tc.waitStrategy = ws
	defer func() { tc.waitStrategy = outer }()

	var timer *deadlineTimer
	if deadline := ws.Deadline(); !deadline.IsZero() {
		if !deadline.After(time.Now()) {
			tc.wakeup(WakeupDeadlineTimer)
		} else if tc.processor.eventPool != nil {
			timer = tc.processor.eventPool.NextThread().ArmTimer(deadline, func() {
				tc.wakeup(WakeupDeadlineTimer)
			})
		}
	}

	fr := tc.frame
	fr.yieldCh <- yieldWaiting
	<-fr.resumeCh

	if timer != nil {
		timer.Stop()
	}
	if SleepFlag(tc.sleepState.Load())&FlagWakeupByWaitList == 0 {
		if wl := ws.WaitList(); wl != nil {
			wl.Remove(tc)
		}
	}
	flags := SleepFlag(tc.sleepState.Swap(0))
	source := resolveWakeupSource(flags)
	tc.wakeupSource.Store(int32(source))
	tc.processor.config.Metrics.RecordWakeup(tc.processor.name, source)
	ws.BeforeAwake(tc)
	tc.sleepState.Store(0)

	if tc.ShouldCancel() {
		return &ErrWaitInterrupted{Reason: tc.CancellationReason()}
	}
	return nil
}

// SleepUntil suspends until deadline with no external wait list: a plain
// timed sleep.
func (tc *TaskContext) SleepUntil(deadline time.Time) error {
	return tc.Sleep(&deadlineWaitStrategy{deadline: deadline})
}

// WaitUntil blocks waiter until tc finishes or deadline passes, called from
// inside waiter's own coroutine (spec §4.4 "Wait for finish"). If tc has
// already finished, it returns immediately.
func (tc *TaskContext) WaitUntil(waiter *TaskContext, deadline time.Time) error {
	if tc.State().IsTerminal() {
		return nil
	}
	if waiter.ShouldCancel() {
		return &ErrWaitInterrupted{Reason: waiter.CancellationReason()}
	}
	if err := waiter.Sleep(&finishWaitStrategy{target: tc, deadline: deadline}); err != nil {
		return err
	}
	if !tc.State().IsTerminal() && waiter.ShouldCancel() {
		return &ErrWaitInterrupted{Reason: waiter.CancellationReason()}
	}
	return nil
}

// shouldBypassPayload reports whether runOnFrame should skip invoking the
// payload entirely and report the task as cancelled without running it.
// Critical tasks are exempt (spec §4.4 "Critical tasks always start").
func (tc *TaskContext) shouldBypassPayload() bool {
	return tc.importance != Critical && tc.ShouldCancel()
}

// runOnFrame runs the task's payload to completion on fr, including every
// intermediate Sleep-driven suspension. It is called exactly once per task,
// by the frame goroutine that owns fr for this task's lifetime.
func (tc *TaskContext) runOnFrame(fr *frame) {
	tc.frame = fr

	if tc.shouldBypassPayload() {
		fr.yieldCh <- yieldCancelled
		return
	}

	func() {
		registerCurrent(tc)
		defer unregisterCurrent()
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				tc.processor.config.PanicHandler.HandlePanic(tc.id.String(), tc.processor.name, r, stack)
				tc.resultErr = fmt.Errorf("task panicked: %v", r)
			}
		}()
		tc.result, tc.resultErr = tc.payload(tc)
	}()

	fr.yieldCh <- yieldComplete
}
