package core

import "time"

// WaitStrategy is the interface every suspending synchronization primitive
// hands to Sleep (spec §4.7). after_asleep/before_awake let a primitive
// register on its own wait list and cancel racy wakers without Sleep itself
// knowing anything about the primitive's readiness condition.
type WaitStrategy interface {
	// Deadline returns the absolute time after which Sleep gives up, or the
	// zero Time for "no deadline."
	Deadline() time.Time

	// AfterAsleep runs after the task is parked (Suspended, sleep_state
	// carries Sleeping). It registers the task on the primitive's wait
	// list and, if the readiness condition already changed in the
	// interval between the caller's last check and this registration,
	// wakes the task itself immediately — this is what closes the
	// lost-wakeup race (spec §4.7).
	AfterAsleep(tc *TaskContext)

	// BeforeAwake runs before the task observes its resumption. It must
	// cancel any racy wakers still pending (e.g. a deadline timer that
	// fired after the primitive's condition was already satisfied).
	BeforeAwake(tc *TaskContext)

	// WaitList optionally exposes the primitive's wait list so the
	// runtime can best-effort remove the task from it when the wakeup
	// source resolves to something other than WaitList.
	WaitList() *WaitList
}

// deadlineWaitStrategy is the WaitStrategy used directly by
// TaskContext.SleepUntil: no external wait list, readiness is purely
// deadline-driven.
type deadlineWaitStrategy struct {
	deadline time.Time
}

func (d *deadlineWaitStrategy) Deadline() time.Time        { return d.deadline }
func (d *deadlineWaitStrategy) AfterAsleep(tc *TaskContext) {}
func (d *deadlineWaitStrategy) BeforeAwake(tc *TaskContext) {}
func (d *deadlineWaitStrategy) WaitList() *WaitList         { return nil }

// finishWaitStrategy backs TaskContext.WaitUntil (spec §4.4 "Wait for
// finish"): after_asleep appends the waiter under the target's
// finish_waiters lock and immediately self-wakes if the target already
// finished in the interval, closing the append-before-finish race.
type finishWaitStrategy struct {
	target   *TaskContext
	deadline time.Time
}

func (f *finishWaitStrategy) Deadline() time.Time { return f.deadline }

func (f *finishWaitStrategy) AfterAsleep(tc *TaskContext) {
	f.target.finishWaiters.Lock()
	if !f.target.State().IsTerminal() {
		f.target.finishWaiters.Append(tc)
		f.target.finishWaiters.Unlock()
		return
	}
	// Target already finished: self-wake without ever registering.
	f.target.finishWaiters.Unlock()
	tc.wakeup(WakeupWaitList)
}

func (f *finishWaitStrategy) BeforeAwake(tc *TaskContext) {}

func (f *finishWaitStrategy) WaitList() *WaitList { return nil }
