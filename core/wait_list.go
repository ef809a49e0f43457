package core

import "sync"

// WaitList is the intrusive "at most one waiter" list of spec §4.3. It is
// the canonical suspension primitive every WaitStrategy is ultimately built
// on: append interleaves with readiness checks under the caller's Lock so
// a waiter appended before a concurrent Wake call is guaranteed to observe
// it — the same append-under-lock discipline the teacher uses for its
// sequenced-runner run/queue state (core/task_scheduler.go's mutex-guarded
// queue + signal channel), generalized to a single parked waiter instead of
// a task queue.
type WaitList struct {
	mu     sync.Mutex
	waiter *TaskContext
}

// Lock exposes the guarding mutex so callers can interleave a readiness
// check with Append/WakeOne/WakeAll atomically, closing the lost-wakeup
// race described in spec §4.3/§4.7.
func (wl *WaitList) Lock() {
	wl.mu.Lock()
}

// Unlock releases the guarding mutex.
func (wl *WaitList) Unlock() {
	wl.mu.Unlock()
}

// Append registers tc as the sole waiter. The caller must hold Lock.
// Appending a second waiter while one is already registered replaces it:
// WaitList holds at most one waiter per spec §4.3 ("at most one suspended
// task per primitive").
func (wl *WaitList) Append(tc *TaskContext) {
	wl.waiter = tc
}

// WakeOne wakes the sole waiter, if any, via Wakeup(WaitList). The caller
// must hold Lock; WakeOne unlocks internally before scheduling to avoid
// scheduling a task while still holding the list's lock.
func (wl *WaitList) WakeOne() {
	tc := wl.waiter
	wl.waiter = nil
	wl.mu.Unlock()
	if tc != nil {
		tc.wakeup(WakeupWaitList)
	}
	wl.mu.Lock()
}

// Remove best-effort removes tc from the list if it is still the
// registered waiter. Used when a wakeup source other than WaitList resolves
// first and the task never needs to be woken by this list (spec §4.4 Sleep
// step 4: "best-effort remove this from the strategy's wait list").
func (wl *WaitList) Remove(tc *TaskContext) {
	wl.mu.Lock()
	if wl.waiter == tc {
		wl.waiter = nil
	}
	wl.mu.Unlock()
}

// MultiWaitList is the chained-list variant used by finish_waiters, which
// may hold many tasks waiting for one task to finish (spec §4.3: "broadcast
// variant, for finish waiters, which may be many via a chained list").
type MultiWaitList struct {
	mu      sync.Mutex
	waiters []*TaskContext
}

func (wl *MultiWaitList) Lock()   { wl.mu.Lock() }
func (wl *MultiWaitList) Unlock() { wl.mu.Unlock() }

// Append registers tc as an additional waiter. The caller must hold Lock.
func (wl *MultiWaitList) Append(tc *TaskContext) {
	wl.waiters = append(wl.waiters, tc)
}

// WakeAll wakes every registered waiter via Wakeup(WaitList) and drains the
// list. The caller must hold Lock; WakeAll unlocks internally while
// scheduling woken tasks.
func (wl *MultiWaitList) WakeAll() {
	waiters := wl.waiters
	wl.waiters = nil
	wl.mu.Unlock()
	for _, tc := range waiters {
		tc.wakeup(WakeupWaitList)
	}
	wl.mu.Lock()
}

// Remove best-effort removes tc if still present.
func (wl *MultiWaitList) Remove(tc *TaskContext) {
	wl.mu.Lock()
	for i, w := range wl.waiters {
		if w == tc {
			wl.waiters = append(wl.waiters[:i], wl.waiters[i+1:]...)
			break
		}
	}
	wl.mu.Unlock()
}
