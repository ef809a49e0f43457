package queue

import (
	"time"

	"github.com/corotask/corotask/core"
)

// discipline is the blocking strategy a Queue uses to suspend a producer or
// consumer task cooperatively when the queue is, respectively, at its soft
// capacity or empty (spec §4.6). SP/SC and MP/MC get different
// implementations because a WaitList holds at most one waiter (spec §4.3)
// while a true multi-producer/multi-consumer queue may need to park more
// than one task on each side at once.
type discipline interface {
	// waitForSpace blocks tc until ready() reports true or the deadline
	// passes / tc is cancelled, re-checking ready() under the discipline's
	// own lock each time it is woken. The bool reports whether ready()
	// actually held on return: false means the deadline expired first.
	waitForSpace(tc *core.TaskContext, ready func() bool, deadline time.Time) (bool, error)

	// waitForItem is waitForSpace's consumer-side counterpart.
	waitForItem(tc *core.TaskContext, ready func() bool, deadline time.Time) (bool, error)

	// notifyPushed wakes whatever is blocked in waitForItem.
	notifyPushed()

	// notifyPopped wakes whatever is blocked in waitForSpace.
	notifyPopped()

	// notifyCapacityChanged wakes waitForSpace callers after SetSoftMaxSize
	// in case the new limit now admits them.
	notifyCapacityChanged()
}

// =============================================================================
// eventDiscipline: SP/SC, one-shot wake event per side (spec §4.6 "soft
// capacity via a one-shot wake-event discipline (SP/SC)")
// =============================================================================

type eventDiscipline struct {
	spaceAvailable core.WaitList
	itemAvailable  core.WaitList
}

func newEventDiscipline() *eventDiscipline {
	return &eventDiscipline{}
}

func (d *eventDiscipline) waitForSpace(tc *core.TaskContext, ready func() bool, deadline time.Time) (bool, error) {
	return waitOnList(tc, &d.spaceAvailable, ready, deadline)
}

func (d *eventDiscipline) waitForItem(tc *core.TaskContext, ready func() bool, deadline time.Time) (bool, error) {
	return waitOnList(tc, &d.itemAvailable, ready, deadline)
}

func (d *eventDiscipline) notifyPushed() {
	d.itemAvailable.Lock()
	d.itemAvailable.WakeOne()
	d.itemAvailable.Unlock()
}

func (d *eventDiscipline) notifyPopped() {
	d.spaceAvailable.Lock()
	d.spaceAvailable.WakeOne()
	d.spaceAvailable.Unlock()
}

func (d *eventDiscipline) notifyCapacityChanged() {
	d.spaceAvailable.Lock()
	d.spaceAvailable.WakeOne()
	d.spaceAvailable.Unlock()
}

func waitOnList(tc *core.TaskContext, wl *core.WaitList, ready func() bool, deadline time.Time) (bool, error) {
	for {
		if ready() {
			return true, nil
		}
		if !deadline.IsZero() && !deadline.After(time.Now()) {
			return false, nil
		}
		if err := tc.Sleep(&listWaitStrategy{wl: wl, ready: ready, deadline: deadline}); err != nil {
			return false, err
		}
	}
}

// listWaitStrategy backs the SP/SC disciplines: it registers tc on wl only
// if ready is still false under wl's lock, self-waking immediately
// otherwise — the same append-under-lock race closure as wait_strategy.go's
// finishWaitStrategy.
type listWaitStrategy struct {
	wl       *core.WaitList
	ready    func() bool
	deadline time.Time
}

func (s *listWaitStrategy) Deadline() time.Time { return s.deadline }

func (s *listWaitStrategy) AfterAsleep(tc *core.TaskContext) {
	s.wl.Lock()
	if s.ready() {
		s.wl.Unlock()
		tc.Wakeup(core.WakeupWaitList)
		return
	}
	s.wl.Append(tc)
	s.wl.Unlock()
}

func (s *listWaitStrategy) BeforeAwake(tc *core.TaskContext) {}
func (s *listWaitStrategy) WaitList() *core.WaitList         { return s.wl }

// =============================================================================
// semaphoreDiscipline: MP/MC, broadcast-and-recheck (spec §4.6 "counting-
// semaphore discipline (MP/MC)")
// =============================================================================

type semaphoreDiscipline struct {
	spaceAvailable core.MultiWaitList
	itemAvailable  core.MultiWaitList
}

func newSemaphoreDiscipline() *semaphoreDiscipline {
	return &semaphoreDiscipline{}
}

func (d *semaphoreDiscipline) waitForSpace(tc *core.TaskContext, ready func() bool, deadline time.Time) (bool, error) {
	return waitOnMultiList(tc, &d.spaceAvailable, ready, deadline)
}

func (d *semaphoreDiscipline) waitForItem(tc *core.TaskContext, ready func() bool, deadline time.Time) (bool, error) {
	return waitOnMultiList(tc, &d.itemAvailable, ready, deadline)
}

func (d *semaphoreDiscipline) notifyPushed() {
	d.itemAvailable.Lock()
	d.itemAvailable.WakeAll()
	d.itemAvailable.Unlock()
}

func (d *semaphoreDiscipline) notifyPopped() {
	d.spaceAvailable.Lock()
	d.spaceAvailable.WakeAll()
	d.spaceAvailable.Unlock()
}

func (d *semaphoreDiscipline) notifyCapacityChanged() {
	d.spaceAvailable.Lock()
	d.spaceAvailable.WakeAll()
	d.spaceAvailable.Unlock()
}

func waitOnMultiList(tc *core.TaskContext, wl *core.MultiWaitList, ready func() bool, deadline time.Time) (bool, error) {
	for {
		if ready() {
			return true, nil
		}
		if !deadline.IsZero() && !deadline.After(time.Now()) {
			return false, nil
		}
		if err := tc.Sleep(&multiListWaitStrategy{wl: wl, ready: ready, deadline: deadline}); err != nil {
			return false, err
		}
	}
}

// multiListWaitStrategy is the semaphoreDiscipline's WaitStrategy: every
// waiter registers on the shared MultiWaitList and is woken, along with
// every sibling waiter, on each push/pop — each then re-checks its own
// ready() and goes back to sleep if it lost the race, the standard
// broadcast-condition-variable pattern for a many-waiter rendezvous a plain
// WaitList (at most one waiter) cannot express.
type multiListWaitStrategy struct {
	wl       *core.MultiWaitList
	ready    func() bool
	deadline time.Time
}

func (s *multiListWaitStrategy) Deadline() time.Time { return s.deadline }

func (s *multiListWaitStrategy) AfterAsleep(tc *core.TaskContext) {
	s.wl.Lock()
	if s.ready() {
		s.wl.Unlock()
		tc.Wakeup(core.WakeupWaitList)
		return
	}
	s.wl.Append(tc)
	s.wl.Unlock()
}

func (s *multiListWaitStrategy) BeforeAwake(tc *core.TaskContext) {}
func (s *multiListWaitStrategy) WaitList() *core.WaitList         { return nil }
