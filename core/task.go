package core

import (
	"fmt"
	"sync/atomic"
)

// Payload is the one-shot callable a TaskContext invokes exactly once
// inside its coroutine frame.
type Payload func(ctx *TaskContext) (any, error)

// TaskID is a process-wide monotone identity token. The zero value is
// never handed out by GenerateTaskID and reports IsZero() == true.
type TaskID uint64

var taskIDCounter uint64

// GenerateTaskID returns the next process-wide task identity.
func GenerateTaskID() TaskID {
	return TaskID(atomic.AddUint64(&taskIDCounter, 1))
}

// IsZero reports whether id is the unset TaskID.
func (id TaskID) IsZero() bool {
	return id == 0
}

// String renders the TaskID for logs and traces.
func (id TaskID) String() string {
	return fmt.Sprintf("task-%d", uint64(id))
}

// Importance is an immutable marker chosen at task construction. Critical
// tasks always run their payload at least once, even if already
// cancel-requested before their first step (spec §4.4).
type Importance int

const (
	Normal Importance = iota
	Critical
)

func (imp Importance) String() string {
	if imp == Critical {
		return "critical"
	}
	return "normal"
}

// State is the task lifecycle. The graph permits only:
// New->Queued, Queued->Running, Running->Suspended, Running->Completed,
// Suspended->Queued, Suspended->Cancelled. Completed/Cancelled are terminal.
type State int

const (
	Invalid State = iota
	New
	Queued
	Running
	Suspended
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool {
	return s == Completed || s == Cancelled
}

// validTransition reports whether the state graph permits from->to.
func validTransition(from, to State) bool {
	switch from {
	case New:
		return to == Queued
	case Queued:
		return to == Running
	case Running:
		return to == Suspended || to == Completed
	case Suspended:
		return to == Queued || to == Cancelled
	default:
		return false
	}
}

// CancellationReason explains why a task was cancel-requested. It is a
// write-once value: the first successful compare-exchange from None wins
// and every later request is ignored.
type CancellationReason int32

const (
	CancelNone CancellationReason = iota
	CancelUserRequest
	CancelOverload
	CancelShutdown
	CancelAbandoned
)

func (r CancellationReason) String() string {
	switch r {
	case CancelUserRequest:
		return "user_request"
	case CancelOverload:
		return "overload"
	case CancelShutdown:
		return "shutdown"
	case CancelAbandoned:
		return "abandoned"
	default:
		return "none"
	}
}

// SleepFlag is a bit in TaskContext.sleepState. Multiple wakeup sources may
// race to set their bit concurrently; exactly one observes itself as the
// first and reschedules the task (spec §4.4 "Wakeup").
type SleepFlag uint32

const (
	FlagSleeping SleepFlag = 1 << iota
	FlagNonCancellable
	FlagWakeupByWaitList
	FlagWakeupByDeadlineTimer
	FlagWakeupByCancelRequest
	FlagWakeupByBootstrap
)

// WakeupSource is the resolved cause of the task's last awakening, visible
// to the task via TaskContext.WakeupSource(). Priority on resolution,
// highest first: WaitList > DeadlineTimer > Bootstrap > CancelRequest.
type WakeupSource int

const (
	WakeupNone WakeupSource = iota
	WakeupWaitList
	WakeupDeadlineTimer
	WakeupBootstrap
	WakeupCancelRequest
)

func (w WakeupSource) String() string {
	switch w {
	case WakeupWaitList:
		return "wait_list"
	case WakeupDeadlineTimer:
		return "deadline_timer"
	case WakeupBootstrap:
		return "bootstrap"
	case WakeupCancelRequest:
		return "cancel_request"
	default:
		return "none"
	}
}

// resolveWakeupSource applies the priority table to a resolved sleep-state
// snapshot: WaitList > DeadlineTimer > Bootstrap > CancelRequest, with
// CancelRequest eligible only when FlagNonCancellable is clear.
func resolveWakeupSource(flags SleepFlag) WakeupSource {
	switch {
	case flags&FlagWakeupByWaitList != 0:
		return WakeupWaitList
	case flags&FlagWakeupByDeadlineTimer != 0:
		return WakeupDeadlineTimer
	case flags&FlagWakeupByBootstrap != 0:
		return WakeupBootstrap
	case flags&FlagWakeupByCancelRequest != 0 && flags&FlagNonCancellable == 0:
		return WakeupCancelRequest
	default:
		return WakeupNone
	}
}
