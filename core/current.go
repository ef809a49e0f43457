package core

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// curGoroutineID recovers the calling goroutine's id by parsing the header
// runtime.Stack always writes first ("goroutine 123 [running]:\n"). It
// returns 0 if the header can't be parsed. Grounded on the same best-effort
// idiom the wider pack uses for goroutine-scoped state without threading a
// context through every call (evan-idocoding-zkit's rt/tuning
// curGoroutineID) — this is the Go substitute for the thread-local-storage
// slot spec §3 describes, since a frame's goroutine is dedicated to exactly
// one running task at a time for that goroutine's whole lifetime.
func curGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if len(b) < len(prefix) || !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	var id uint64
	i := len(prefix)
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// currentTasks maps a frame goroutine's id to the TaskContext currently
// running its payload there. registerCurrent/unregisterCurrent bracket
// every payload invocation in runOnFrame; CurrentTask and the current_task-
// style free functions below read it.
var currentTasks sync.Map // uint64 -> *TaskContext

func registerCurrent(tc *TaskContext) {
	if gid := curGoroutineID(); gid != 0 {
		currentTasks.Store(gid, tc)
	}
}

func unregisterCurrent() {
	if gid := curGoroutineID(); gid != 0 {
		currentTasks.Delete(gid)
	}
}

// CurrentTask returns the TaskContext whose payload is running on the
// calling goroutine, and true. It returns (nil, false) outside a coroutine.
func CurrentTask() (*TaskContext, bool) {
	gid := curGoroutineID()
	if gid == 0 {
		return nil, false
	}
	v, ok := currentTasks.Load(gid)
	if !ok {
		return nil, false
	}
	return v.(*TaskContext), true
}

// mustCurrent is the entry point every current_task free function (spec
// §6) funnels through. Calling one with no task attached to the calling
// goroutine is a programmer error (spec §7 OutsideCoroutine): diagnosed
// with a stack trace and thrown, not silently ignored.
func mustCurrent() *TaskContext {
	tc, ok := CurrentTask()
	if !ok {
		panic(fmt.Errorf("%w\n%s", ErrOutsideCoroutine, debug.Stack()))
	}
	return tc
}

// Yield gives up the rest of the current task's scheduling slice and
// reschedules it immediately, letting other ready tasks run first (spec §6
// current_task::yield()). It must be called from inside a running task.
func Yield() {
	_ = mustCurrent().SleepUntil(time.Now())
}

// ShouldCancel reports whether the current task has been cancel-requested
// and remains cancellable (spec §6 current_task::should_cancel()).
func ShouldCancel() bool {
	return mustCurrent().ShouldCancel()
}

// SetCancellable toggles the current task's cancellability and returns its
// previous value (spec §6 current_task::set_cancellable(bool)->prev).
func SetCancellable(v bool) bool {
	return mustCurrent().SetCancellable(v)
}

// SleepUntil suspends the current task until deadline passes or it is
// otherwise woken (spec §6 current_task::sleep_until(deadline)).
func SleepUntil(deadline time.Time) error {
	return mustCurrent().SleepUntil(deadline)
}
