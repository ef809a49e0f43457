package core

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
)

// TaskProcessor is component E of the runtime (spec §4.5): an unbounded ready
// queue drained by Workers worker goroutines, each of which repeatedly pops
// a runnable TaskContext and calls step() on it until the task reaches a
// terminal state. It owns the CoroutinePool (component A) and EventPool
// (component B) its tasks' Sleep calls resume on.
type TaskProcessor struct {
	name      string
	config    *TaskProcessorConfig
	pool      *CoroutinePool
	eventPool *EventPool
	ready     *readyQueue
	history   executionHistory

	wakeCh chan struct{}
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	completed       atomic.Int64
	cancelled       atomic.Int64
	rejected        atomic.Int64
	cancelRequested atomic.Int64
}

// NewTaskProcessor starts cfg.Workers worker goroutines backed by a fresh
// coroutine pool and event pool. cfg is defaulted in-place: nil handlers and
// logger, Workers < 1 and TraceBudgetPerTask <= 0 take
// DefaultTaskProcessorConfig's values. Name is used as given, and a zero
// StackDumpThreshold disables the slow-step stack dump.
func NewTaskProcessor(cfg *TaskProcessorConfig) *TaskProcessor {
	if cfg == nil {
		cfg = DefaultTaskProcessorConfig("processor")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PanicHandler == nil {
		cfg.PanicHandler = &DefaultPanicHandler{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NilMetrics{}
	}
	if cfg.RejectedTaskHandler == nil {
		cfg.RejectedTaskHandler = &DefaultRejectedTaskHandler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NewNoOpLogger()
	}
	if cfg.TraceBudgetPerTask <= 0 {
		cfg.TraceBudgetPerTask = 64
	}

	p := &TaskProcessor{
		name:      cfg.Name,
		config:    cfg,
		pool:      NewCoroutinePool(cfg.MaxCoroutines),
		eventPool: NewEventPool(cfg.EventThreads),
		ready:     newReadyQueue(),
		history:   newExecutionHistory(defaultTaskHistoryCapacity),
		wakeCh:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// Spawn constructs a new TaskContext running payload and schedules it onto
// this processor's ready queue (spec §4.4/§4.5). It returns
// ErrSpawnFailure if the processor has already been closed.
func (p *TaskProcessor) Spawn(imp Importance, payload Payload) (*TaskContext, error) {
	if p.closed.Load() {
		p.rejected.Add(1)
		p.config.Metrics.RecordTaskRejected(p.name, "closed")
		p.config.RejectedTaskHandler.HandleRejectedTask(p.name, "closed")
		return nil, &ErrSpawnFailure{Cause: fmt.Errorf("processor %q is closed", p.name)}
	}
	tc := newTaskContext(p, imp, payload)
	tc.schedule()
	return tc, nil
}

func (p *TaskProcessor) enqueue(tc *TaskContext) {
	p.ready.Push(tc)
	p.config.Metrics.RecordQueueDepth(p.name, p.ready.Len())
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

func (p *TaskProcessor) recordCancelRequested(tc *TaskContext) {
	p.cancelRequested.Add(1)
	p.config.Metrics.RecordCancellation(p.name, tc.CancellationReason())
}

func (p *TaskProcessor) workerLoop() {
	defer p.wg.Done()
	for {
		tc, ok := p.ready.Pop()
		if !ok {
			select {
			case <-p.done:
				return
			case <-p.wakeCh:
				continue
			}
		}
		p.step(tc)
		p.config.Metrics.RecordCoroutinePoolSize(p.name, p.pool.Live())
	}
}

// step resumes tc's coroutine one slice: running it for the first time if
// it has no attached frame yet, or unblocking its pending Sleep call
// otherwise. It blocks until the coroutine yields again (spec §4.4 "Step").
func (p *TaskProcessor) step(tc *TaskContext) {
	if tc.State().IsTerminal() {
		return
	}

	bootstrap := tc.frame == nil
	if bootstrap {
		fr, err := p.pool.Acquire()
		if err != nil {
			p.rejected.Add(1)
			p.config.Metrics.RecordTaskRejected(p.name, "coroutine_pool_exhausted")
			p.config.RejectedTaskHandler.HandleRejectedTask(p.name, "coroutine_pool_exhausted")
			p.enqueue(tc) // retry later once a frame frees up
			return
		}
		tc.frame = fr
	}

	clearMask := FlagSleeping
	if bootstrap {
		clearMask |= FlagWakeupByBootstrap
	}
	fetchAndClearUint32(&tc.sleepState, uint32(clearMask))

	tc.setState(Running)
	startedAt := time.Now()

	var watchdog *time.Timer
	if threshold := p.config.StackDumpThreshold; threshold > 0 {
		watchdog = time.AfterFunc(threshold, func() {
			// Capture all goroutines: the offending payload runs on its own
			// frame goroutine, not the one this timer callback fires on.
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			p.config.Logger.Warn("task step exceeded stack dump threshold",
				F("task_id", tc.id.String()),
				F("threshold", threshold.String()),
				F("stack", string(buf[:n])),
			)
		})
	}

	var reason yieldReason
	if bootstrap {
		tc.frame.jobCh <- tc
	} else {
		tc.frame.resumeCh <- struct{}{}
	}
	reason = <-tc.frame.yieldCh

	if watchdog != nil {
		watchdog.Stop()
	}

	switch reason {
	case yieldComplete, yieldCancelled:
		final := Completed
		if reason == yieldCancelled {
			final = Cancelled
		}
		p.pool.Release(tc.frame)
		tc.frame = nil
		if final == Cancelled {
			// The state graph reaches Cancelled only from Suspended. No waker
			// can reschedule the task in between: Sleeping is clear.
			tc.setState(Suspended)
		}
		tc.setState(final)
		p.finishTask(tc, startedAt, final)

	case yieldWaiting:
		tc.setState(Suspended)
		newFlags := FlagSleeping
		if !tc.IsCancellable() {
			newFlags |= FlagNonCancellable
		}
		prev := SleepFlag(fetchOrUint32(&tc.sleepState, uint32(newFlags)))
		if !tc.IsCancellable() {
			prev &^= FlagWakeupByCancelRequest | FlagNonCancellable
		}
		if ws := tc.waitStrategy; ws != nil {
			ws.AfterAsleep(tc)
		}
		if prev != 0 {
			tc.schedule()
		}

	default:
		panic(ErrInvalidYield)
	}
}

func (p *TaskProcessor) finishTask(tc *TaskContext, startedAt time.Time, final State) {
	finishedAt := time.Now()
	if final == Completed {
		p.completed.Add(1)
	} else {
		p.cancelled.Add(1)
	}
	p.config.Metrics.RecordTaskDuration(p.name, tc.importance, finishedAt.Sub(startedAt))
	if tc.resultErr != nil {
		p.config.Metrics.RecordTaskPanic(p.name, tc.resultErr)
	}

	p.history.Add(TaskExecutionRecord{
		TaskID:        tc.id,
		Name:          resolveTaskName(tc.payload, ""),
		ProcessorName: p.name,
		Importance:    tc.importance,
		FinalState:    final,
		WakeupSource:  tc.WakeupSource(),
		CancelReason:  tc.CancellationReason(),
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Duration:      finishedAt.Sub(startedAt),
		Panicked:      tc.resultErr != nil,
	})

	tc.finishWaiters.Lock()
	tc.finishWaiters.WakeAll()
	tc.finishWaiters.Unlock()
	close(tc.doneCh)
}

// Stats returns a point-in-time snapshot of this processor's counters. The
// processor does not count running or suspended tasks: Running and
// Suspended are always zero.
func (p *TaskProcessor) Stats() ProcessorStats {
	return ProcessorStats{
		Name:            p.name,
		Workers:         p.config.Workers,
		Pending:         p.ready.Len(),
		CoroutinesLive:  p.pool.Live(),
		TasksCompleted:  p.completed.Load(),
		TasksCancelled:  p.cancelled.Load(),
		TasksRejected:   p.rejected.Load(),
		CancelRequested: p.cancelRequested.Load(),
		Closed:          p.closed.Load(),
	}
}

// RecentHistory returns up to limit of the most recently completed task
// executions, most recent first.
func (p *TaskProcessor) RecentHistory(limit int) []TaskExecutionRecord {
	return p.history.Recent(limit)
}

// Close stops accepting new Spawn calls, signals every worker goroutine to
// exit once the ready queue drains, and tears down the coroutine and event
// pools. It does not wait for in-flight tasks to finish; callers that need
// that should WaitUntil on each task first.
func (p *TaskProcessor) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.done)
	p.wg.Wait()
	p.pool.Close()
	p.eventPool.Close()
}

func fetchAndClearUint32(a *atomix.Uint32, bits uint32) uint32 {
	for {
		old := a.Load()
		if a.CompareAndSwap(old, old&^bits) {
			return old
		}
	}
}
