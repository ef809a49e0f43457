package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T, workers int) *TaskProcessor {
	t.Helper()
	cfg := DefaultTaskProcessorConfig("test")
	cfg.Workers = workers
	p := NewTaskProcessor(cfg)
	t.Cleanup(p.Close)
	return p
}

// TestTaskProcessor_SpawnCompletes verifies the basic New->Queued->Running->
// Completed path (spec §4.4 state graph) and that Result() reflects the
// payload's return value.
func TestTaskProcessor_SpawnCompletes(t *testing.T) {
	p := newTestProcessor(t, 2)

	tc, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	<-tc.Done()
	require.Equal(t, Completed, tc.State())
	result, err := tc.Result()
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}

// TestTaskProcessor_SleepUntilResumes verifies a deadline-driven Sleep
// suspends the task and resumes it via the deadline timer wakeup source.
func TestTaskProcessor_SleepUntilResumes(t *testing.T) {
	p := newTestProcessor(t, 2)

	start := time.Now()
	tc, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
		if err := tc.SleepUntil(time.Now().Add(30 * time.Millisecond)); err != nil {
			return nil, err
		}
		return tc.WakeupSource(), nil
	})
	require.NoError(t, err)

	<-tc.Done()
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	result, err := tc.Result()
	require.NoError(t, err)
	require.Equal(t, WakeupDeadlineTimer, result)
}

// TestTaskProcessor_CriticalAlwaysRuns verifies spec §4.4 "Critical tasks
// always start": a Critical task cancel-requested before its first step
// still runs its payload, while a Normal task in the same race is skipped.
func TestTaskProcessor_CriticalAlwaysRuns(t *testing.T) {
	// A single worker lets us serialize: hold the worker busy on a blocker
	// task so both Spawn+RequestCancel calls land before either task's
	// first step runs.
	p := newTestProcessor(t, 1)

	unblock := make(chan struct{})
	blocker, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
		<-unblock
		return nil, nil
	})
	require.NoError(t, err)

	var normalRan, criticalRan atomic.Bool
	normal, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
		normalRan.Store(true)
		return nil, nil
	})
	require.NoError(t, err)
	critical, err := p.Spawn(Critical, func(tc *TaskContext) (any, error) {
		criticalRan.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	require.True(t, normal.RequestCancel(CancelOverload))
	require.True(t, critical.RequestCancel(CancelOverload))

	close(unblock)
	<-blocker.Done()
	<-normal.Done()
	<-critical.Done()

	require.False(t, normalRan.Load(), "a cancel-requested Normal task must not run its payload")
	require.True(t, criticalRan.Load(), "a Critical task must run its payload at least once")
	require.Equal(t, Cancelled, normal.State())
	require.Equal(t, Completed, critical.State())
}

// TestTaskProcessor_NonCancellableSuppressesCancel verifies spec §8 property
// 3 / scenario S2: a task that enters a non-cancellable region while
// sleeping on a manual wait list is not resumed by a cancel wakeup alone; a
// later explicit wake resumes it, and ShouldCancel reports true once it
// leaves the region.
func TestTaskProcessor_NonCancellableSuppressesCancel(t *testing.T) {
	p := newTestProcessor(t, 1)

	var wl WaitList
	enteredRegion := make(chan struct{})
	observedCancelInRegion := make(chan bool, 1)

	tc, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
		prev := tc.SetCancellable(false)
		close(enteredRegion)
		_ = tc.Sleep(&manualListStrategy{wl: &wl})
		observedCancelInRegion <- tc.ShouldCancel()
		tc.SetCancellable(prev)
		return tc.ShouldCancel(), nil
	})
	require.NoError(t, err)

	<-enteredRegion
	// Give the task a moment to actually park (sleep_state carries
	// Sleeping) before racing the cancel against it.
	time.Sleep(10 * time.Millisecond)

	require.True(t, tc.RequestCancel(CancelUserRequest))
	// The cancel alone must not resume the task: it should still be
	// Suspended a little while later.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Suspended, tc.State())

	wl.Lock()
	wl.WakeOne()
	wl.Unlock()

	require.False(t, <-observedCancelInRegion, "ShouldCancel must read false while non-cancellable")

	<-tc.Done()
	result, err := tc.Result()
	require.NoError(t, err)
	require.Equal(t, true, result, "ShouldCancel must read true after leaving the non-cancellable region")
}

// manualListStrategy is a minimal WaitStrategy over a bare WaitList, used to
// park a task indefinitely for tests that drive wakeups by hand.
type manualListStrategy struct {
	wl *WaitList
}

func (m *manualListStrategy) Deadline() time.Time { return time.Time{} }
func (m *manualListStrategy) AfterAsleep(tc *TaskContext) {
	m.wl.Lock()
	m.wl.Append(tc)
	m.wl.Unlock()
}
func (m *manualListStrategy) BeforeAwake(tc *TaskContext) {}
func (m *manualListStrategy) WaitList() *WaitList          { return m.wl }

// TestTaskProcessor_ExactlyOneWakeup verifies spec §8 property 1: under N
// racing Wakeup calls on a Suspended task, exactly one schedules it. The
// payload increments a counter each time it actually resumes past the
// Sleep call; across many repetitions the counter must equal the number of
// repetitions exactly (never more, never less).
func TestTaskProcessor_ExactlyOneWakeup(t *testing.T) {
	p := newTestProcessor(t, 4)

	const reps = 200
	var resumed atomic.Int64

	for i := 0; i < reps; i++ {
		var wl WaitList
		parked := make(chan struct{})

		tc, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
			close(parked)
			_ = tc.Sleep(&manualListStrategy{wl: &wl})
			resumed.Add(1)
			return nil, nil
		})
		require.NoError(t, err)

		<-parked
		time.Sleep(5 * time.Millisecond)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); tc.RequestCancel(CancelUserRequest) }()
		go func() {
			defer wg.Done()
			wl.Lock()
			wl.WakeOne()
			wl.Unlock()
		}()
		go func() { defer wg.Done(); tc.Wakeup(WakeupDeadlineTimer) }()
		wg.Wait()

		<-tc.Done()
	}

	require.Equal(t, int64(reps), resumed.Load())
}

// TestTaskProcessor_TimeoutRace verifies spec §8 scenario S1: a wait-list
// wake racing a deadline timer resumes the task exactly once, with the
// wakeup source resolving to WaitList or DeadlineTimer (WaitList wins when
// both have landed), and never stalls the task past its deadline.
func TestTaskProcessor_TimeoutRace(t *testing.T) {
	p := newTestProcessor(t, 4)

	const reps = 50
	for i := 0; i < reps; i++ {
		var wl WaitList
		parked := make(chan struct{})

		start := time.Now()
		tc, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
			close(parked)
			_ = tc.Sleep(&timedListStrategy{wl: &wl, deadline: time.Now().Add(50 * time.Millisecond)})
			return tc.WakeupSource(), nil
		})
		require.NoError(t, err)

		<-parked
		time.Sleep(49 * time.Millisecond)
		wl.Lock()
		wl.WakeOne()
		wl.Unlock()

		<-tc.Done()
		require.LessOrEqual(t, time.Since(start), 500*time.Millisecond)
		source, err := tc.Result()
		require.NoError(t, err)
		require.Contains(t, []WakeupSource{WakeupWaitList, WakeupDeadlineTimer}, source)
	}
}

// timedListStrategy parks a task on a bare WaitList with a deadline, so
// tests can race an explicit wake against the deadline timer.
type timedListStrategy struct {
	wl       *WaitList
	deadline time.Time
}

func (m *timedListStrategy) Deadline() time.Time { return m.deadline }
func (m *timedListStrategy) AfterAsleep(tc *TaskContext) {
	m.wl.Lock()
	m.wl.Append(tc)
	m.wl.Unlock()
}
func (m *timedListStrategy) BeforeAwake(tc *TaskContext) {}
func (m *timedListStrategy) WaitList() *WaitList          { return m.wl }

// TestTaskProcessor_WaitUntilRace verifies spec §8 property 9 / scenario
// S6: wait_until must return promptly regardless of whether the waiter
// registers before or after the target's terminal transition.
func TestTaskProcessor_WaitUntilRace(t *testing.T) {
	p := newTestProcessor(t, 8)

	const reps = 200
	for i := 0; i < reps; i++ {
		target, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)

		done := make(chan error, 1)
		waiter, err := p.Spawn(Normal, func(tc *TaskContext) (any, error) {
			done <- target.WaitUntil(tc, time.Time{})
			return nil, nil
		})
		require.NoError(t, err)

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("rep %d: wait_until hung", i)
		}
		<-waiter.Done()
	}
}
