package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corotask/corotask/core"
	"github.com/corotask/corotask/queue"
)

func newTestProcessor(t *testing.T, workers int) *core.TaskProcessor {
	t.Helper()
	cfg := core.DefaultTaskProcessorConfig("queue-test")
	cfg.Workers = workers
	p := core.NewTaskProcessor(cfg)
	t.Cleanup(p.Close)
	return p
}

// TestQueue_SPSCFIFO verifies spec §8 property 5: a single producer's push
// order is preserved exactly for a single consumer.
func TestQueue_SPSCFIFO(t *testing.T) {
	p := newTestProcessor(t, 2)

	q, err := queue.New[int](queue.Config{Capacity: 4})
	require.NoError(t, err)

	const n = 50
	prodDone := make(chan error, 1)
	_, err = p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
		prod, err := q.NewProducer()
		if err != nil {
			prodDone <- err
			return nil, err
		}
		defer prod.Close()
		for i := 0; i < n; i++ {
			if err := prod.Push(tc, i, time.Now().Add(time.Second)); err != nil {
				prodDone <- err
				return nil, err
			}
		}
		prodDone <- nil
		return nil, nil
	})
	require.NoError(t, err)

	var got []int
	consDone := make(chan error, 1)
	_, err = p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
		c, err := q.NewConsumer()
		if err != nil {
			consDone <- err
			return nil, err
		}
		defer c.Close()
		for {
			v, err := c.Pop(tc, time.Time{})
			if err == queue.ErrEndOfStream {
				consDone <- nil
				return nil, nil
			}
			if err != nil {
				consDone <- err
				return nil, err
			}
			got = append(got, v)
		}
	})
	require.NoError(t, err)

	require.NoError(t, <-prodDone)
	require.NoError(t, <-consDone)
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

// TestQueue_ProducerDeathDrains verifies spec §8 scenario S4: once the sole
// producer handle closes, a blocking Pop still returns every item pushed
// before the close, then returns ErrEndOfStream immediately rather than
// blocking.
func TestQueue_ProducerDeathDrains(t *testing.T) {
	p := newTestProcessor(t, 2)

	q, err := queue.New[int](queue.Config{Capacity: 8})
	require.NoError(t, err)

	prodDone := make(chan struct{})
	_, err = p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
		prod, err := q.NewProducer()
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			require.NoError(t, prod.Push(tc, i, time.Time{}))
		}
		prod.Close()
		close(prodDone)
		return nil, nil
	})
	require.NoError(t, err)
	<-prodDone

	results := make(chan any, 1)
	_, err = p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
		c, err := q.NewConsumer()
		require.NoError(t, err)
		defer c.Close()

		var got []int
		for i := 0; i < 5; i++ {
			v, err := c.Pop(tc, time.Time{})
			require.NoError(t, err)
			got = append(got, v)
		}
		_, sixthErr := c.Pop(tc, time.Time{})
		results <- sixthErr
		return got, nil
	})
	require.NoError(t, err)

	sixthErr := <-results
	require.Equal(t, queue.ErrEndOfStream, sixthErr)
}

// TestQueue_ConsumerDeathUnblocksProducer verifies spec §8 scenario S5: once
// every Consumer handle closes, a producer blocked in Push returns
// ErrHandleDead promptly instead of hanging until its deadline.
func TestQueue_ConsumerDeathUnblocksProducer(t *testing.T) {
	p := newTestProcessor(t, 2)

	q, err := queue.New[int](queue.Config{Capacity: 1})
	require.NoError(t, err)

	consumer, err := q.NewConsumer()
	require.NoError(t, err)

	secondPushResult := make(chan error, 1)
	_, err = p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
		prod, err := q.NewProducer()
		require.NoError(t, err)
		defer prod.Close()

		require.NoError(t, prod.Push(tc, 1, time.Time{}))

		go func() {
			time.Sleep(20 * time.Millisecond)
			consumer.Close()
		}()

		secondPushResult <- prod.Push(tc, 2, time.Now().Add(5*time.Second))
		return nil, nil
	})
	require.NoError(t, err)

	select {
	case err := <-secondPushResult:
		require.ErrorIs(t, err, queue.ErrHandleDead)
	case <-time.After(2 * time.Second):
		t.Fatal("second push did not unblock after consumer handle dropped")
	}
}

// TestQueue_SoftCapacityApprox verifies spec §8 property 6: SizeApprox stays
// within [0, capacity] once pushes stop racing.
func TestQueue_SoftCapacityApprox(t *testing.T) {
	p := newTestProcessor(t, 4)

	q, err := queue.New[int](queue.Config{Capacity: 3, MultiProducer: true})
	require.NoError(t, err)

	const producers = 3
	doneCh := make(chan struct{}, producers)
	for i := 0; i < producers; i++ {
		_, err := p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
			prod, err := q.NewProducer()
			require.NoError(t, err)
			defer prod.Close()
			require.NoError(t, prod.Push(tc, 1, time.Now().Add(time.Second)))
			doneCh <- struct{}{}
			return nil, nil
		})
		require.NoError(t, err)
	}
	for i := 0; i < producers; i++ {
		<-doneCh
	}

	require.LessOrEqual(t, q.SizeApprox(), q.Capacity())
	require.GreaterOrEqual(t, q.SizeApprox(), 0)
}

// TestQueue_PushDeadlineExpires verifies a blocking Push into a full queue
// fails with ErrWouldBlock once its deadline passes, and succeeds again
// after a consumer frees a slot.
func TestQueue_PushDeadlineExpires(t *testing.T) {
	p := newTestProcessor(t, 2)

	q, err := queue.New[int](queue.Config{Capacity: 1, MultiProducer: true, MultiConsumer: true})
	require.NoError(t, err)

	cons, err := q.NewConsumer()
	require.NoError(t, err)
	defer cons.Close()

	result := make(chan error, 2)
	_, err = p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
		prod, err := q.NewProducer()
		require.NoError(t, err)
		defer prod.Close()

		require.NoError(t, prod.Push(tc, 1, time.Time{}))

		start := time.Now()
		err = prod.Push(tc, 2, time.Now().Add(30*time.Millisecond))
		result <- err
		require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

		// A pop frees the slot; the retried push must now succeed.
		v, err := cons.Pop(tc, time.Time{})
		require.NoError(t, err)
		require.Equal(t, 1, v)
		result <- prod.Push(tc, 2, time.Now().Add(time.Second))
		return nil, nil
	})
	require.NoError(t, err)

	require.ErrorIs(t, <-result, queue.ErrWouldBlock)
	require.NoError(t, <-result)
}

// TestQueue_PopDeadlineExpires verifies a blocking Pop from an empty queue
// with live producers fails with ErrWouldBlock once its deadline passes
// instead of hanging or spinning.
func TestQueue_PopDeadlineExpires(t *testing.T) {
	p := newTestProcessor(t, 2)

	q, err := queue.New[int](queue.Config{Capacity: 4})
	require.NoError(t, err)

	prod, err := q.NewProducer()
	require.NoError(t, err)
	defer prod.Close()

	result := make(chan error, 1)
	_, err = p.Spawn(core.Normal, func(tc *core.TaskContext) (any, error) {
		c, err := q.NewConsumer()
		require.NoError(t, err)
		defer c.Close()

		start := time.Now()
		_, err = c.Pop(tc, time.Now().Add(30*time.Millisecond))
		require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
		result <- err
		return nil, nil
	})
	require.NoError(t, err)

	require.ErrorIs(t, <-result, queue.ErrWouldBlock)
}

// TestQueue_Noblock verifies the single-attempt push/pop forms: they never
// suspend, report ErrWouldBlock on full/empty, and report end-of-stream once
// the producer side is dead and the queue drained.
func TestQueue_Noblock(t *testing.T) {
	q, err := queue.New[int](queue.Config{Capacity: 1})
	require.NoError(t, err)

	prod, err := q.NewProducer()
	require.NoError(t, err)
	cons, err := q.NewConsumer()
	require.NoError(t, err)
	defer cons.Close()

	_, err = cons.PopNoblock()
	require.True(t, queue.IsWouldBlock(err), "pop from empty queue with a live producer: got %v", err)

	require.NoError(t, prod.PushNoblock(7))
	require.True(t, queue.IsWouldBlock(prod.PushNoblock(8)), "push into a full queue must not block")

	v, err := cons.PopNoblock()
	require.NoError(t, err)
	require.Equal(t, 7, v)

	prod.Close()
	_, err = cons.PopNoblock()
	require.ErrorIs(t, err, queue.ErrEndOfStream)
}

// TestQueue_SingleSideRejectsSecondHandle verifies spec §4.6: a queue
// configured single_producer/single_consumer detects a second handle on
// the constrained side as a contract violation rather than silently
// allowing it.
func TestQueue_SingleSideRejectsSecondHandle(t *testing.T) {
	q, err := queue.New[int](queue.Config{Capacity: 2})
	require.NoError(t, err)

	p1, err := q.NewProducer()
	require.NoError(t, err)
	defer p1.Close()

	_, err = q.NewProducer()
	require.ErrorIs(t, err, queue.ErrTooManyHandles)

	c1, err := q.NewConsumer()
	require.NoError(t, err)
	defer c1.Close()

	_, err = q.NewConsumer()
	require.ErrorIs(t, err, queue.ErrTooManyHandles)
}
