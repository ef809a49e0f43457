// Package queue is a bounded concurrent queue for passing values between
// tasks (spec §4.6), parameterized by producer/consumer multiplicity the
// same way its backing lock-free queue is. The inner queue is treated as a
// black-box FIFO: all soft-capacity, blocking, and end-of-stream behavior
// lives in this package, layered on top via the task runtime's own
// WaitList/WaitStrategy primitives (core/wait_list.go, core/wait_strategy.go).
package queue

import (
	"fmt"
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

// innerQueue is the black-box lock-free FIFO every Queue variant wraps.
// lfq's four constructors (NewSPSC/NewMPSC/NewSPMC/NewMPMC) all return
// types satisfying this structurally.
type innerQueue[T any] interface {
	Enqueue(v *T) error
	Dequeue() (*T, error)
}

// Config selects a Queue's producer/consumer multiplicity and capacity
// (spec §4.6 "(multi_producer, multi_consumer) parameterization").
type Config struct {
	// Capacity is the inner lock-free queue's hard capacity.
	Capacity int

	// MultiProducer/MultiConsumer select which of the four lfq algorithm
	// variants backs this Queue.
	MultiProducer bool
	MultiConsumer bool

	// SoftMaxSize is the queue's advisory size limit (spec §4.6 "soft
	// capacity"): producers block once SizeApprox() reaches it even though
	// the inner queue has room up to Capacity. <= 0 defaults to Capacity.
	SoftMaxSize int
}

// Queue is a bounded concurrent queue of T, backed by one of lfq's
// lock-free algorithm variants and fronted by a blocking discipline that
// suspends producer/consumer tasks cooperatively instead of spinning.
type Queue[T any] struct {
	inner innerQueue[T]
	cap   int

	softMax atomic.Int64
	size    atomic.Int64 // approximate: incremented on push, decremented on pop

	producers handleCounter
	consumers handleCounter

	discipline discipline
}

// New constructs a Queue per cfg. cfg.Capacity must be > 0.
func New[T any](cfg Config) (*Queue[T], error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("corotask/queue: capacity must be > 0, got %d", cfg.Capacity)
	}

	var inner innerQueue[T]
	switch {
	case !cfg.MultiProducer && !cfg.MultiConsumer:
		inner = lfq.NewSPSC[T](cfg.Capacity)
	case cfg.MultiProducer && !cfg.MultiConsumer:
		inner = lfq.NewMPSC[T](cfg.Capacity)
	case !cfg.MultiProducer && cfg.MultiConsumer:
		inner = lfq.NewSPMC[T](cfg.Capacity)
	default:
		inner = lfq.NewMPMC[T](cfg.Capacity)
	}

	q := &Queue[T]{inner: inner, cap: cfg.Capacity}
	q.producers.single = !cfg.MultiProducer
	q.consumers.single = !cfg.MultiConsumer
	softMax := cfg.SoftMaxSize
	if softMax <= 0 {
		softMax = cfg.Capacity
	}
	q.softMax.Store(int64(softMax))

	if cfg.MultiProducer || cfg.MultiConsumer {
		q.discipline = newSemaphoreDiscipline()
	} else {
		q.discipline = newEventDiscipline()
	}

	return q, nil
}

// Capacity returns the inner queue's hard capacity.
func (q *Queue[T]) Capacity() int { return q.cap }

// SetSoftMaxSize changes the advisory size limit producers block against.
// Applied without a barrier against in-flight pushes (spec §9 open question
// (a): implemented as soft, not a hard synchronization point).
func (q *Queue[T]) SetSoftMaxSize(n int) {
	if n <= 0 {
		n = q.cap
	}
	q.softMax.Store(int64(n))
	q.discipline.notifyCapacityChanged()
}

// GetSoftMaxSize returns the current advisory size limit.
func (q *Queue[T]) GetSoftMaxSize() int { return int(q.softMax.Load()) }

// SizeApprox returns an approximate current size: exact at any instant with
// no concurrent push/pop, advisory otherwise.
func (q *Queue[T]) SizeApprox() int {
	n := q.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// atCapacity reports whether SizeApprox has reached the soft limit.
func (q *Queue[T]) atCapacity() bool {
	return q.size.Load() >= q.softMax.Load()
}

// Drain removes and returns every residual item without blocking. It is the
// teardown path for a queue whose handles have all closed: Go has no
// deterministic destruction, so the residual-item sweep is an explicit call
// rather than a destructor side effect. Calling it with live handles still
// pushing yields an arbitrary snapshot.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		v, err := q.inner.Dequeue()
		if err != nil {
			return out
		}
		q.size.Add(-1)
		out = append(out, *v)
	}
}
