package queue

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/corotask/corotask/core"
)

// deadSentinel is the value handleCounter.state takes on once a side of the
// queue has had at least one handle and now has none — "CreatedAndDead"
// (spec §4.6 "Handle lifecycle"). It is distinct from the zero value, which
// means "never had a handle," so a queue nobody has touched yet is not
// mistaken for an already-finished stream.
const deadSentinel = ^uintptr(0)

// handleCounter is a reference count for one side (producer or consumer) of
// a Queue, backed by code.hybscloud.com/atomix.Uintptr the way the wider
// example pack's own typed-atomic counters are (hayabusa-cloud-sess
// session.go's atomix.Uint32 closed flag, generalized here to a full
// reference count instead of a single bit).
type handleCounter struct {
	state atomix.Uintptr

	// single marks a side constrained to at most one live handle (spec
	// §4.6 "single_producer/single_consumer... a programming error
	// detected by assertion"). false means the side is multi and any
	// number of handles may be acquired concurrently.
	single bool
}

// acquireResult distinguishes why acquire failed from whether it succeeded,
// so NewProducer/NewConsumer can report the single-handle contract
// violation distinctly from the ordinary "side already dead" case.
type acquireResult int

const (
	acquireOK acquireResult = iota
	acquireDead
	acquireTooManyHandles
)

func (hc *handleCounter) acquire() acquireResult {
	for {
		old := hc.state.Load()
		if old == deadSentinel {
			return acquireDead
		}
		if hc.single && old >= 1 {
			return acquireTooManyHandles
		}
		if hc.state.CompareAndSwap(old, old+1) {
			return acquireOK
		}
	}
}

func (hc *handleCounter) release() {
	for {
		old := hc.state.Load()
		if old == 0 || old == deadSentinel {
			return
		}
		var next uintptr
		if old == 1 {
			next = deadSentinel
		} else {
			next = old - 1
		}
		if hc.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// isDead reports CreatedAndDead: at least one handle existed and all have
// since been released.
func (hc *handleCounter) isDead() bool { return hc.state.Load() == deadSentinel }

// Producer is a reference-counted write handle to a Queue (spec §4.6).
type Producer[T any] struct {
	q *Queue[T]
}

// NewProducer acquires a Producer handle. It fails with ErrHandleDead if
// the producer side has already gone CreatedAndDead, or with
// ErrTooManyHandles if cfg.MultiProducer was false and a Producer handle
// already exists (spec §4.6 "single_producer... a programming error
// detected by assertion").
func (q *Queue[T]) NewProducer() (*Producer[T], error) {
	switch q.producers.acquire() {
	case acquireDead:
		return nil, ErrHandleDead
	case acquireTooManyHandles:
		return nil, ErrTooManyHandles
	}
	return &Producer[T]{q: q}, nil
}

// Close releases the handle. Once every Producer has closed, blocked
// Consumers are woken so they can observe end-of-stream.
func (p *Producer[T]) Close() {
	p.q.producers.release()
	p.q.discipline.notifyPushed()
}

// Push blocks tc, if necessary, until the queue is below its soft capacity,
// then enqueues v. It returns ErrHandleDead if every Consumer has already
// closed (pushing into a queue nobody will ever drain), or ErrWouldBlock if
// deadline passed with the queue still at capacity. A zero deadline waits
// indefinitely.
func (p *Producer[T]) Push(tc *core.TaskContext, v T, deadline time.Time) error {
	ready := func() bool { return !p.q.atCapacity() || p.q.consumers.isDead() }
	var bo iox.Backoff
	for {
		if p.q.consumers.isDead() {
			return ErrHandleDead
		}
		ok, err := p.q.discipline.waitForSpace(tc, ready, deadline)
		if err != nil {
			return err
		}
		if p.q.consumers.isDead() {
			return ErrHandleDead
		}
		if !ok {
			return ErrWouldBlock
		}

		err = p.q.inner.Enqueue(&v)
		if err == nil {
			p.q.size.Add(1)
			p.q.discipline.notifyPushed()
			return nil
		}
		if !IsWouldBlock(err) {
			return err
		}
		// Hard capacity raced us even though the soft check passed; another
		// producer claimed the last slot.
		if !deadline.IsZero() && !deadline.After(time.Now()) {
			return ErrWouldBlock
		}
		bo.Wait()
	}
}

// PushNoblock is Push's single-attempt form: it never suspends the calling
// task, returning ErrWouldBlock when the queue is at capacity.
func (p *Producer[T]) PushNoblock(v T) error {
	if p.q.consumers.isDead() {
		return ErrHandleDead
	}
	if p.q.atCapacity() {
		return ErrWouldBlock
	}
	if err := p.q.inner.Enqueue(&v); err != nil {
		return err
	}
	p.q.size.Add(1)
	p.q.discipline.notifyPushed()
	return nil
}

// Consumer is a reference-counted read handle to a Queue (spec §4.6).
type Consumer[T any] struct {
	q *Queue[T]
}

// NewConsumer acquires a Consumer handle. It fails with ErrHandleDead if
// the consumer side has already gone CreatedAndDead, or with
// ErrTooManyHandles if cfg.MultiConsumer was false and a Consumer handle
// already exists.
func (q *Queue[T]) NewConsumer() (*Consumer[T], error) {
	switch q.consumers.acquire() {
	case acquireDead:
		return nil, ErrHandleDead
	case acquireTooManyHandles:
		return nil, ErrTooManyHandles
	}
	return &Consumer[T]{q: q}, nil
}

// Close releases the handle. Once every Consumer has closed, blocked
// Producers are woken so they can observe that nothing will ever drain them.
func (c *Consumer[T]) Close() {
	c.q.consumers.release()
	c.q.discipline.notifyPopped()
}

// Pop blocks tc, if necessary, until an item is available, then dequeues
// it. It returns ErrEndOfStream once every Producer has closed and the
// queue has drained — the end-of-stream signal spec §4.6 describes as
// driven by the CreatedAndDead sentinel — or ErrWouldBlock if deadline
// passed with the queue still empty. A zero deadline waits indefinitely.
func (c *Consumer[T]) Pop(tc *core.TaskContext, deadline time.Time) (T, error) {
	var zero T
	ready := func() bool { return c.q.size.Load() > 0 || c.q.producers.isDead() }
	var bo iox.Backoff
	for {
		v, err := c.q.inner.Dequeue()
		if err == nil {
			c.q.size.Add(-1)
			c.q.discipline.notifyPopped()
			return *v, nil
		}
		if !IsWouldBlock(err) {
			return zero, err
		}
		if c.q.producers.isDead() && c.q.size.Load() <= 0 {
			return zero, ErrEndOfStream
		}
		if c.q.size.Load() > 0 {
			// A sibling consumer raced us to an item the size counter still
			// shows; the counter converges as soon as its decrement lands.
			bo.Wait()
			continue
		}
		ok, werr := c.q.discipline.waitForItem(tc, ready, deadline)
		if werr != nil {
			return zero, werr
		}
		if !ok {
			return zero, ErrWouldBlock
		}
		bo.Reset()
	}
}

// PopNoblock is Pop's single-attempt form: it never suspends the calling
// task, returning ErrWouldBlock when the queue is empty with live producers
// and ErrEndOfStream when it is empty for good.
func (c *Consumer[T]) PopNoblock() (T, error) {
	var zero T
	v, err := c.q.inner.Dequeue()
	if err == nil {
		c.q.size.Add(-1)
		c.q.discipline.notifyPopped()
		return *v, nil
	}
	if IsWouldBlock(err) && c.q.producers.isDead() && c.q.size.Load() <= 0 {
		return zero, ErrEndOfStream
	}
	return zero, err
}
