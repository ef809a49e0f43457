package queue

import (
	"errors"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// ErrWouldBlock is the would-block signal. Push and Pop return it when their
// deadline passes first, and PushNoblock returns it when the queue is at its
// soft limit; a would-block from the inner lock-free queue is retried inside
// Push and Pop.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err is (or wraps) a would-block signal from
// either iox's boundary or lfq's own queue-specific variant (spec §7
// "QueuePush/Pop failure... returned as boolean false").
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err) || lfq.IsWouldBlock(err)
}

// ErrHandleDead is returned by Push/PushNoblock once every Consumer has
// closed, and by NewProducer/NewConsumer when that side has already gone
// CreatedAndDead. Pop reports a dead producer side as ErrEndOfStream instead.
var ErrHandleDead = errors.New("corotask/queue: handle dead: no producer or consumer remains on the other side")

// ErrEndOfStream is returned by Consumer.Pop once every Producer has
// closed and the queue has fully drained.
var ErrEndOfStream = errors.New("corotask/queue: end of stream")

// ErrTooManyHandles is returned by NewProducer/NewConsumer when the queue
// was configured single_producer/single_consumer (spec §4.6) and a handle
// on that side already exists.
var ErrTooManyHandles = errors.New("corotask/queue: contract violation: more than one handle on a single-producer/single-consumer side")
