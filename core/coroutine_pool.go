package core

import (
	"fmt"
	"sync"
)

// yieldReason is what a frame sends back on yieldCh each time the running
// payload either suspends (TaskWaiting) or returns for good.
type yieldReason int

const (
	yieldWaiting yieldReason = iota
	yieldComplete
	yieldCancelled
)

// frame is one reusable coroutine stack: a dedicated goroutine whose own
// call stack persists across suspensions. Control ping-pongs between the
// worker driving a TaskContext.step() and the frame goroutine over resumeCh/
// yieldCh — the same handoff idiom as a generator built from a goroutine and
// two rendezvous channels, generalized so the goroutine's lifetime spans an
// entire task instead of a single call (spec §4.1).
type frame struct {
	jobCh    chan *TaskContext
	resumeCh chan struct{}
	yieldCh  chan yieldReason
}

func newFrame() *frame {
	return &frame{
		jobCh:    make(chan *TaskContext),
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan yieldReason),
	}
}

// CoroutinePool is a mutex-guarded LIFO stack of idle frames (spec §4.1):
// when a task finishes, its frame is pushed back rather than letting its
// goroutine exit, so a burst of short tasks reuses warm goroutines instead of
// paying creation cost each time. Modeled on the idle-worker stack in
// alphadose-itogami's pool.go, minus its lock-free CAS stack and its unsafe
// runtime-linkname parking:
// here the handoff is a plain channel send, which is a safe, if slightly
// more expensive, substitute for a direct goroutine resume.
type CoroutinePool struct {
	mu      sync.Mutex
	idle    []*frame
	created int
	maxSize int
	closed  bool
}

// NewCoroutinePool creates a pool that will never hold more than maxSize
// live frames. maxSize <= 0 means unbounded.
func NewCoroutinePool(maxSize int) *CoroutinePool {
	return &CoroutinePool{maxSize: maxSize}
}

// Acquire returns an idle frame, or spawns a new one if under maxSize and
// none are idle. It returns ErrSpawnFailure when the pool is at capacity and
// empty, or already closed.
func (p *CoroutinePool) Acquire() (*frame, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &ErrSpawnFailure{Cause: fmt.Errorf("coroutine pool is shut down")}
	}
	if n := len(p.idle); n > 0 {
		fr := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return fr, nil
	}
	if p.maxSize > 0 && p.created >= p.maxSize {
		p.mu.Unlock()
		return nil, &ErrSpawnFailure{Cause: fmt.Errorf("coroutine pool exhausted: %d frames live", p.created)}
	}
	p.created++
	p.mu.Unlock()

	fr := newFrame()
	go runFrame(fr)
	return fr, nil
}

// Release returns fr to the idle stack for reuse. If the pool has since been
// closed, fr's goroutine is torn down instead.
func (p *CoroutinePool) Release(fr *frame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(fr.jobCh)
		return
	}
	p.idle = append(p.idle, fr)
	p.mu.Unlock()
}

// Close tears down every currently idle frame and marks the pool closed;
// frames already on loan finish their current task and exit on their next
// Release rather than being reused.
func (p *CoroutinePool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, fr := range idle {
		close(fr.jobCh)
	}
}

// Live reports the number of frames currently created (idle + on loan).
func (p *CoroutinePool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// runFrame is the body of every coroutine goroutine. It blocks on jobCh for
// its first assignment, then runs that TaskContext's payload to completion
// (including every intermediate Sleep-driven yield/resume round trip via
// resumeCh/yieldCh), then loops back to jobCh for its next task; the worker
// driving step() returns the frame to the pool's idle stack. A closed jobCh
// is the pool shutdown signal.
func runFrame(fr *frame) {
	for tc := range fr.jobCh {
		tc.runOnFrame(fr)
	}
}
