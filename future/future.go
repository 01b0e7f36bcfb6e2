// Package future implements the ref-counted async result cell returned by
// CallRpc: a value that starts PENDING, transitions exactly once to a
// terminal state (READY, FAILED, or CANCELLED), and notifies both blocked
// waiters and registered completion callbacks at that instant.
package future

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coremodular/imc/imcerr"
	"github.com/coremodular/imc/payload"
)

// State is one of the four points in the future's lifecycle.
type State int32

const (
	Pending State = iota
	Ready
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is one of the three terminal states.
func (s State) IsTerminal() bool {
	return s != Pending
}

// CompletionCallback is invoked once, at the instant a Future reaches a
// terminal state. If the Future is already terminal when OnComplete is
// called, the callback fires immediately and synchronously on the calling
// goroutine instead of being queued.
type CompletionCallback func(f *Future, state State)

// Future is a ref-counted async result cell. It is born PENDING with a
// single reference held by the caller of New; Retain/Release manage
// additional references the way Payload does. The zero value is not usable;
// always construct with New.
type Future struct {
	state atomic.Int32

	mu        sync.Mutex
	result    *payload.Payload
	failErr   error
	callbacks []CompletionCallback

	done chan struct{}

	refcount atomic.Int32
}

// New creates a PENDING Future with a single reference.
func New() *Future {
	f := &Future{done: make(chan struct{})}
	f.state.Store(int32(Pending))
	f.refcount.Store(1)
	return f
}

// State returns the future's current state.
func (f *Future) State() State {
	return State(f.state.Load())
}

// transition attempts the single allowed PENDING -> terminal move. It
// returns false if the future was already terminal (second attempts are
// idempotent no-ops, never errors, per the transition contract — callers
// that need an error on a no-op, like Cancel, check the return value
// themselves).
func (f *Future) transition(to State, result *payload.Payload, failErr error) bool {
	if !f.state.CompareAndSwap(int32(Pending), int32(to)) {
		return false
	}

	f.mu.Lock()
	f.result = result
	f.failErr = failErr
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	close(f.done)

	// Callbacks run outside the lock so a callback may safely call back
	// into this Future (e.g. Release) without deadlocking.
	for _, cb := range callbacks {
		cb(f, to)
	}
	return true
}

// Complete transitions a PENDING future to READY with result. It is a
// no-op if the future is already terminal.
func (f *Future) Complete(result *payload.Payload) bool {
	return f.transition(Ready, result, nil)
}

// FailWith transitions a PENDING future to FAILED with err. It is a no-op
// if the future is already terminal.
func (f *Future) FailWith(err error) bool {
	return f.transition(Failed, nil, err)
}

// Cancel transitions a PENDING future to CANCELLED. Cancellation from
// PENDING is always honoured; calling Cancel on an already-terminal future
// returns imcerr.ErrInvalidState. The in-flight handler, if any, is not
// interrupted — cancellation is cooperative only.
func (f *Future) Cancel() error {
	if f.transition(Cancelled, nil, nil) {
		return nil
	}
	return imcerr.ErrInvalidState
}

// Await blocks until the future reaches a terminal state or timeout
// elapses. A zero timeout blocks indefinitely. Returns nil once terminal,
// imcerr.ErrTimeout otherwise.
func (f *Future) Await(timeout time.Duration) error {
	if f.State().IsTerminal() {
		return nil
	}
	if timeout <= 0 {
		<-f.done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return nil
	case <-timer.C:
		return imcerr.ErrTimeout
	}
}

// GetResult returns the completed payload as a borrowed reference: it
// stays valid for as long as the caller holds a reference to the future
// itself, and is released when the future's last reference drops. Valid
// only when State() is Ready; otherwise returns imcerr.ErrInvalidState.
func (f *Future) GetResult() (*payload.Payload, error) {
	if f.State() != Ready {
		return nil, imcerr.ErrInvalidState
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, nil
}

// FailureError returns the error the future failed with. Valid only when
// State() is Failed.
func (f *Future) FailureError() (error, error) {
	if f.State() != Failed {
		return nil, imcerr.ErrInvalidState
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr, nil
}

// OnComplete registers cb to run at the terminal transition. If the future
// is already terminal, cb fires immediately and synchronously on the
// calling goroutine instead. The future's lock is never held while a
// callback runs, so callbacks may safely re-enter the future.
func (f *Future) OnComplete(cb CompletionCallback) {
	f.mu.Lock()
	if f.State().IsTerminal() {
		f.mu.Unlock()
		cb(f, f.State())
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Retain adds a reference and returns the same Future.
func (f *Future) Retain() *Future {
	f.refcount.Add(1)
	return f
}

// Release drops a reference. When the last reference drops, the future
// releases its result payload reference, which is what fires an external
// result's cleanup. Calling Release more times than the future has been
// retained/created returns imcerr.ErrInvalidState rather than corrupting
// the refcount or crashing.
func (f *Future) Release() error {
	for {
		cur := f.refcount.Load()
		if cur <= 0 {
			return imcerr.ErrInvalidState
		}
		if !f.refcount.CompareAndSwap(cur, cur-1) {
			continue
		}
		if cur == 1 {
			f.mu.Lock()
			result := f.result
			f.result = nil
			f.mu.Unlock()
			if result != nil {
				result.Release()
			}
		}
		return nil
	}
}

// RefCount returns the current reference count, for diagnostics and tests.
func (f *Future) RefCount() int32 {
	return f.refcount.Load()
}
