// Package payload implements the IMC message payload: a small tagged union
// over an inline buffer, an owned heap allocation, or an external
// caller-owned buffer with a cleanup callback. A Payload is shared across
// fan-out subscribers via reference counting rather than copied per
// subscriber (see the "external payload cleanup" design note); its cleanup
// obligation fires exactly once, when the last reference is released.
package payload

import "sync/atomic"

// Kind identifies which variant of the tagged union a Payload currently
// holds.
type Kind int

const (
	// KindInline means the bytes are copied into a fixed in-object buffer.
	KindInline Kind = iota
	// KindHeap means the bytes are an owned heap allocation, released on
	// the final Release.
	KindHeap
	// KindExternal means the bytes are caller-owned; Cleanup is invoked
	// exactly once when the final reference is released.
	KindExternal
)

// InlineThreshold is the default small-object optimisation boundary: copies
// at or under this size are stored inline to avoid a heap allocation.
const InlineThreshold = 256

// CleanupFunc is invoked exactly once, when an external Payload's last
// reference is released. It receives the original data slice and the
// opaque user data supplied at construction, mirroring the wire-level
// buffer descriptor's cleanup(data, size, user) callback.
type CleanupFunc func(data []byte, userData any)

// Payload is a move-only-by-convention, ref-counted value. Callers must
// call Release exactly once per reference they hold (including the one
// implicitly returned by New*); Retain is the only way to add a reference,
// typically once per fan-out subscriber. There is no Clone: copying the
// struct value itself would alias the refcount and cleanup state, so all
// sharing must go through Retain/Release.
type Payload struct {
	kind    Kind
	inline  [InlineThreshold]byte
	n       int
	heap    []byte
	extData []byte

	cleanup     CleanupFunc
	cleanupUser any
	cleaned     atomic.Bool

	refcount atomic.Int32
}

// NewCopy copies data into a Payload, using the inline buffer when it fits
// and an owned heap allocation otherwise. The returned Payload starts with
// a single reference.
func NewCopy(data []byte) *Payload {
	p := &Payload{}
	p.refcount.Store(1)
	if len(data) <= InlineThreshold {
		p.kind = KindInline
		p.n = copy(p.inline[:], data)
		return p
	}
	p.kind = KindHeap
	p.heap = append([]byte(nil), data...)
	return p
}

// NewExternal wraps a caller-owned buffer with zero copying. cleanup, if
// non-nil, is invoked exactly once when the payload's last reference is
// released; userData is passed through unchanged. The returned Payload
// starts with a single reference.
func NewExternal(data []byte, cleanup CleanupFunc, userData any) *Payload {
	p := &Payload{
		kind:        KindExternal,
		extData:     data,
		cleanup:     cleanup,
		cleanupUser: userData,
	}
	p.refcount.Store(1)
	return p
}

// FromBuffer builds a Payload from a buffer descriptor for zero-copy
// callers (for example, to hand to PublishBuffer): a nil Cleanup copies the data
// (the caller's buffer is not guaranteed to outlive the call), otherwise
// ownership of invoking Cleanup transfers to the payload.
func FromBuffer(data []byte, cleanup CleanupFunc, userData any) *Payload {
	if cleanup == nil {
		return NewCopy(data)
	}
	return NewExternal(data, cleanup, userData)
}

// Kind reports which variant the payload currently holds.
func (p *Payload) Kind() Kind {
	return p.kind
}

// Bytes returns a read-only view of the payload's data. The returned slice
// is only valid while the caller holds a reference.
func (p *Payload) Bytes() []byte {
	switch p.kind {
	case KindInline:
		return p.inline[:p.n]
	case KindHeap:
		return p.heap
	default:
		return p.extData
	}
}

// Len returns the payload's byte length.
func (p *Payload) Len() int {
	return len(p.Bytes())
}

// Retain adds a reference and returns the same Payload, for the fan-out
// idiom the bus uses when it builds one envelope per subscription:
// `Payload: p.Retain()`.
func (p *Payload) Retain() *Payload {
	p.refcount.Add(1)
	return p
}

// Release drops a reference. When the last reference is released, an
// external payload's cleanup runs exactly once; inline and heap payloads
// simply become eligible for garbage collection.
func (p *Payload) Release() {
	if p.refcount.Add(-1) > 0 {
		return
	}
	if p.kind == KindExternal && p.cleanup != nil && p.cleaned.CompareAndSwap(false, true) {
		p.cleanup(p.extData, p.cleanupUser)
	}
}

// RefCount returns the current reference count, for diagnostics and tests.
func (p *Payload) RefCount() int32 {
	return p.refcount.Load()
}
