package bus

import (
	"sync/atomic"
	"time"

	"github.com/coremodular/imc/pqueue"
)

// Backpressure selects how a full subscription queue is handled at publish
// time.
type Backpressure int

const (
	// DropNewest discards the envelope being published. Default policy.
	DropNewest Backpressure = iota
	// DropOldest evicts the oldest envelope in the same priority band,
	// then enqueues the new one.
	DropOldest
	// Block parks the publisher up to BlockTimeout before failing with
	// imcerr.ErrQueueFull.
	Block
	// Fail returns imcerr.ErrQueueFull immediately instead of enqueuing.
	Fail
)

// FilterFunc inspects an envelope before it is enqueued to a subscription.
// Returning false skips the subscription for this envelope without
// counting it as a drop.
type FilterFunc func(*Envelope) bool

// Handler processes one envelope delivered to a subscription during Pump.
type Handler func(*Envelope) error

// Options configures a subscription at Subscribe time.
type Options struct {
	MinPriority    pqueue.Priority
	QueueDepth     int
	Backpressure   Backpressure
	Filter         FilterFunc
	BlockTimeout   time.Duration
	UserData       any
	OnUserDataDrop func(any)
}

// DefaultOptions returns the options used by the plain Subscribe call:
// NORMAL floor, depth 256, DROP_NEWEST.
func DefaultOptions() Options {
	return Options{
		MinPriority:  pqueue.Normal,
		QueueDepth:   256,
		Backpressure: DropNewest,
	}
}

// Stats carries the counters a caller can read back via Subscription.Stats.
type Stats struct {
	Delivered     uint64
	Dropped       uint64
	LastLatencyNs int64
}

// Subscription is the handle returned by Subscribe/SubscribeEx. It remains
// queryable via IsActive after Unsubscribe; it is freed once the last
// reference (the topic table's and the caller's) is released.
type Subscription struct {
	id      uint64
	topicID uint32
	handler Handler
	opts    Options
	queue   *pqueue.Queue[*Envelope]

	active atomic.Bool

	delivered     atomic.Uint64
	dropped       atomic.Uint64
	lastLatencyNs atomic.Int64
}

func newSubscription(id uint64, topicID uint32, handler Handler, opts Options, fairness int) *Subscription {
	s := &Subscription{
		id:      id,
		topicID: topicID,
		handler: handler,
		opts:    opts,
		queue:   pqueue.NewWithInterval[*Envelope](opts.QueueDepth, fairness),
	}
	s.active.Store(true)
	return s
}

// ID returns the subscription's stable identifier.
func (s *Subscription) ID() uint64 { return s.id }

// TopicID returns the topic this subscription is bound to.
func (s *Subscription) TopicID() uint32 { return s.topicID }

// IsActive reports whether Unsubscribe has been called yet.
func (s *Subscription) IsActive() bool { return s.active.Load() }

// Stats returns a snapshot of delivery counters.
func (s *Subscription) Stats() Stats {
	return Stats{
		Delivered:     s.delivered.Load(),
		Dropped:       s.dropped.Load(),
		LastLatencyNs: s.lastLatencyNs.Load(),
	}
}

// deactivate marks the subscription inactive; no further enqueues are
// accepted from publishers, but the queue keeps whatever was already
// enqueued until it is drained or the table drops the last reference.
func (s *Subscription) deactivate() {
	s.active.Store(false)
}

// enqueue applies the priority floor, filter, and backpressure policy.
// accepted=false, skipped=true means the subscription was passed over
// without counting a drop (inactive, below the priority floor, or filter
// rejected); accepted=false, skipped=false means a queue-full drop.
func (s *Subscription) enqueue(env *Envelope) (accepted bool, skipped bool) {
	if !s.active.Load() {
		return false, true
	}
	if env.Priority < s.opts.MinPriority {
		return false, true
	}
	if s.opts.Filter != nil && !s.opts.Filter(env) {
		return false, true
	}

	switch s.opts.Backpressure {
	case DropOldest:
		if s.queue.Enqueue(env, env.Priority) {
			return true, false
		}
		// Queue for this band is full: evict the oldest element from the
		// same band, releasing its payload reference, then retry once.
		if evicted, ok := s.queue.EvictOldest(env.Priority); ok {
			if evicted.Payload != nil {
				evicted.Payload.Release()
			}
			s.drop()
			s.queue.Enqueue(env, env.Priority)
			return true, false
		}
		s.drop()
		return false, false
	case Block:
		deadline := s.opts.BlockTimeout
		if deadline <= 0 {
			for !s.queue.Enqueue(env, env.Priority) {
				time.Sleep(time.Millisecond)
			}
			return true, false
		}
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		for {
			if s.queue.Enqueue(env, env.Priority) {
				return true, false
			}
			select {
			case <-timer.C:
				s.drop()
				return false, false
			default:
				time.Sleep(time.Millisecond)
			}
		}
	case Fail:
		if s.queue.Enqueue(env, env.Priority) {
			return true, false
		}
		s.drop()
		return false, false
	default: // DropNewest
		if s.queue.Enqueue(env, env.Priority) {
			return true, false
		}
		s.drop()
		return false, false
	}
}

// drop increments the dropped counter and, if the caller registered
// OnUserDataDrop, notifies it with the subscription's user data — the
// "drop-on-drop" cleanup hook for whatever the caller attached to the
// subscription at Subscribe time.
func (s *Subscription) drop() {
	s.dropped.Add(1)
	if s.opts.OnUserDataDrop != nil {
		s.opts.OnUserDataDrop(s.opts.UserData)
	}
}

// pump drains up to budget envelopes from this subscription's priority
// queue and invokes handler on each, recovering from handler panics so a
// misbehaving handler cannot abort the whole pump.
func (s *Subscription) pump(budget int, onPanic func(subID uint64, topicID uint32, recovered any)) {
	delivered := 0
	for budget == 0 || delivered < budget {
		env, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		start := time.Now()
		s.invoke(env, onPanic)
		s.lastLatencyNs.Store(time.Since(start).Nanoseconds())
		s.delivered.Add(1)
		delivered++
	}
}

// invoke runs the handler and then drops this envelope's payload
// reference. A handler that needs the payload to outlive delivery must
// Retain it itself before returning.
func (s *Subscription) invoke(env *Envelope, onPanic func(uint64, uint32, any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(s.id, s.topicID, r)
		}
		if env.Payload != nil {
			env.Payload.Release()
		}
	}()
	_ = s.handler(env)
}
