// Package bus implements the IMC runtime's pub/sub and RPC fabric: name
// resolution, per-subscription priority queues, backpressure, a
// synchronous RPC table, and the Pump dispatch loop, backed by the
// ring-based priority queues in package pqueue.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coremodular/imc/future"
	"github.com/coremodular/imc/imcerr"
	"github.com/coremodular/imc/nameregistry"
	"github.com/coremodular/imc/payload"
	"github.com/coremodular/imc/pqueue"
)

// Bus is the process-local messaging fabric: one Name Registry for topics,
// one for RPCs (they never share id space), a subscription table keyed by
// topic id, an RPC table, and an Observer subject for lifecycle events.
//
// Publish, Subscribe, Unsubscribe, CallRpc, RegisterRpc, UnregisterRpc, and
// all registry reads are safe to call from any goroutine concurrently.
// Pump is expected to run from a single controller goroutine; it is safe to
// call concurrently across different subscriptions but must be externally
// serialised per subscription, mirroring the scheduling model documented
// for Publish-then-Pump designs.
type Bus struct {
	cfg Config

	topics *nameregistry.Registry
	rpcs   *nameregistry.Registry

	subMu       sync.RWMutex
	subsByTopic map[uint32][]*Subscription
	subByID     map[uint64]*Subscription
	nextSubID   atomic.Uint64

	rpcTable *rpcTable

	msgID atomic.Uint64

	obs *observers

	shutdown atomic.Bool
}

// New creates a Bus using cfg for queue sizing and default backpressure.
func New(cfg Config) *Bus {
	return &Bus{
		cfg:         cfg,
		topics:      nameregistry.New(),
		rpcs:        nameregistry.New(),
		subsByTopic: make(map[uint32][]*Subscription),
		subByID:     make(map[uint64]*Subscription),
		rpcTable:    newRPCTable(),
		obs:         newObservers(),
	}
}

// RegisterObserver adds an observer for bus lifecycle events (topic
// created, subscription created/removed, messages dropped, RPC
// registration changes). An empty eventTypes list receives everything.
func (b *Bus) RegisterObserver(observer Observer, eventTypes ...string) {
	b.obs.register(observer, eventTypes...)
}

// UnregisterObserver removes observer; idempotent if it was never
// registered.
func (b *Bus) UnregisterObserver(observer Observer) {
	b.obs.unregister(observer)
}

// GetTopicId resolves name to its stable TopicId, creating one on first
// use. Distinct from the RPC id space.
func (b *Bus) GetTopicId(name string) (uint32, error) {
	return b.topics.GetOrCreateId(name)
}

// GetRpcId resolves name to its stable RpcId, creating one on first use.
func (b *Bus) GetRpcId(name string) (uint32, error) {
	return b.rpcs.GetOrCreateId(name)
}

// MsgOptions carries the optional envelope metadata a publisher can set
// beyond the payload itself.
type MsgOptions struct {
	Priority   pqueue.Priority
	Sender     any
	Flags      uint32
	ReplyTopic uint32
}

// Publish materialises data into a Payload and delivers it, by topic name,
// to every active subscription at NORMAL priority. A publish that matches
// zero subscribers returns nil with delivered=0; that is not an error.
func (b *Bus) Publish(topic string, data []byte) (delivered int, err error) {
	return b.publish(topic, payload.NewCopy(data), MsgOptions{Priority: pqueue.Normal})
}

// PublishEx behaves like Publish but lets the caller choose priority and an
// optional sender token carried on the envelope.
func (b *Bus) PublishEx(topic string, data []byte, priority pqueue.Priority, sender any) (int, error) {
	return b.publish(topic, payload.NewCopy(data), MsgOptions{Priority: priority, Sender: sender})
}

// PublishMsg publishes data with full envelope metadata: priority, sender
// token, flags, and an optional reply topic a subscriber can publish its
// response on.
func (b *Bus) PublishMsg(topic string, data []byte, msg MsgOptions) (int, error) {
	return b.publish(topic, payload.NewCopy(data), msg)
}

// PublishBuffer publishes a caller-owned, possibly externally-cleaned-up
// payload. It takes over the caller's reference and releases it before
// returning, so the caller does not Release p itself. The payload is shared
// (ref-counted), not copied, across every matching subscription's envelope,
// and the external cleanup fires exactly once, after the last envelope's
// reference is released.
func (b *Bus) PublishBuffer(topic string, p *payload.Payload, priority pqueue.Priority) (int, error) {
	return b.publish(topic, p, MsgOptions{Priority: priority})
}

// PublishMulti publishes the same data to every named topic with the same
// envelope metadata, returning the total number of deliveries across all of
// them.
func (b *Bus) PublishMulti(topics []string, data []byte, msg MsgOptions) (totalDelivered int, err error) {
	for _, topic := range topics {
		n, pubErr := b.publish(topic, payload.NewCopy(data), msg)
		totalDelivered += n
		if pubErr != nil {
			err = pubErr
		}
	}
	return totalDelivered, err
}

func (b *Bus) publish(topicName string, p *payload.Payload, msg MsgOptions) (int, error) {
	if b.shutdown.Load() {
		p.Release()
		return 0, imcerr.Record(topicName, "Publish", ErrBusShutdown)
	}

	topicID, err := b.topics.GetOrCreateId(topicName)
	if err != nil {
		p.Release()
		return 0, imcerr.Record(topicName, "Publish", err)
	}

	b.subMu.RLock()
	subs := append([]*Subscription(nil), b.subsByTopic[topicID]...)
	b.subMu.RUnlock()

	b.topics.IncrementCount(topicID)

	if len(subs) == 0 {
		p.Release()
		return 0, nil
	}

	msgID := b.msgID.Add(1)

	delivered := 0
	var fullErr error
	for _, sub := range subs {
		env := &Envelope{
			TopicID:     topicID,
			Sender:      msg.Sender,
			MsgID:       msgID,
			Flags:       msg.Flags,
			Priority:    msg.Priority,
			TimestampNs: time.Now().UnixNano(),
			ReplyTopic:  msg.ReplyTopic,
			Payload:     p.Retain(),
		}
		accepted, skipped := sub.enqueue(env)
		if accepted {
			delivered++
			continue
		}
		env.Payload.Release()
		if !skipped {
			b.obs.notify(EventTypeMessageDropped, "imc.bus", map[string]any{
				"topic":           topicName,
				"subscription_id": sub.ID(),
			})
			if sub.opts.Backpressure == Block || sub.opts.Backpressure == Fail {
				fullErr = imcerr.ErrQueueFull
			}
		}
	}

	// Drop the publisher's own reference; each accepted envelope retained
	// its own, so the payload's cleanup fires only once the last one of
	// those (or this) releases.
	p.Release()

	if fullErr != nil {
		return delivered, imcerr.Record(topicName, "Publish", fullErr)
	}
	return delivered, nil
}

// Subscribe registers handler on topic with DefaultOptions (NORMAL floor),
// taking depth from Config.DefaultQueueDepth, the backpressure policy from
// Config.DefaultBackpressure, and the block timeout from Config.BlockTimeout.
// Subscribing to a non-existent topic auto-creates its id.
func (b *Bus) Subscribe(topic string, handler Handler) (*Subscription, error) {
	opts := DefaultOptions()
	opts.QueueDepth = b.cfg.DefaultQueueDepth
	opts.Backpressure = backpressureFromName(b.cfg.DefaultBackpressure)
	opts.BlockTimeout = b.cfg.BlockTimeout
	return b.SubscribeEx(topic, handler, opts)
}

// SubscribeEx registers handler on topic with caller-specified options.
func (b *Bus) SubscribeEx(topic string, handler Handler, opts Options) (*Subscription, error) {
	if b.shutdown.Load() {
		return nil, imcerr.Record(topic, "Subscribe", ErrBusShutdown)
	}
	if handler == nil {
		return nil, imcerr.Record(topic, "Subscribe", imcerr.ErrInvalidArgument)
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = b.cfg.DefaultQueueDepth
	}
	if b.cfg.MaxQueueDepth > 0 && opts.QueueDepth > b.cfg.MaxQueueDepth {
		opts.QueueDepth = b.cfg.MaxQueueDepth
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = b.cfg.BlockTimeout
	}

	topicID, err := b.topics.GetOrCreateId(topic)
	if err != nil {
		return nil, err
	}

	id := b.nextSubID.Add(1)
	sub := newSubscription(id, topicID, handler, opts, b.cfg.FairnessInterval)

	b.subMu.Lock()
	isNewTopic := len(b.subsByTopic[topicID]) == 0
	b.subsByTopic[topicID] = append(b.subsByTopic[topicID], sub)
	b.subByID[id] = sub
	b.subMu.Unlock()

	if isNewTopic {
		b.obs.notify(EventTypeTopicCreated, "imc.bus", map[string]any{"topic": topic})
	}
	b.obs.notify(EventTypeSubscriptionCreated, "imc.bus", map[string]any{
		"topic":           topic,
		"subscription_id": id,
	})

	return sub, nil
}

// Unsubscribe marks sub inactive (no further enqueues) and removes it from
// the topic table. The handle remains queryable via sub.IsActive.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return imcerr.Record(nil, "Unsubscribe", imcerr.ErrInvalidArgument)
	}

	b.subMu.Lock()
	if _, ok := b.subByID[sub.id]; !ok {
		b.subMu.Unlock()
		return imcerr.Record(sub.id, "Unsubscribe", ErrUnknownSubscription)
	}
	delete(b.subByID, sub.id)

	list := b.subsByTopic[sub.topicID]
	for i, s := range list {
		if s.id == sub.id {
			list[i] = list[len(list)-1]
			list = list[:len(list)-1]
			break
		}
	}
	if len(list) == 0 {
		delete(b.subsByTopic, sub.topicID)
	} else {
		b.subsByTopic[sub.topicID] = list
	}
	b.subMu.Unlock()

	sub.deactivate()
	b.obs.notify(EventTypeSubscriptionRemoved, "imc.bus", map[string]any{
		"subscription_id": sub.id,
	})
	return nil
}

// SubscriptionIsActive reports whether sub is still registered.
func (b *Bus) SubscriptionIsActive(sub *Subscription) bool {
	return sub != nil && sub.IsActive()
}

// PanicHandler is invoked (if set) when a subscription's handler panics
// during Pump, in place of the default log.
type PanicHandler func(subscriptionID uint64, topicID uint32, recovered any)

// Pump drains every subscription's priority queue, up to budget envelopes
// each (0 = unlimited), invoking its handler synchronously in priority
// order. Handler panics are recovered and routed to onPanic (or silently
// swallowed if nil) so one bad handler cannot abort the pump.
func (b *Bus) Pump(budget int, onPanic PanicHandler) {
	b.subMu.RLock()
	subs := make([]*Subscription, 0, len(b.subByID))
	for _, s := range b.subByID {
		subs = append(subs, s)
	}
	b.subMu.RUnlock()

	for _, sub := range subs {
		sub.pump(budget, onPanic)
	}
}

// RegisterRpc inserts a new RpcId -> handler binding. Fails with
// imcerr.ErrAlreadyExists if id is already registered.
func (b *Bus) RegisterRpc(name string, handler RpcHandler, userData any) (uint32, error) {
	id, err := b.rpcs.GetOrCreateId(name)
	if err != nil {
		return 0, imcerr.Record(name, "RegisterRpc", err)
	}
	if err := b.rpcTable.register(id, handler, userData); err != nil {
		return 0, imcerr.Record(name, "RegisterRpc", err)
	}
	b.obs.notify(EventTypeRPCRegistered, "imc.bus", map[string]any{"rpc": name, "rpc_id": id})
	return id, nil
}

// UnregisterRpc removes the handler bound to id. Fails with
// imcerr.ErrNotFound if absent.
func (b *Bus) UnregisterRpc(id uint32) error {
	if err := b.rpcTable.unregister(id); err != nil {
		return imcerr.Record(id, "UnregisterRpc", err)
	}
	b.obs.notify(EventTypeRPCUnregistered, "imc.bus", map[string]any{"rpc_id": id})
	return nil
}

// CallRpc looks up id and, if registered, invokes its handler synchronously
// against a fresh Future, returned already-terminal from the caller's
// point of view (Await will not block). If id is unregistered it returns
// imcerr.ErrRPCNotRegistered and creates no future.
func (b *Bus) CallRpc(ctx context.Context, id uint32, request *payload.Payload) (*future.Future, error) {
	f, err := b.rpcTable.call(ctx, id, request)
	if err != nil {
		return nil, imcerr.Record(id, "CallRpc", err)
	}
	return f, nil
}

// CallRpcByName resolves name to its RpcId via the RPC registry, then
// calls it.
func (b *Bus) CallRpcByName(ctx context.Context, name string, request *payload.Payload) (*future.Future, error) {
	id, err := b.rpcs.GetOrCreateId(name)
	if err != nil {
		return nil, err
	}
	f, err := b.CallRpc(ctx, id, request)
	if err != nil {
		return nil, fmt.Errorf("rpc %q: %w", name, err)
	}
	return f, nil
}

// Shutdown stops further publishes and subscriptions: the Publish* and
// Subscribe* calls made after Shutdown return ErrBusShutdown. RPC
// registration and calls, Unsubscribe, and Pump are not affected by
// Shutdown. It does not drain in-flight
// queues; callers that need a clean drain should Pump(0, nil) beforehand.
// Safe to call multiple times and safe to call from the host's detach
// path, per the Bus lifecycle contract. Re-creating a Bus with New is
// always permitted.
func (b *Bus) Shutdown() {
	b.shutdown.Store(true)
}
