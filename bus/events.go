package bus

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type constants for bus lifecycle notifications, following
// CloudEvents reverse-domain-notation conventions.
const (
	EventTypeTopicCreated        = "com.coremodular.imc.topic.created"
	EventTypeSubscriptionCreated = "com.coremodular.imc.subscription.created"
	EventTypeSubscriptionRemoved = "com.coremodular.imc.subscription.removed"
	EventTypeMessageDropped      = "com.coremodular.imc.message.dropped"
	EventTypeRPCRegistered       = "com.coremodular.imc.rpc.registered"
	EventTypeRPCUnregistered     = "com.coremodular.imc.rpc.unregistered"
)

// Observer receives bus lifecycle notifications. Observers should return
// quickly; notify does not wait on slow observers to protect
// publish-path latency.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// observerRegistration pairs an observer with the event types it filters
// on; an empty EventTypes slice means "all events".
type observerRegistration struct {
	observer   Observer
	eventTypes map[string]struct{}
}

// observers is the bus's Subject-side implementation: a thread-safe list of
// registered Observer instances, notified best-effort and out of line so a
// slow or erroring observer never blocks Publish/CallRpc.
type observers struct {
	mu   sync.RWMutex
	subs []*observerRegistration
}

func newObservers() *observers {
	return &observers{}
}

func (o *observers) register(observer Observer, eventTypes ...string) {
	reg := &observerRegistration{observer: observer}
	if len(eventTypes) > 0 {
		reg.eventTypes = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			reg.eventTypes[t] = struct{}{}
		}
	}
	o.mu.Lock()
	o.subs = append(o.subs, reg)
	o.mu.Unlock()
}

func (o *observers) unregister(observer Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	filtered := o.subs[:0]
	for _, reg := range o.subs {
		if reg.observer.ObserverID() != observer.ObserverID() {
			filtered = append(filtered, reg)
		}
	}
	o.subs = filtered
}

func (o *observers) notify(eventType, source string, data map[string]any) {
	o.mu.RLock()
	targets := make([]*observerRegistration, len(o.subs))
	copy(targets, o.subs)
	o.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	event := newCloudEvent(eventType, source, data)
	for _, reg := range targets {
		if reg.eventTypes != nil {
			if _, want := reg.eventTypes[eventType]; !want {
				continue
			}
		}
		go func(obs Observer) {
			_ = obs.OnEvent(context.Background(), event)
		}(reg.observer)
	}
}

func newCloudEvent(eventType, source string, data map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}
