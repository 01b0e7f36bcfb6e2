package bus

import (
	"github.com/coremodular/imc/payload"
	"github.com/coremodular/imc/pqueue"
)

// Envelope is the queued record a Publish call hands to each matching
// subscription's priority queue. An envelope belongs to exactly one queue
// slot at a time; its Payload is shared (ref-counted), never copied, across
// the fan-out to every active subscription.
type Envelope struct {
	TopicID     uint32
	Sender      any
	MsgID       uint64
	Flags       uint32
	Priority    pqueue.Priority
	TimestampNs int64
	ReplyTopic  uint32
	Payload     *payload.Payload
}
