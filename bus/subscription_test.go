package bus

import (
	"testing"
	"time"

	"github.com/coremodular/imc/pqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropOldestEvictsOldestInBand(t *testing.T) {
	b := New(DefaultConfig())
	var delivered []int
	sub, err := b.SubscribeEx("drop.oldest", func(env *Envelope) error {
		delivered = append(delivered, int(env.Payload.Bytes()[0]))
		return nil
	}, Options{MinPriority: pqueue.Low, QueueDepth: 2, Backpressure: DropOldest})
	require.NoError(t, err)

	for i := byte(0); i < 4; i++ {
		_, _ = b.Publish("drop.oldest", []byte{i})
	}
	b.Pump(0, nil)

	// Depth 2, DROP_OLDEST: after 4 publishes the queue should hold the
	// two newest (2, 3); 0 and 1 were evicted to make room.
	assert.Equal(t, []int{2, 3}, delivered)
	assert.EqualValues(t, 2, sub.Stats().Dropped)
}

func TestBlockPolicyTimesOutWhenQueueStaysFull(t *testing.T) {
	b := New(DefaultConfig())
	sub, err := b.SubscribeEx("block.topic", func(env *Envelope) error { return nil },
		Options{MinPriority: pqueue.Low, QueueDepth: 2, Backpressure: Block, BlockTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, _ = b.Publish("block.topic", []byte("a"))
	_, _ = b.Publish("block.topic", []byte("b"))

	start := time.Now()
	_, _ = b.Publish("block.topic", []byte("c"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.EqualValues(t, 1, sub.Stats().Dropped)
}

func TestFailPolicyDropsImmediatelyWithoutWaiting(t *testing.T) {
	b := New(DefaultConfig())
	sub, err := b.SubscribeEx("fail.topic", func(env *Envelope) error { return nil },
		Options{MinPriority: pqueue.Low, QueueDepth: 2, Backpressure: Fail})
	require.NoError(t, err)

	_, _ = b.Publish("fail.topic", []byte("a"))
	_, _ = b.Publish("fail.topic", []byte("b"))
	start := time.Now()
	_, _ = b.Publish("fail.topic", []byte("c"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Millisecond)
	assert.EqualValues(t, 1, sub.Stats().Dropped)
}

func TestFilterRejectionSkipsWithoutCountingDrop(t *testing.T) {
	b := New(DefaultConfig())
	sub, err := b.SubscribeEx("filtered.topic", func(env *Envelope) error { return nil },
		Options{
			MinPriority: pqueue.Low,
			QueueDepth:  8,
			Filter:      func(env *Envelope) bool { return env.Payload.Bytes()[0]%2 == 0 },
		})
	require.NoError(t, err)

	for i := byte(0); i < 6; i++ {
		_, _ = b.Publish("filtered.topic", []byte{i})
	}
	b.Pump(0, nil)

	assert.EqualValues(t, 3, sub.Stats().Delivered, "only even payloads pass the filter")
	assert.EqualValues(t, 0, sub.Stats().Dropped, "filter rejections are skips, not drops")
}

func TestMinPrioritySkipsBelowFloorWithoutCountingDrop(t *testing.T) {
	b := New(DefaultConfig())
	sub, err := b.SubscribeEx("floor.topic", func(env *Envelope) error { return nil },
		Options{MinPriority: pqueue.High, QueueDepth: 8})
	require.NoError(t, err)

	_, _ = b.PublishEx("floor.topic", []byte("x"), pqueue.Low, nil)
	b.Pump(0, nil)

	assert.EqualValues(t, 0, sub.Stats().Delivered)
	assert.EqualValues(t, 0, sub.Stats().Dropped)
}
