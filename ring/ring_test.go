package ring

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesCapacity(t *testing.T) {
	assert.Equal(t, 2, New[int](0).Capacity())
	assert.Equal(t, 2, New[int](1).Capacity())
	assert.Equal(t, 4, New[int](3).Capacity())
	assert.Equal(t, 8, New[int](8).Capacity())
	assert.Equal(t, 16, New[int](9).Capacity())
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 4; i++ {
		require.True(t, r.Enqueue(i))
	}
	assert.False(t, r.Enqueue(99), "ring should report full")

	for i := 0; i < 4; i++ {
		v, ok := r.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.Dequeue()
	assert.False(t, ok, "ring should report empty")
}

func TestIsEmptyAndApproximateSize(t *testing.T) {
	r := New[int](4)
	assert.True(t, r.IsEmpty())
	require.True(t, r.Enqueue(1))
	require.True(t, r.Enqueue(2))
	assert.False(t, r.IsEmpty())
	assert.Equal(t, 2, r.ApproximateSize())
	_, _ = r.Dequeue()
	assert.Equal(t, 1, r.ApproximateSize())
}

// TestMPSCNoLossNoDuplicate: P producers each
// pushing M distinct values into a ring of capacity C, the single consumer
// observes each successfully-enqueued value exactly once.
func TestMPSCNoLossNoDuplicate(t *testing.T) {
	const producers = 8
	const perProducer = 500
	r := New[int](1024)

	var wg sync.WaitGroup
	accepted := make([][]int, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				for !r.Enqueue(v) {
					// capacity is generous enough that retrying briefly suffices
				}
				accepted[p] = append(accepted[p], v)
			}
		}(p)
	}

	done := make(chan struct{})
	var consumed []int
	go func() {
		defer close(done)
		want := producers * perProducer
		for len(consumed) < want {
			if v, ok := r.Dequeue(); ok {
				consumed = append(consumed, v)
			}
		}
	}()

	wg.Wait()
	<-done

	sort.Ints(consumed)
	expected := make([]int, 0, producers*perProducer)
	for p := 0; p < producers; p++ {
		expected = append(expected, accepted[p]...)
	}
	sort.Ints(expected)
	assert.Equal(t, expected, consumed)
}
