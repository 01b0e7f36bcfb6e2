package bus

// TopicInfo reports what Publish/Subscribe currently know about one topic.
type TopicInfo struct {
	Name              string
	TopicID           uint32
	MessageCount      uint64
	SubscriptionCount int
}

// BusStats aggregates counters across every subscription the bus owns.
type BusStats struct {
	TopicCount        int
	SubscriptionCount int
	RPCCount          int
	Delivered         uint64
	Dropped           uint64
}

// GetStats aggregates delivered/dropped counters across all subscriptions.
func (b *Bus) GetStats() BusStats {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	stats := BusStats{
		TopicCount: len(b.subsByTopic),
		RPCCount:   b.rpcTable.count(),
	}
	for _, subs := range b.subsByTopic {
		stats.SubscriptionCount += len(subs)
		for _, s := range subs {
			snap := s.Stats()
			stats.Delivered += snap.Delivered
			stats.Dropped += snap.Dropped
		}
	}
	return stats
}

// ResetStats zeroes delivered/dropped counters on every live subscription.
// Intended for test harnesses and diagnostic resets, not normal operation.
func (b *Bus) ResetStats() {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, subs := range b.subsByTopic {
		for _, s := range subs {
			s.delivered.Store(0)
			s.dropped.Store(0)
			s.lastLatencyNs.Store(0)
		}
	}
}

// GetTopicInfo returns what the bus knows about name, auto-creating its id
// the same way Subscribe would (GetOrCreateId is idempotent).
func (b *Bus) GetTopicInfo(name string) (TopicInfo, error) {
	id, err := b.topics.GetOrCreateId(name)
	if err != nil {
		return TopicInfo{}, err
	}
	b.subMu.RLock()
	count := len(b.subsByTopic[id])
	b.subMu.RUnlock()
	return TopicInfo{
		Name:              name,
		TopicID:           id,
		MessageCount:      b.topics.Count(id),
		SubscriptionCount: count,
	}, nil
}

// GetTopicName reverse-resolves a topic id to the name it was created
// under, or false if the id was never handed out.
func (b *Bus) GetTopicName(id uint32) (string, bool) {
	return b.topics.NameOf(id)
}

// GetSubscriptionStats returns the delivery counters for a single
// subscription handle.
func (b *Bus) GetSubscriptionStats(sub *Subscription) Stats {
	return sub.Stats()
}

func (t *rpcTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
