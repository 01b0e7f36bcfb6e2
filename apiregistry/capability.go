package apiregistry

// Capability bits published by core IMC components so callers can probe
// optional behaviour with Table.HasCapability before relying on it.
const (
	// CapSharedExternalPayload marks a bus build that shares one
	// ref-counted Payload across every fan-out subscriber instead of
	// copying it per subscriber -- the chosen answer to the external
	// payload fan-out design question. Clients use this to reason about
	// cleanup latency: with this bit set, an external cleanup callback
	// does not fire until every subscriber envelope has released its
	// reference, not merely the first one processed.
	CapSharedExternalPayload uint64 = 1 << iota

	// CapSynchronousFutureCallbacks marks that FutureOnComplete fires
	// synchronously and inline on the calling goroutine, including
	// re-entrant calls made from inside another callback.
	CapSynchronousFutureCallbacks

	// CapPriorityFairness marks that the priority queue implements the
	// bounded-starvation fairness policy (FairnessInterval) rather than
	// strict priority ordering.
	CapPriorityFairness
)
