// Package apiregistry implements the IMC runtime's stable API dispatch
// table: every plug-in entry point is called through an integer ApiId
// rather than a direct symbol, so the host can add, remove, or relocate
// implementations across versions without breaking callers compiled
// against an older layout.
package apiregistry

// ApiId ranges are frozen once published: an id, once reserved to a name,
// is never reassigned even if that API is later removed. Extension ids
// (50000+) are handed out at runtime by RegisterExtension; everything
// below is a compile-time-assigned core range.
const (
	RangeCoreLifecycleStart = 1
	RangeCoreLifecycleEnd   = 999

	RangeIMCStart = 1000
	RangeIMCEnd   = 1099

	RangeConfigStart = 2000
	RangeConfigEnd   = 2999

	RangeLoggingStart = 3000
	RangeLoggingEnd   = 3999

	RangeMemoryStart = 5000
	RangeMemoryEnd   = 5999

	RangeExtensionCoreStart = 6000
	RangeExtensionCoreEnd   = 6999

	RangeSyncStart = 7000
	RangeSyncEnd   = 7999

	RangeProfilingStart = 8000
	RangeProfilingEnd   = 8999

	RangeCapabilityStart = 9000
	RangeCapabilityEnd   = 9099

	// RangeExtensionAllocated is the open-ended range handed out at
	// runtime by RegisterExtension.
	RangeExtensionAllocated = 50000

	// directTableSize bounds the fast-path array lookup: ids below this
	// are indexed directly, ids at or above it always go through the
	// hashmap fallback.
	directTableSize = 10000
)
