// Package nameregistry provides the stable name-to-id mapping used for IMC
// topics and RPCs. Ids are derived deterministically from their name via a
// stable hash and, once handed out, never change for the lifetime of the
// process.
package nameregistry

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrEmptyName is returned by GetOrCreateId for the empty string.
var ErrEmptyName = errors.New("nameregistry: name must not be empty")

// Invalid is the reserved "no id" sentinel; GetOrCreateId never returns it
// on success.
const Invalid uint32 = 0

// entry tracks a registered name alongside its publish counter.
type entry struct {
	name  string
	count uint64
}

// Registry is a bidirectional name<->id map with a per-id message counter.
// Two independent Registry values are expected per process (one for topics,
// one for RPCs); they do not share id space with each other.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]uint32
	byID   map[uint32]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]uint32),
		byID:   make(map[uint32]*entry),
	}
}

// GetOrCreateId returns the stable id for name, allocating one on first
// use. Repeated calls with the same name always return the same id
// (property: id stability). Distinct names always receive distinct ids
// (property: id uniqueness), guaranteed by rehashing on collision.
func (r *Registry) GetOrCreateId(name string) (uint32, error) {
	if name == "" {
		return Invalid, ErrEmptyName
	}

	r.mu.RLock()
	if id, ok := r.byName[name]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock: another goroutine may have created
	// the id between our RUnlock and Lock.
	if id, ok := r.byName[name]; ok {
		return id, nil
	}

	id := stableHash(name)
	for {
		if id == Invalid {
			id = remix(id)
			continue
		}
		if _, taken := r.byID[id]; !taken {
			break
		}
		id = remix(id)
	}

	r.byName[name] = id
	r.byID[id] = &entry{name: name}
	return id, nil
}

// NameOf returns the name registered for id, or false if id is unknown.
func (r *Registry) NameOf(id uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return e.name, true
}

// IncrementCount bumps the publish counter for id. Unknown ids are ignored,
// since a caller racing GetOrCreateId against a concurrent registry reset
// should not panic.
func (r *Registry) IncrementCount(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.count++
	}
}

// Count returns the publish counter for id, or 0 if unknown.
func (r *Registry) Count(id uint32) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byID[id]; ok {
		return e.count
	}
	return 0
}

// TopicCount returns the number of distinct names registered so far. The
// name reflects the method's original use for topic registries but it
// applies equally to an RPC-id Registry.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// stableHash derives the initial id candidate from name using xxHash64,
// folded into 32 bits. Id 0 is never returned directly; remix handles that
// case along with collisions.
func stableHash(name string) uint32 {
	h := xxhash.Sum64String(name)
	return uint32(h ^ (h >> 32))
}

// remix re-mixes a taken or invalid id into a new candidate by running the
// SplitMix64 finalizer over the previous id, which keeps the rehash loop
// deterministic and fast.
func remix(id uint32) uint32 {
	x := uint64(id)
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	mixed := uint32(x ^ (x >> 32))
	if mixed == Invalid {
		return remix(mixed + 1)
	}
	return mixed
}
