package apiregistry

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/coremodular/imc/imcerr"
)

// Entry is one row of the dispatch table: a name, its registered function
// value (held as any since entries span publish/subscribe/rpc/config/etc
// signatures), its aggregated capability bitmask, and a call counter used
// for tracing which APIs are actually exercised at runtime.
type Entry struct {
	ID           uint32
	Name         string
	Fn           any
	Capabilities uint64

	callCount atomic.Uint64
}

// CallCount returns how many times this entry has been resolved through
// Table.LookupTraced or recorded via Table.RecordCall; plain Table.Lookup
// does not count.
func (e *Entry) CallCount() uint64 {
	return e.callCount.Load()
}

// cacheSlot is one row of a per-token round-robin cache.
type cacheSlot struct {
	id    uint32
	entry *Entry
	valid bool
}

const cacheSlots = 16

// lookupCache is a 16-entry most-recently-used cache. Go has no
// goroutine-local storage, so the cache is keyed by a caller-supplied
// token (typically a worker or subscription id) instead of an implicit
// thread id, the same pattern imcerr.LastError uses.
type lookupCache struct {
	mu      sync.Mutex
	version uint64
	slots   [cacheSlots]cacheSlot
	next    int
}

func (c *lookupCache) get(id uint32, currentVersion uint64) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != currentVersion {
		c.slots = [cacheSlots]cacheSlot{}
		c.version = currentVersion
		return nil, false
	}
	for _, s := range c.slots {
		if s.valid && s.id == id {
			return s.entry, true
		}
	}
	return nil, false
}

func (c *lookupCache) put(id uint32, entry *Entry, currentVersion uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != currentVersion {
		c.slots = [cacheSlots]cacheSlot{}
		c.version = currentVersion
	}
	c.slots[c.next] = cacheSlot{id: id, entry: entry, valid: true}
	c.next = (c.next + 1) % cacheSlots
}

// Table is the three-level ApiId -> Entry dispatch table: a direct array
// for the common case (ids below directTableSize), a hashmap fallback for
// everything else (including the 50000+ extension range), and a per-token
// round-robin cache in front of the hashmap so repeat lookups from the
// same caller avoid the map's lock.
type Table struct {
	direct [directTableSize]atomic.Pointer[Entry]

	mu       sync.RWMutex
	overflow map[uint32]*Entry
	byName   map[string]uint32

	version atomic.Uint64
	caches  sync.Map // token -> *lookupCache

	capabilities atomic.Uint64
}

// New creates an empty dispatch table.
func New() *Table {
	return &Table{
		overflow: make(map[uint32]*Entry),
		byName:   make(map[string]uint32),
	}
}

// Register binds id to name/fn/capabilities. Registering an id that is
// already live is a silent no-op: the first winner stands until it is
// explicitly unregistered, at which point the id (reserved to its name
// forever) can be bound again.
func (t *Table) Register(id uint32, name string, fn any, capabilities uint64) error {
	if id == 0 {
		return imcerr.Record(id, "Register", imcerr.ErrInvalidArgument)
	}
	entry := &Entry{ID: id, Name: name, Fn: fn, Capabilities: capabilities}

	if id < directTableSize {
		if !t.direct[id].CompareAndSwap(nil, entry) {
			return nil
		}
	} else {
		t.mu.Lock()
		if _, live := t.overflow[id]; live {
			t.mu.Unlock()
			return nil
		}
		t.overflow[id] = entry
		t.mu.Unlock()
		t.version.Add(1)
	}

	t.mu.Lock()
	t.byName[name] = id
	t.mu.Unlock()

	t.orCapabilities(capabilities)
	return nil
}

// orCapabilities bitwise-ORs flags into the aggregated capability mask via
// a CAS loop; atomic.Uint64 has no built-in Or.
func (t *Table) orCapabilities(flags uint64) {
	for {
		cur := t.capabilities.Load()
		next := cur | flags
		if next == cur || t.capabilities.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Unregister removes id's entry, if any. The slot is not reassigned to a
// different name, matching the ids-are-reserved-forever policy; this only
// clears the live function pointer.
func (t *Table) Unregister(id uint32) {
	if id < directTableSize {
		t.direct[id].Store(nil)
		return
	}
	t.mu.Lock()
	delete(t.overflow, id)
	t.mu.Unlock()
	t.version.Add(1)
}

// Lookup resolves id to its Entry. token scopes the round-robin cache used
// for ids in the hashmap range; callers that don't care about cache
// affinity can pass any stable per-caller value (or nil, which still
// works, it just means every nil-token caller shares one cache line).
func (t *Table) Lookup(token any, id uint32) (*Entry, bool) {
	if id == 0 {
		return nil, false
	}
	if id < directTableSize {
		e := t.direct[id].Load()
		return e, e != nil
	}
	return t.lookupOverflow(token, id)
}

func (t *Table) lookupOverflow(token any, id uint32) (*Entry, bool) {
	currentVersion := t.version.Load()

	if cacheAny, ok := t.caches.Load(token); ok {
		if e, hit := cacheAny.(*lookupCache).get(id, currentVersion); hit {
			return e, e != nil
		}
	}

	t.mu.RLock()
	e, ok := t.overflow[id]
	t.mu.RUnlock()

	cacheAny, _ := t.caches.LoadOrStore(token, &lookupCache{version: currentVersion})
	cacheAny.(*lookupCache).put(id, e, currentVersion)

	return e, ok
}

// LookupTraced is Lookup plus a call-count increment on the resolved
// entry, for dispatch call sites that want the per-API call trace. Hot
// internal paths that resolve the same id repeatedly can use Lookup and
// skip the atomic increment.
func (t *Table) LookupTraced(token any, id uint32) (*Entry, bool) {
	e, ok := t.Lookup(token, id)
	if ok {
		e.callCount.Add(1)
	}
	return e, ok
}

// LookupByName resolves a registered API name to its Entry.
func (t *Table) LookupByName(token any, name string) (*Entry, bool) {
	t.mu.RLock()
	id, ok := t.byName[name]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Lookup(token, id)
}

// RecordCall increments an entry's call counter. Callers invoke this after
// successfully dispatching through Lookup's result, producing a per-API
// call trace readable via Entry.CallCount.
func (t *Table) RecordCall(e *Entry) {
	if e != nil {
		e.callCount.Add(1)
	}
}

// Entries returns a snapshot of every live entry, direct and overflow,
// sorted by id, for diagnostics enumeration.
func (t *Table) Entries() []*Entry {
	var out []*Entry
	for i := range t.direct {
		if e := t.direct[i].Load(); e != nil {
			out = append(out, e)
		}
	}
	t.mu.RLock()
	for _, e := range t.overflow {
		out = append(out, e)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Entry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Capabilities returns the process-wide aggregated capability bitmask
// across every registered entry.
func (t *Table) Capabilities() uint64 {
	return t.capabilities.Load()
}

// HasCapability reports whether flag is set in the aggregated capability
// bitmask.
func (t *Table) HasCapability(flag uint64) bool {
	return t.capabilities.Load()&flag != 0
}
