package apiregistry

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/coremodular/imc/imcerr"
)

// ExtensionInfo is the metadata an extension registers alongside its
// dispatch entry: a semantic-ish major.minor pair callers can match
// against before depending on optional behaviour, plus the provider id of
// the plug-in that supplied the table.
type ExtensionInfo struct {
	Name         string
	Major        int
	Minor        int
	ApiId        uint32
	ProviderID   uint32
	Capabilities uint64
}

// extensionRegistry hands out ids from RangeExtensionAllocated upward and
// tracks each extension's version for GetExtension matching.
type extensionRegistry struct {
	mu      sync.RWMutex
	byName  map[string]ExtensionInfo
	counter atomic.Uint64
}

func newExtensionRegistry() *extensionRegistry {
	r := &extensionRegistry{byName: make(map[string]ExtensionInfo)}
	r.counter.Store(RangeExtensionAllocated - 1)
	return r
}

// Extensions is the extension-facing half of a Table: RegisterExtension
// allocates an id from the 50000+ range and binds it in the underlying
// Table the same way a core API would be, but also records version and
// provider metadata for GetExtension matching and Enumerate listings.
type Extensions struct {
	table *Table
	reg   *extensionRegistry
}

// NewExtensions wraps table with extension registration/lookup.
func NewExtensions(table *Table) *Extensions {
	return &Extensions{table: table, reg: newExtensionRegistry()}
}

// RegisterExtension allocates a new ApiId for name, registers fn in the
// dispatch table, and records (major, minor) and the providing plug-in's
// id for later GetExtension matching and Enumerate filtering.
// Re-registering an already-present name fails.
func (x *Extensions) RegisterExtension(name string, major, minor int, fn any, providerID uint32, capabilities uint64) (uint32, error) {
	x.reg.mu.Lock()
	if _, exists := x.reg.byName[name]; exists {
		x.reg.mu.Unlock()
		return 0, imcerr.Record(name, "RegisterExtension", imcerr.ErrAlreadyExists)
	}
	id := uint32(x.reg.counter.Add(1))
	info := ExtensionInfo{
		Name:         name,
		Major:        major,
		Minor:        minor,
		ApiId:        id,
		ProviderID:   providerID,
		Capabilities: capabilities,
	}
	x.reg.byName[name] = info
	x.reg.mu.Unlock()

	if err := x.table.Register(id, name, fn, capabilities); err != nil {
		return 0, imcerr.Record(name, "RegisterExtension", err)
	}
	return id, nil
}

// GetExtension resolves name to its Entry, requiring the registered
// extension's major version to match exactly and its minor version to be
// at least wantMinor (the usual "compatible if same major, minor is a
// floor" semantics).
func (x *Extensions) GetExtension(token any, name string, wantMajor, wantMinor int) (*Entry, error) {
	x.reg.mu.RLock()
	info, ok := x.reg.byName[name]
	x.reg.mu.RUnlock()
	if !ok {
		return nil, imcerr.Record(name, "GetExtension",
			fmt.Errorf("extension %q: %w", name, imcerr.ErrNotFound))
	}
	if info.Major != wantMajor || info.Minor < wantMinor {
		return nil, imcerr.Record(name, "GetExtension",
			fmt.Errorf("extension %q version %d.%d does not satisfy required %d.%d: %w",
				name, info.Major, info.Minor, wantMajor, wantMinor, imcerr.ErrVersionMismatch))
	}
	e, ok := x.table.Lookup(token, info.ApiId)
	if !ok {
		return nil, imcerr.Record(name, "GetExtension",
			fmt.Errorf("extension %q: %w", name, imcerr.ErrNotFound))
	}
	return e, nil
}

// ExtensionFilter selects extensions for Enumerate. The zero value matches
// everything: an empty NameGlob matches all names, ProviderID 0 matches
// any provider, and a zero MinMajor/MinMinor accepts any version.
type ExtensionFilter struct {
	NameGlob   string
	ProviderID uint32
	MinMajor   int
	MinMinor   int
}

func (f ExtensionFilter) matches(info ExtensionInfo) bool {
	if f.NameGlob != "" {
		ok, err := path.Match(f.NameGlob, info.Name)
		if err != nil || !ok {
			return false
		}
	}
	if f.ProviderID != 0 && info.ProviderID != f.ProviderID {
		return false
	}
	if info.Major < f.MinMajor {
		return false
	}
	if info.Major == f.MinMajor && info.Minor < f.MinMinor {
		return false
	}
	return true
}

// Enumerate returns every registered extension matching filter, sorted by
// ApiId. Diagnostics surfaces use this to list what a given provider has
// registered (ProviderID filter) or to glob across a vendor namespace
// (NameGlob filter, e.g. "vendor.*").
func (x *Extensions) Enumerate(filter ExtensionFilter) []ExtensionInfo {
	x.reg.mu.RLock()
	out := make([]ExtensionInfo, 0, len(x.reg.byName))
	for _, info := range x.reg.byName {
		if filter.matches(info) {
			out = append(out, info)
		}
	}
	x.reg.mu.RUnlock()

	slices.SortFunc(out, func(a, b ExtensionInfo) int { return cmp.Compare(a.ApiId, b.ApiId) })
	return out
}
