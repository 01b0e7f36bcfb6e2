package plugin

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/coremodular/imc/apiregistry"
	"github.com/coremodular/imc/imcerr"
)

// attached records one plug-in's entrypoint and the handle it was attached
// under, so Runtime can detach everything in reverse attach order the same
// way the host application stops modules in reverse dependency order.
type attached struct {
	name       string
	handle     uint64
	entrypoint Entrypoint
}

// Runtime is the host-side half of the entrypoint contract: it holds the
// dispatch table plug-ins resolve against, hands out a stable handle per
// plug-in, and tracks attach order for clean, reverse-order detach.
type Runtime struct {
	table *apiregistry.Table

	mu     sync.Mutex
	order  []*attached
	byName map[string]*attached
}

// NewRuntime wraps table with plug-in attach/detach bookkeeping. table is
// the dispatch table GetProc/GetProcByID/GetAPIID resolve against.
func NewRuntime(table *apiregistry.Table) *Runtime {
	return &Runtime{
		table:  table,
		byName: make(map[string]*attached),
	}
}

// Attach calls entrypoint with Op Attach and the runtime's resolvers,
// handing it a freshly minted handle. The handle is the first 8 bytes of a
// uuid.New() rather than a counter, so handles remain unique across
// process restarts.
func (r *Runtime) Attach(name string, entrypoint Entrypoint) (uint64, error) {
	if name == "" || entrypoint == nil {
		return 0, imcerr.ErrInvalidArgument
	}

	r.mu.Lock()
	if _, exists := r.byName[name]; exists {
		r.mu.Unlock()
		return 0, fmt.Errorf("plugin %q: %w", name, imcerr.ErrAlreadyExists)
	}
	r.mu.Unlock()

	handle := handleFromUUID(uuid.New())
	args := &AttachArgs{
		Handle:      handle,
		GetProc:     r.getProc,
		GetProcByID: r.getProcByID,
		GetAPIID:    r.getAPIID,
	}

	if err := entrypoint(Attach, args); err != nil {
		return 0, fmt.Errorf("plugin %q: attach: %w", name, err)
	}

	rec := &attached{name: name, handle: handle, entrypoint: entrypoint}
	r.mu.Lock()
	r.byName[name] = rec
	r.order = append(r.order, rec)
	r.mu.Unlock()

	return handle, nil
}

// Detach calls the named plug-in's entrypoint with Op Detach and its
// original handle, then forgets it. Detaching an unknown name is a no-op
// error, not a panic.
func (r *Runtime) Detach(name string) error {
	r.mu.Lock()
	rec, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, imcerr.ErrNotFound)
	}
	delete(r.byName, name)
	for i, a := range r.order {
		if a == rec {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return rec.entrypoint(Detach, &DetachArgs{Handle: rec.handle})
}

// DetachAll detaches every attached plug-in in the reverse order they were
// attached, collecting (not stopping on) individual failures.
func (r *Runtime) DetachAll() []error {
	r.mu.Lock()
	order := append([]*attached(nil), r.order...)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := r.Detach(order[i].name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Attached reports the names of every currently attached plug-in, in
// attach order.
func (r *Runtime) Attached() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	for i, a := range r.order {
		names[i] = a.name
	}
	return names
}

// getProc and getProcByID record each successful resolution on the entry's
// call counter, so the per-API trace reflects what plug-ins actually fetch;
// getAPIID only returns the id and records nothing.
func (r *Runtime) getProc(name string) (any, bool) {
	e, ok := r.table.LookupByName(nil, name)
	if !ok {
		return nil, false
	}
	r.table.RecordCall(e)
	return e.Fn, true
}

func (r *Runtime) getProcByID(id uint32) (any, bool) {
	e, ok := r.table.LookupTraced(nil, id)
	if !ok {
		return nil, false
	}
	return e.Fn, true
}

func (r *Runtime) getAPIID(name string) (uint32, bool) {
	e, ok := r.table.LookupByName(nil, name)
	if !ok {
		return 0, false
	}
	return e.ID, true
}

func handleFromUUID(id uuid.UUID) uint64 {
	var h uint64
	for _, b := range id[:8] {
		h = h<<8 | uint64(b)
	}
	return h
}
