// Package plugin implements the single-symbol entrypoint contract external
// plug-ins use to attach to the IMC runtime: one exported function taking an
// Op and an args value, mirroring the "each plug-in exports a single symbol
// ModEntrypoint(op, args)" contract. Go has no dynamically-loaded-symbol
// story as direct as a C ABI, so a plug-in here is anything implementing
// Entrypoint -- built in-process, loaded via plugin.Open, or compiled as a
// separate binary speaking this same Go interface over RPC; the contract
// itself does not care which.
package plugin

// Op selects which half of the entrypoint contract is being invoked.
type Op int

const (
	// Attach is called once when the runtime loads a plug-in. Resolver
	// functions in AttachArgs are only valid for the lifetime of the
	// plug-in's attachment; plug-ins may cache the pointers they resolve.
	Attach Op = iota
	// Detach is called once when the runtime unloads a plug-in, in the
	// reverse order plug-ins were attached.
	Detach
)

func (o Op) String() string {
	switch o {
	case Attach:
		return "ATTACH"
	case Detach:
		return "DETACH"
	default:
		return "UNKNOWN"
	}
}

// GetProcFunc resolves a registered API by name.
type GetProcFunc func(name string) (any, bool)

// GetProcByIDFunc resolves a registered API by its stable ApiId, the fast
// path a plug-in should prefer once it has cached an id via GetAPIID.
type GetProcByIDFunc func(id uint32) (any, bool)

// GetAPIIDFunc resolves a registered API's name to its stable ApiId.
type GetAPIIDFunc func(name string) (uint32, bool)

// AttachArgs is passed to Entrypoint on Attach. The runtime is expected to
// provide all three resolvers; a plug-in may use whichever fits (by name
// for readability, by id for the hot path).
type AttachArgs struct {
	Handle      uint64
	GetProc     GetProcFunc
	GetProcByID GetProcByIDFunc
	GetAPIID    GetAPIIDFunc
}

// DetachArgs is passed to Entrypoint on Detach.
type DetachArgs struct {
	Handle uint64
}

// Entrypoint is the single symbol a plug-in exports. The runtime calls it
// with op == Attach and an *AttachArgs, then later with op == Detach and a
// *DetachArgs. Returning a non-nil error from Attach aborts the attach and
// the plug-in is never added to the runtime's attached set; Detach errors
// are returned to the caller (Runtime.DetachAll collects them) but do not
// stop other plug-ins from detaching.
type Entrypoint func(op Op, args any) error
