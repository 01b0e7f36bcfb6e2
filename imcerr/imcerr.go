// Package imcerr defines the IMC runtime's error taxonomy: a set of static
// sentinel errors grouped by category (programmer errors, resource errors,
// domain errors), plus a per-call-site "last error" record carrying
// {code, message, api_name, source_file, source_line}. Go has no
// goroutine-local storage, so LastError is keyed by a caller-supplied token
// instead of an implicit thread id; callers that want per-call-site
// isolation pass their own token (typically the subscription or RPC id
// involved).
package imcerr

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Programmer errors: caller passed something invalid or used an object in
// the wrong state.
var (
	ErrInvalidArgument = errors.New("imc: invalid argument")
	ErrInvalidSize     = errors.New("imc: struct size too small")
	ErrInvalidState    = errors.New("imc: operation invalid in current state")
	ErrInvalidHandle   = errors.New("imc: unknown or already released handle")
	ErrAlreadyExists   = errors.New("imc: already exists")
	ErrNotFound        = errors.New("imc: not found")
)

// Resource errors: the operation could not be satisfied right now.
var (
	ErrOutOfMemory = errors.New("imc: out of memory")
	ErrQueueFull   = errors.New("imc: queue full")
	ErrTimeout     = errors.New("imc: timeout")
	ErrWouldBlock  = errors.New("imc: would block")
)

// Domain errors: specific to IMC pub/sub, RPC, and future semantics.
var (
	ErrRPCNotRegistered     = errors.New("imc: rpc not registered")
	ErrRPCAlreadyRegistered = errors.New("imc: rpc already registered")
	ErrFutureCancelled      = errors.New("imc: future was cancelled")
	ErrFutureFailed         = errors.New("imc: future failed")
	ErrVersionMismatch      = errors.New("imc: version mismatch")
	ErrNotSupported         = errors.New("imc: not supported")
	ErrPermissionDenied     = errors.New("imc: permission denied")
)

// Category classifies an error into one of the three taxonomy buckets so
// callers can branch on kind without matching individual sentinels.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryProgrammer
	CategoryResource
	CategoryDomain
)

func (c Category) String() string {
	switch c {
	case CategoryProgrammer:
		return "programmer"
	case CategoryResource:
		return "resource"
	case CategoryDomain:
		return "domain"
	default:
		return "unknown"
	}
}

var categoryOf = map[error]Category{
	ErrInvalidArgument: CategoryProgrammer,
	ErrInvalidSize:     CategoryProgrammer,
	ErrInvalidState:    CategoryProgrammer,
	ErrInvalidHandle:   CategoryProgrammer,
	ErrAlreadyExists:   CategoryProgrammer,
	ErrNotFound:        CategoryProgrammer,

	ErrOutOfMemory: CategoryResource,
	ErrQueueFull:   CategoryResource,
	ErrTimeout:     CategoryResource,
	ErrWouldBlock:  CategoryResource,

	ErrRPCNotRegistered:     CategoryDomain,
	ErrRPCAlreadyRegistered: CategoryDomain,
	ErrFutureCancelled:      CategoryDomain,
	ErrFutureFailed:         CategoryDomain,
	ErrVersionMismatch:      CategoryDomain,
	ErrNotSupported:         CategoryDomain,
	ErrPermissionDenied:     CategoryDomain,
}

// Classify returns the taxonomy category for one of this package's
// sentinel errors (matched via errors.Is), or CategoryUnknown for anything
// else.
func Classify(err error) Category {
	for sentinel, cat := range categoryOf {
		if errors.Is(err, sentinel) {
			return cat
		}
	}
	return CategoryUnknown
}

// LastError is the per-call-site error record callers read back after a
// failed dispatch-routed call.
type LastError struct {
	Code       error
	Message    string
	APIName    string
	SourceFile string
	SourceLine int
}

// lastErrors stores the most recent LastError per caller-supplied token.
// Tokens are typically a subscription id, RPC id, or any other value a
// caller uses to scope "this call site's last error" the way a thread id
// would in a language with real TLS.
var lastErrors sync.Map // map[any]LastError

// SetLastError records err as the most recent error observed for token.
func SetLastError(token any, code error, apiName string, sourceFile string, sourceLine int) {
	lastErrors.Store(token, LastError{
		Code:       code,
		Message:    code.Error(),
		APIName:    apiName,
		SourceFile: sourceFile,
		SourceLine: sourceLine,
	})
}

// GetLastError returns the most recent error recorded for token, if any.
func GetLastError(token any) (LastError, bool) {
	v, ok := lastErrors.Load(token)
	if !ok {
		return LastError{}, false
	}
	return v.(LastError), true
}

// ClearLastError removes any recorded error for token, mirroring a caller
// clearing its thread-local record after having handled it.
func ClearLastError(token any) {
	lastErrors.Delete(token)
}

// Record stores err as token's last error, stamped with apiName and the
// calling source location, and returns err unchanged so error-return
// paths can record and return in one expression:
//
//	return imcerr.Record(id, "CallRpc", err)
//
// A nil err records nothing and returns nil.
func Record(token any, apiName string, err error) error {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	SetLastError(token, err, apiName, file, line)
	return err
}

// Wrap annotates err with a caller-facing api name, for errors returned
// from dispatch-table-routed calls.
func Wrap(apiName string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", apiName, err)
}
