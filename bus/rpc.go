package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/coremodular/imc/future"
	"github.com/coremodular/imc/imcerr"
	"github.com/coremodular/imc/payload"
)

// RpcHandler is invoked synchronously on the calling goroutine by CallRpc.
// It returns the response payload on success; a non-nil error fails the
// future with that error.
type RpcHandler func(ctx context.Context, rpcID uint32, request *payload.Payload, userData any) (*payload.Payload, error)

type rpcEntry struct {
	handler  RpcHandler
	userData any
}

// rpcTable is {RpcId -> (handler, user_data)}: exactly one registration
// per id, re-registration of a live id fails.
type rpcTable struct {
	mu      sync.RWMutex
	entries map[uint32]*rpcEntry
}

func newRPCTable() *rpcTable {
	return &rpcTable{entries: make(map[uint32]*rpcEntry)}
}

func (t *rpcTable) register(id uint32, handler RpcHandler, userData any) error {
	if handler == nil {
		return imcerr.ErrInvalidArgument
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return imcerr.ErrAlreadyExists
	}
	t.entries[id] = &rpcEntry{handler: handler, userData: userData}
	return nil
}

func (t *rpcTable) unregister(id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; !exists {
		return imcerr.ErrNotFound
	}
	delete(t.entries, id)
	return nil
}

func (t *rpcTable) lookup(id uint32) (*rpcEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// call looks up id and, if present, invokes its handler synchronously on
// the calling goroutine against a fresh Future: OK responses terminate the
// future READY with the response payload, handler errors terminate it
// FAILED. If id is unregistered it returns imcerr.ErrRPCNotRegistered and no
// future is created, per the CallRpc contract.
func (t *rpcTable) call(ctx context.Context, id uint32, request *payload.Payload) (*future.Future, error) {
	entry, ok := t.lookup(id)
	if !ok {
		return nil, fmt.Errorf("rpc id %d: %w", id, imcerr.ErrRPCNotRegistered)
	}

	f := future.New()
	resp, err := entry.handler(ctx, id, request, entry.userData)
	if err != nil {
		f.FailWith(err)
		return f, nil
	}
	f.Complete(resp)
	return f, nil
}
