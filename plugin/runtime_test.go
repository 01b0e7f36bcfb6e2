package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coremodular/imc/apiregistry"
	"github.com/coremodular/imc/imcerr"
)

func TestAttachInvokesEntrypointWithResolvers(t *testing.T) {
	tbl := apiregistry.New()
	require.NoError(t, tbl.Register(1010, "bmlImcPublish", func() {}, 0))
	rt := NewRuntime(tbl)

	var gotOp Op
	var gotHandle uint64
	_, err := rt.Attach("vendor.widget", func(op Op, args any) error {
		gotOp = op
		a := args.(*AttachArgs)
		gotHandle = a.Handle

		fn, ok := a.GetProc("bmlImcPublish")
		assert.True(t, ok)
		assert.NotNil(t, fn)

		id, ok := a.GetAPIID("bmlImcPublish")
		assert.True(t, ok)
		assert.EqualValues(t, 1010, id)

		fn2, ok := a.GetProcByID(1010)
		assert.True(t, ok)
		assert.NotNil(t, fn2)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, Attach, gotOp)
	assert.NotZero(t, gotHandle)
}

func TestAttachTwiceUnderSameNameFails(t *testing.T) {
	tbl := apiregistry.New()
	rt := NewRuntime(tbl)

	noop := func(Op, any) error { return nil }
	_, err := rt.Attach("vendor.widget", noop)
	require.NoError(t, err)

	_, err = rt.Attach("vendor.widget", noop)
	require.Error(t, err)
	assert.True(t, errors.Is(err, imcerr.ErrAlreadyExists))
}

func TestAttachFailurePropagatesAndDoesNotRegister(t *testing.T) {
	tbl := apiregistry.New()
	rt := NewRuntime(tbl)

	boom := errors.New("boom")
	_, err := rt.Attach("vendor.widget", func(Op, any) error { return boom })
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Empty(t, rt.Attached())
}

func TestDetachPassesOriginalHandle(t *testing.T) {
	tbl := apiregistry.New()
	rt := NewRuntime(tbl)

	var attachHandle, detachHandle uint64
	handle, err := rt.Attach("vendor.widget", func(op Op, args any) error {
		if op == Detach {
			detachHandle = args.(*DetachArgs).Handle
		}
		return nil
	})
	require.NoError(t, err)
	attachHandle = handle

	require.NoError(t, rt.Detach("vendor.widget"))
	assert.Equal(t, attachHandle, detachHandle)

	// Re-attach to confirm the name is free again after detach.
	_, err = rt.Attach("vendor.widget", func(Op, any) error { return nil })
	require.NoError(t, err)
}

func TestDetachUnknownNameFails(t *testing.T) {
	tbl := apiregistry.New()
	rt := NewRuntime(tbl)
	err := rt.Detach("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, imcerr.ErrNotFound))
}

func TestDetachAllRunsInReverseAttachOrder(t *testing.T) {
	tbl := apiregistry.New()
	rt := NewRuntime(tbl)

	var detachOrder []string
	makeEntry := func(name string) Entrypoint {
		return func(op Op, args any) error {
			if op == Detach {
				detachOrder = append(detachOrder, name)
			}
			return nil
		}
	}

	_, err := rt.Attach("first", makeEntry("first"))
	require.NoError(t, err)
	_, err = rt.Attach("second", makeEntry("second"))
	require.NoError(t, err)
	_, err = rt.Attach("third", makeEntry("third"))
	require.NoError(t, err)

	errs := rt.DetachAll()
	assert.Empty(t, errs)
	assert.Equal(t, []string{"third", "second", "first"}, detachOrder)
	assert.Empty(t, rt.Attached())
}

func TestDetachAllCollectsErrorsWithoutStopping(t *testing.T) {
	tbl := apiregistry.New()
	rt := NewRuntime(tbl)

	boom := errors.New("boom")
	_, err := rt.Attach("a", func(op Op, args any) error {
		if op == Detach {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	_, err = rt.Attach("b", func(Op, any) error { return nil })
	require.NoError(t, err)

	errs := rt.DetachAll()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], boom))
	assert.Empty(t, rt.Attached())
}

func TestUnresolvedProcNameFails(t *testing.T) {
	tbl := apiregistry.New()
	rt := NewRuntime(tbl)

	var sawOK bool
	_, err := rt.Attach("vendor.widget", func(op Op, args any) error {
		_, sawOK = args.(*AttachArgs).GetProc("ghost.api")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, sawOK)
}
