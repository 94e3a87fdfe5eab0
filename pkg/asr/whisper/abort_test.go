//go:build cgo

package whisper

import (
	"context"
	"runtime/cgo"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestShouldAbort(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	handle := cgo.NewHandle(ctx)
	defer handle.Delete()

	require.False(t, shouldAbort(unsafe.Pointer(&handle)))
	cancelFn()
	require.True(t, shouldAbort(unsafe.Pointer(&handle)))
}

func TestContextFromHandleInvalid(t *testing.T) {
	_, ok := contextFromHandle(nil)
	require.False(t, ok)

	var zero cgo.Handle
	_, ok = contextFromHandle(unsafe.Pointer(&zero))
	require.False(t, ok)

	notCtx := cgo.NewHandle("not a context")
	defer notCtx.Delete()
	_, ok = contextFromHandle(unsafe.Pointer(&notCtx))
	require.False(t, ok)

	deleted := cgo.NewHandle(context.Background())
	deleted.Delete()
	require.False(t, shouldAbort(unsafe.Pointer(&deleted)))
}
