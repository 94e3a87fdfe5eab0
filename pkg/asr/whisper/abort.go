//go:build cgo

package whisper

import (
	"context"
	"runtime/cgo"
	"unsafe"
)

func contextFromHandle(userData unsafe.Pointer) (context.Context, bool) {
	if userData == nil {
		return nil, false
	}
	handle := *(*cgo.Handle)(userData)
	if handle == 0 {
		return nil, false
	}

	var value any
	func() {
		defer func() {
			if recover() != nil {
				value = nil
			}
		}()
		value = handle.Value()
	}()

	ctx, ok := value.(context.Context)
	return ctx, ok
}

func shouldAbort(userData unsafe.Pointer) bool {
	ctx, ok := contextFromHandle(userData)
	if !ok {
		return false
	}
	return ctx.Err() != nil
}
