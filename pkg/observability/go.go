package observability

import (
	"context"
)

// Go runs fn in a goroutine; a panic is reported and then re-raised.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() { PanicIfNotNil(ctx, recover()) }()
		fn()
	}()
}

// GoSafe runs fn in a goroutine; a panic is reported and swallowed.
func GoSafe(ctx context.Context, fn func()) {
	go func() {
		defer func() { ReportPanicIfNotNil(ctx, recover()) }()
		fn()
	}()
}
