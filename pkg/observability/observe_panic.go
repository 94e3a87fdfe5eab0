package observability

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ambientscribe/pkg/phi"
)

// PanicValue is what leaves the process instead of the original panic
// value: its text with the PHI-looking substrings redacted.
type PanicValue string

func (v PanicValue) Error() string {
	return string(v)
}

func redactPanicValue(r any) PanicValue {
	return PanicValue(phi.Redact(fmt.Sprintf("%v", r)))
}

func PanicIfNotNil(ctx context.Context, r any) {
	if r == nil {
		return
	}
	ReportPanicIfNotNil(ctx, r)
	time.Sleep(time.Second)
	panic(redactPanicValue(r))
}

func ReportPanicIfNotNil(ctx context.Context, r any) bool {
	if r == nil {
		return false
	}
	v := redactPanicValue(r)
	metrics.FromCtx(ctx).Count("panics").Add(1)
	logger.FromCtx(ctx).
		WithField("error_event_exception_stack_trace", string(debug.Stack())).
		Errorf("got panic: %v", v)
	errmon.ObserveRecoverCtx(ctx, v)
	belt.Flush(ctx)
	return true
}
