package audit

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ambientscribe/pkg/phi"
)

var DefaultAllowedKeys = []string{
	KeySessionID,
	KeyStartedAt,
	KeyEndedAt,
	KeySegmentCount,
	KeyReason,
	KeyOriginalTimestamp,
	KeyRecoveryTimestamp,
}

// Guard forwards events to Sink after dropping the detail keys which are
// not allowed and redacting string values that look like PHI.
type Guard struct {
	Sink        Sink
	AllowedKeys map[string]struct{}
}

var _ Sink = (*Guard)(nil)

func NewGuard(sink Sink, allowedKeys ...string) *Guard {
	if len(allowedKeys) == 0 {
		allowedKeys = DefaultAllowedKeys
	}
	g := &Guard{
		Sink:        sink,
		AllowedKeys: make(map[string]struct{}, len(allowedKeys)),
	}
	for _, k := range allowedKeys {
		g.AllowedKeys[k] = struct{}{}
	}
	return g
}

func (g *Guard) LogEvent(ctx context.Context, eventType EventType, details Details) {
	sanitized := make(Details, len(details))
	for k, v := range details {
		if _, ok := g.AllowedKeys[k]; !ok {
			logger.Warnf(ctx, "audit event %s: dropping a non-allowed key '%s'", eventType, k)
			metrics.FromCtx(ctx).Count("audit_rejected_keys").Add(1)
			continue
		}
		if s, ok := stringValue(v); ok && phi.Contains(s) {
			logger.Warnf(ctx, "audit event %s: value of key '%s' looks like PHI, redacting", eventType, k)
			metrics.FromCtx(ctx).Count("audit_redacted_values").Add(1)
			v = phi.Placeholder
		}
		sanitized[k] = v
	}
	g.Sink.LogEvent(ctx, eventType, sanitized)
}

func stringValue(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}
