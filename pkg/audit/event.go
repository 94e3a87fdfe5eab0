package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type EventType string

const (
	EventTypeUndefined      = EventType("")
	EventTypeSessionStart   = EventType("ephemeral_session_start")
	EventTypeSessionEnd     = EventType("ephemeral_session_end")
	EventTypeAbandonedPurge = EventType("ephemeral_abandoned_purge")
	EventTypeForcePurge     = EventType("ephemeral_force_purge")
)

func (t EventType) String() string {
	if t == EventTypeUndefined {
		return "<undefined>"
	}
	return string(t)
}

// Details keys. Values are ids, timestamps, counts or short reasons;
// never transcript content.
const (
	KeySessionID         = "session_id"
	KeyStartedAt         = "started_at"
	KeyEndedAt           = "ended_at"
	KeySegmentCount      = "segment_count"
	KeyReason            = "reason"
	KeyOriginalTimestamp = "original_timestamp"
	KeyRecoveryTimestamp = "recovery_timestamp"
)

type Details map[string]any

func (d Details) String() string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for idx, k := range keys {
		if idx > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%v", k, d[k])
	}
	return b.String()
}

type Event struct {
	Type      EventType
	Details   Details
	Timestamp time.Time
}

type Sink interface {
	LogEvent(ctx context.Context, eventType EventType, details Details)
}

type SinkFunc func(ctx context.Context, eventType EventType, details Details)

func (fn SinkFunc) LogEvent(ctx context.Context, eventType EventType, details Details) {
	fn(ctx, eventType, details)
}

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(context.Context, EventType, Details) {})
