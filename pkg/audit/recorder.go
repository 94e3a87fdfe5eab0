package audit

import (
	"context"

	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/xsync"
)

// Recorder keeps every received event in memory.
type Recorder struct {
	Clock clock.Clock

	locker xsync.Mutex
	events []Event
}

var _ Sink = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) LogEvent(ctx context.Context, eventType EventType, details Details) {
	r.locker.Do(xsync.WithNoLogging(ctx, true), func() {
		r.events = append(r.events, Event{
			Type:      eventType,
			Details:   copyDetails(details),
			Timestamp: clock.OrDefault(r.Clock).Now(),
		})
	})
}

func (r *Recorder) Events(ctx context.Context) []Event {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &r.locker, func() []Event {
		result := make([]Event, len(r.events))
		copy(result, r.events)
		return result
	})
}

func (r *Recorder) EventsOfType(ctx context.Context, eventType EventType) []Event {
	var result []Event
	for _, ev := range r.Events(ctx) {
		if ev.Type == eventType {
			result = append(result, ev)
		}
	}
	return result
}

func (r *Recorder) Reset(ctx context.Context) {
	r.locker.Do(xsync.WithNoLogging(ctx, true), func() {
		r.events = nil
	})
}
