package audit

import (
	"context"
	"sort"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/eventbus"
	"github.com/xaionaro-go/xsync"
)

const topicAuditEvent = "audit_event"

// Bus delivers audit events to the subscribed sinks asynchronously, in
// publication order.
type Bus struct {
	EventBus eventbus.Bus
	Clock    clock.Clock

	locker     xsync.Mutex
	sinks      map[uint64]Sink
	nextSinkID uint64
	closers    []func()
}

var _ Sink = (*Bus)(nil)

func NewBus(clk clock.Clock) (*Bus, error) {
	b := &Bus{
		EventBus: eventbus.New(),
		Clock:    clock.OrDefault(clk),
		sinks:    map[uint64]Sink{},
	}
	if err := b.EventBus.SubscribeAsync(topicAuditEvent, b.dispatch, true); err != nil {
		return nil, err
	}
	return b, nil
}

// Subscribe adds a sink; the returned function removes it.
func (b *Bus) Subscribe(ctx context.Context, sink Sink) (unsubscribe func()) {
	sinkID := xsync.DoR1(ctx, &b.locker, func() uint64 {
		b.nextSinkID++
		b.sinks[b.nextSinkID] = sink
		return b.nextSinkID
	})
	logger.Debugf(ctx, "audit sink %d subscribed", sinkID)
	return func() {
		b.locker.Do(ctx, func() {
			delete(b.sinks, sinkID)
		})
		logger.Debugf(ctx, "audit sink %d unsubscribed", sinkID)
	}
}

func (b *Bus) LogEvent(ctx context.Context, eventType EventType, details Details) {
	ev := Event{
		Type:      eventType,
		Details:   copyDetails(details),
		Timestamp: b.Clock.Now(),
	}
	b.EventBus.Publish(topicAuditEvent, ctx, ev)
}

// Flush waits until every published event has been delivered.
func (b *Bus) Flush() {
	b.EventBus.WaitAsync()
}

// OnClose registers fn to be called by Close after the last event has been
// delivered; the functions are called in the reverse order.
func (b *Bus) OnClose(fn func()) {
	b.locker.Do(context.Background(), func() {
		b.closers = append(b.closers, fn)
	})
}

func (b *Bus) Close(ctx context.Context) error {
	b.EventBus.WaitAsync()
	err := b.EventBus.Unsubscribe(topicAuditEvent, b.dispatch)
	closers := xsync.DoR1(ctx, &b.locker, func() []func() {
		closers := b.closers
		b.closers = nil
		return closers
	})
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	return err
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	ctx = xsync.WithNoLogging(ctx, true)
	sinks := xsync.DoR1(ctx, &b.locker, func() []Sink {
		ids := make([]uint64, 0, len(b.sinks))
		for id := range b.sinks {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		result := make([]Sink, 0, len(ids))
		for _, id := range ids {
			result = append(result, b.sinks[id])
		}
		return result
	})
	for _, sink := range sinks {
		sink.LogEvent(ctx, ev.Type, copyDetails(ev.Details))
	}
}

func copyDetails(details Details) Details {
	result := make(Details, len(details))
	for k, v := range details {
		result[k] = v
	}
	return result
}
