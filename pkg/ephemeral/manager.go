package ephemeral

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/go-ng/xatomic"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/ambientscribe/pkg/audit"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/ambientscribe/pkg/kvstore"
	"github.com/xaionaro-go/xsync"
)

type State uint

const (
	StateInactive = State(iota)
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateActive:
		return "ACTIVE"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(s))
	}
}

type Segment struct {
	Text      string
	SpeakerID string
	Timestamp time.Time
}

// String intentionally omits the text.
func (s Segment) String() string {
	return fmt.Sprintf("Segment{Speaker: %s, Timestamp: %s, Length: %d}", s.SpeakerID, s.Timestamp.Format(time.RFC3339Nano), len(s.Text))
}

type Options struct {
	PurgeMarkerKey string
	Clock          clock.Clock
	NewSessionID   func() string
}

func (opts Options) withDefaults() Options {
	if opts.PurgeMarkerKey == "" {
		opts.PurgeMarkerKey = DefaultPurgeMarkerKey
	}
	opts.Clock = clock.OrDefault(opts.Clock)
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	return opts
}

// Manager keeps the transcript of the current session in RAM only. The
// durable store receives nothing but the PurgeMarker.
type Manager struct {
	Options
	Store kvstore.Store
	Sink  audit.Sink

	locker    xsync.Mutex
	state     State
	sessionID string
	startedAt time.Time
	segments  []Segment
	recovered *PurgeMarker

	// read by log hooks, so it is published without taking the locker
	sensitiveTexts *[]string
}

// New creates a Manager and purges a session abandoned by a previous
// process, if there is one.
func New(
	ctx context.Context,
	store kvstore.Store,
	sink audit.Sink,
	opts Options,
) (*Manager, error) {
	if sink == nil {
		sink = audit.Discard
	}
	m := &Manager{
		Options:        opts.withDefaults(),
		Store:          store,
		Sink:           sink,
		sensitiveTexts: &[]string{},
	}
	if err := m.purgeAbandonedSession(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) purgeAbandonedSession(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "purgeAbandonedSession")
	defer func() { logger.Debugf(ctx, "/purgeAbandonedSession: %v", _err) }()

	marker, err := readPurgeMarker(ctx, m.Store, m.PurgeMarkerKey)
	if err != nil {
		return err
	}
	if marker == nil {
		return nil
	}

	recoveredAt := m.Clock.Now()
	logger.Warnf(ctx, "found a purge marker of an abandoned session %s, purging", marker)
	if err := clearPurgeMarker(ctx, m.Store, m.PurgeMarkerKey); err != nil {
		return err
	}
	m.recovered = marker
	metrics.FromCtx(ctx).Count("ephemeral_abandoned_purges").Add(1)
	m.Sink.LogEvent(ctx, audit.EventTypeAbandonedPurge, audit.Details{
		audit.KeySessionID:         marker.SessionID,
		audit.KeyOriginalTimestamp: marker.StartTimestamp,
		audit.KeyRecoveryTimestamp: recoveredAt,
	})
	return nil
}

// RecoveredMarker returns the marker purged by New, if any.
func (m *Manager) RecoveredMarker() *PurgeMarker {
	return m.recovered
}

func (m *Manager) StartEphemeralSession(ctx context.Context) (string, error) {
	return xsync.DoA1R2(ctx, &m.locker, m.startEphemeralSessionLocked, ctx)
}

func (m *Manager) startEphemeralSessionLocked(ctx context.Context) (_ret string, _err error) {
	logger.Debugf(ctx, "startEphemeralSessionLocked")
	defer func() { logger.Debugf(ctx, "/startEphemeralSessionLocked: %s %v", _ret, _err) }()

	if m.state == StateActive {
		logger.Warnf(ctx, "session '%s' is still active, ending it first", m.sessionID)
		if err := m.endEphemeralSessionLocked(ctx); err != nil {
			return "", fmt.Errorf("unable to end the previous session: %w", err)
		}
	}

	marker := PurgeMarker{
		SessionID:      m.NewSessionID(),
		StartTimestamp: m.Clock.Now(),
	}
	if err := writePurgeMarker(ctx, m.Store, m.PurgeMarkerKey, marker); err != nil {
		return "", err
	}

	m.state = StateActive
	m.sessionID = marker.SessionID
	m.startedAt = marker.StartTimestamp
	m.segments = nil
	m.Sink.LogEvent(ctx, audit.EventTypeSessionStart, audit.Details{
		audit.KeySessionID: marker.SessionID,
		audit.KeyStartedAt: marker.StartTimestamp,
	})
	return marker.SessionID, nil
}

// AddTranscriptSegment appends to the in-memory buffer; it is a no-op if
// no session is active.
func (m *Manager) AddTranscriptSegment(
	ctx context.Context,
	text string,
	speakerID string,
	ts time.Time,
) {
	m.locker.Do(xsync.WithNoLogging(ctx, true), func() {
		if m.state != StateActive {
			logger.Warnf(ctx, "no active ephemeral session, dropping a segment")
			return
		}
		m.segments = append(m.segments, Segment{
			Text:      text,
			SpeakerID: speakerID,
			Timestamp: ts,
		})
		texts := append(append([]string{}, *xatomic.LoadPointer(&m.sensitiveTexts)...), text)
		xatomic.StorePointer(&m.sensitiveTexts, &texts)
	})
}

func (m *Manager) EndEphemeralSession(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &m.locker, m.endEphemeralSessionLocked, ctx)
}

func (m *Manager) endEphemeralSessionLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "endEphemeralSessionLocked")
	defer func() { logger.Debugf(ctx, "/endEphemeralSessionLocked: %v", _err) }()

	if m.state != StateActive {
		logger.Warnf(ctx, "no active ephemeral session to end")
		return nil
	}

	sessionID := m.sessionID
	segmentCount := m.discardLocked()
	err := clearPurgeMarker(ctx, m.Store, m.PurgeMarkerKey)
	m.Sink.LogEvent(ctx, audit.EventTypeSessionEnd, audit.Details{
		audit.KeySessionID:    sessionID,
		audit.KeySegmentCount: segmentCount,
		audit.KeyEndedAt:      m.Clock.Now(),
	})
	return err
}

// ForcePurge discards everything regardless of the current state.
func (m *Manager) ForcePurge(ctx context.Context, reason string) error {
	return xsync.DoA2R1(ctx, &m.locker, m.forcePurgeLocked, ctx, reason)
}

func (m *Manager) forcePurgeLocked(ctx context.Context, reason string) (_err error) {
	logger.Debugf(ctx, "forcePurgeLocked: %s", reason)
	defer func() { logger.Debugf(ctx, "/forcePurgeLocked: %v", _err) }()

	sessionID := m.sessionID
	segmentCount := m.discardLocked()

	var mErr *multierror.Error
	if err := clearPurgeMarker(ctx, m.Store, m.PurgeMarkerKey); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	m.Sink.LogEvent(ctx, audit.EventTypeForcePurge, audit.Details{
		audit.KeySessionID:    sessionID,
		audit.KeySegmentCount: segmentCount,
		audit.KeyReason:       reason,
	})
	return mErr.ErrorOrNil()
}

// DeleteSegmentsSince drops the segments with a timestamp not before since
// and returns how many were dropped.
func (m *Manager) DeleteSegmentsSince(ctx context.Context, since time.Time) int {
	return xsync.DoR1(ctx, &m.locker, func() int {
		kept := m.segments[:0]
		texts := make([]string, 0, len(m.segments))
		for _, s := range m.segments {
			if !s.Timestamp.Before(since) {
				continue
			}
			kept = append(kept, s)
			texts = append(texts, s.Text)
		}
		deleted := len(m.segments) - len(kept)
		clear(m.segments[len(kept):])
		m.segments = kept
		xatomic.StorePointer(&m.sensitiveTexts, &texts)
		return deleted
	})
}

func (m *Manager) discardLocked() int {
	count := len(m.segments)
	clear(m.segments)
	m.segments = nil
	xatomic.StorePointer(&m.sensitiveTexts, &[]string{})
	m.state = StateInactive
	m.sessionID = ""
	m.startedAt = time.Time{}
	return count
}

func (m *Manager) IsActive(ctx context.Context) bool {
	return m.State(ctx) == StateActive
}

func (m *Manager) State(ctx context.Context) State {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &m.locker, func() State {
		return m.state
	})
}

func (m *Manager) SessionID(ctx context.Context) string {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &m.locker, func() string {
		return m.sessionID
	})
}

func (m *Manager) SegmentCount(ctx context.Context) int {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &m.locker, func() int {
		return len(m.segments)
	})
}

func (m *Manager) VerifyBufferEmpty(ctx context.Context) bool {
	return m.SegmentCount(ctx) == 0
}

// Segments returns a copy of the segments of the current session.
func (m *Manager) Segments(ctx context.Context) []Segment {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &m.locker, func() []Segment {
		result := make([]Segment, len(m.segments))
		copy(result, m.segments)
		return result
	})
}

// SensitiveTexts returns the texts which must never reach the logs.
func (m *Manager) SensitiveTexts() []string {
	return *xatomic.LoadPointer(&m.sensitiveTexts)
}
