package ephemeral

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/ambientscribe/pkg/audit"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/ambientscribe/pkg/kvstore"
)

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	rec := audit.NewRecorder()
	clk := clock.NewMock()

	m, err := New(ctx, store, rec, Options{Clock: clk})
	require.NoError(t, err)
	require.False(t, m.IsActive(ctx))
	require.Nil(t, m.RecoveredMarker())

	m.AddTranscriptSegment(ctx, "dropped", "Doctor", clk.Now())
	require.Equal(t, 0, m.SegmentCount(ctx))

	sessionID, err := m.StartEphemeralSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	require.True(t, m.IsActive(ctx))

	marker, err := readPurgeMarker(ctx, store, DefaultPurgeMarkerKey)
	require.NoError(t, err)
	require.NotNil(t, marker)
	require.Equal(t, sessionID, marker.SessionID)
	require.True(t, clk.Now().Equal(marker.StartTimestamp))

	m.AddTranscriptSegment(ctx, "the patient reports a headache", "Patient", clk.Now())
	m.AddTranscriptSegment(ctx, "since when", "Doctor", clk.Now().Add(time.Second))
	require.Equal(t, 2, m.SegmentCount(ctx))
	require.Equal(t, []string{"the patient reports a headache", "since when"}, m.SensitiveTexts())
	require.Equal(t, "Patient", m.Segments(ctx)[0].SpeakerID)

	for _, v := range store.Snapshot(ctx) {
		require.NotContains(t, fmt.Sprint(v), "headache")
	}

	require.NoError(t, m.EndEphemeralSession(ctx))
	require.False(t, m.IsActive(ctx))
	require.True(t, m.VerifyBufferEmpty(ctx))
	require.Empty(t, m.SensitiveTexts())
	require.Empty(t, store.Snapshot(ctx))

	events := rec.Events(ctx)
	require.Len(t, events, 2)
	require.Equal(t, audit.EventTypeSessionStart, events[0].Type)
	require.Equal(t, audit.EventTypeSessionEnd, events[1].Type)
	require.Equal(t, sessionID, events[1].Details[audit.KeySessionID])
	require.Equal(t, 2, events[1].Details[audit.KeySegmentCount])

	// ending twice is harmless
	require.NoError(t, m.EndEphemeralSession(ctx))
	require.Len(t, rec.Events(ctx), 2)
}

func TestManagerStartWhileActive(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	rec := audit.NewRecorder()

	m, err := New(ctx, store, rec, Options{})
	require.NoError(t, err)

	first, err := m.StartEphemeralSession(ctx)
	require.NoError(t, err)
	m.AddTranscriptSegment(ctx, "hello", "Doctor", time.Now())

	second, err := m.StartEphemeralSession(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, 0, m.SegmentCount(ctx))

	ends := rec.EventsOfType(ctx, audit.EventTypeSessionEnd)
	require.Len(t, ends, 1)
	require.Equal(t, first, ends[0].Details[audit.KeySessionID])
	require.Equal(t, 1, ends[0].Details[audit.KeySegmentCount])
}

func TestManagerForcePurge(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	rec := audit.NewRecorder()

	m, err := New(ctx, store, rec, Options{})
	require.NoError(t, err)

	// from INACTIVE
	require.NoError(t, m.ForcePurge(ctx, "manual"))

	sessionID, err := m.StartEphemeralSession(ctx)
	require.NoError(t, err)
	m.AddTranscriptSegment(ctx, "some text", "Doctor", time.Now())
	require.NoError(t, m.ForcePurge(ctx, "emergency"))

	require.False(t, m.IsActive(ctx))
	require.True(t, m.VerifyBufferEmpty(ctx))
	require.Empty(t, store.Snapshot(ctx))

	purges := rec.EventsOfType(ctx, audit.EventTypeForcePurge)
	require.Len(t, purges, 2)
	require.Equal(t, "emergency", purges[1].Details[audit.KeyReason])
	require.Equal(t, sessionID, purges[1].Details[audit.KeySessionID])
	require.Equal(t, 1, purges[1].Details[audit.KeySegmentCount])
}

func TestManagerAbandonedSessionIsPurgedOnRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.yaml")
	clk := clock.NewMock()

	{
		rec := audit.NewRecorder()
		m, err := New(ctx, kvstore.NewFile(path), rec, Options{Clock: clk})
		require.NoError(t, err)
		_, err = m.StartEphemeralSession(ctx)
		require.NoError(t, err)
		m.AddTranscriptSegment(ctx, "patient says the pain started yesterday", "Patient", clk.Now())
		// crash: the manager is abandoned without EndEphemeralSession
	}
	startedAt := clk.Now()
	clk.Add(time.Hour)

	rec := audit.NewRecorder()
	m, err := New(ctx, kvstore.NewFile(path), rec, Options{Clock: clk})
	require.NoError(t, err)

	purges := rec.EventsOfType(ctx, audit.EventTypeAbandonedPurge)
	require.Len(t, purges, 1)
	require.NotEmpty(t, purges[0].Details[audit.KeySessionID])
	require.True(t, startedAt.Equal(purges[0].Details[audit.KeyOriginalTimestamp].(time.Time)))
	require.True(t, clk.Now().Equal(purges[0].Details[audit.KeyRecoveryTimestamp].(time.Time)))
	require.NotNil(t, m.RecoveredMarker())
	require.True(t, m.VerifyBufferEmpty(ctx))
	require.False(t, m.IsActive(ctx))

	// the marker is gone, so a further restart is clean
	rec2 := audit.NewRecorder()
	_, err = New(ctx, kvstore.NewFile(path), rec2, Options{Clock: clk})
	require.NoError(t, err)
	require.Empty(t, rec2.Events(ctx))
}

func TestSegmentStringOmitsText(t *testing.T) {
	s := Segment{Text: "secret words", SpeakerID: "Doctor"}
	require.NotContains(t, s.String(), "secret")
}
