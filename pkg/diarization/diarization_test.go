package diarization

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
)

type script struct {
	d   *Diarizer
	now time.Time
}

func newScript() *script {
	clk := clock.NewMock()
	return &script{
		d:   New(DefaultConfig(), clk),
		now: clk.Now(),
	}
}

// feed pushes one activity per 100ms for the duration.
func (s *script) feed(ctx context.Context, voiced bool, d time.Duration) []Result {
	var results []Result
	for elapsed := time.Duration(0); elapsed < d; elapsed += 100 * time.Millisecond {
		results = append(results, s.d.ProcessActivity(ctx, Activity{
			Timestamp:     s.now,
			IsVoiceActive: voiced,
		}))
		s.now = s.now.Add(100 * time.Millisecond)
	}
	return results
}

func TestDiarizerTurnTaking(t *testing.T) {
	ctx := context.Background()
	s := newScript()

	results := s.feed(ctx, false, time.Second)
	for _, r := range results {
		require.Equal(t, SpeakerUnknown, r.SpeakerID)
		require.False(t, r.IsVoiceActive)
	}

	results = s.feed(ctx, true, 2*time.Second)
	require.Equal(t, SpeakerDoctor, results[0].SpeakerID)
	require.True(t, results[0].IsVoiceActive)
	require.Greater(t, results[len(results)-1].Confidence, results[0].Confidence)

	// a short pause keeps the speaker
	s.feed(ctx, false, 500*time.Millisecond)
	results = s.feed(ctx, true, time.Second)
	require.Equal(t, SpeakerDoctor, results[0].SpeakerID)

	// a long pause is a turn boundary
	results = s.feed(ctx, false, 2*time.Second)
	require.Equal(t, SpeakerDoctor, results[0].SpeakerID)
	results = s.feed(ctx, true, time.Second)
	require.Equal(t, SpeakerPatient, results[0].SpeakerID)
	require.Equal(t, "Patient", results[0].SpeakerLabel)
	require.InDelta(t, MinConfidence, results[0].Confidence, 1e-9)

	for _, r := range results {
		require.False(t, r.IsManuallyAssigned)
		require.GreaterOrEqual(t, r.Confidence, MinConfidence)
		require.LessOrEqual(t, r.Confidence, MaxConfidence)
	}
}

func TestDiarizerSwapSuppressesAutomaticFlipUntilTurnBoundary(t *testing.T) {
	ctx := context.Background()
	s := newScript()
	s.feed(ctx, true, time.Second)
	require.Equal(t, SpeakerDoctor, s.d.CurrentSpeaker(ctx))

	r := s.d.SwapSpeakerRoles(ctx)
	require.Equal(t, SpeakerPatient, r.SpeakerID)
	require.True(t, r.IsManuallyAssigned)

	results := s.feed(ctx, true, time.Second)
	for _, r := range results {
		require.Equal(t, SpeakerPatient, r.SpeakerID)
		require.True(t, r.IsManuallyAssigned)
		require.Equal(t, 1.0, r.Confidence)
	}

	// silence does not reset the manual flag
	results = s.feed(ctx, false, 2*time.Second)
	require.True(t, results[len(results)-1].IsManuallyAssigned)

	// the next turn boundary resets the flag without flipping the speaker
	results = s.feed(ctx, true, time.Second)
	require.Equal(t, SpeakerPatient, results[0].SpeakerID)
	require.False(t, results[0].IsManuallyAssigned)

	// and automatic turn taking resumes afterwards
	s.feed(ctx, false, 2*time.Second)
	results = s.feed(ctx, true, time.Second)
	require.Equal(t, SpeakerDoctor, results[0].SpeakerID)
	require.False(t, results[0].IsManuallyAssigned)
}

func TestDiarizerSwapTwiceRestores(t *testing.T) {
	ctx := context.Background()
	s := newScript()
	s.feed(ctx, true, time.Second)

	s.d.SwapSpeakerRoles(ctx)
	r := s.d.SwapSpeakerRoles(ctx)
	require.Equal(t, SpeakerDoctor, r.SpeakerID)
	require.True(t, r.IsManuallyAssigned)
}

func TestDiarizerSwapBeforeSpeech(t *testing.T) {
	ctx := context.Background()
	s := newScript()
	r := s.d.SwapSpeakerRoles(ctx)
	require.Equal(t, SpeakerPatient, r.SpeakerID)

	results := s.feed(ctx, true, 500*time.Millisecond)
	require.Equal(t, SpeakerPatient, results[0].SpeakerID)
	require.True(t, results[0].IsManuallyAssigned)
}

func TestDiarizerReset(t *testing.T) {
	ctx := context.Background()
	s := newScript()
	s.feed(ctx, true, time.Second)
	s.d.SwapSpeakerRoles(ctx)
	s.d.Reset(ctx)
	require.Equal(t, SpeakerUnknown, s.d.CurrentSpeaker(ctx))
	require.False(t, s.d.Last(ctx).IsManuallyAssigned)
}
