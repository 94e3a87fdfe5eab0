package audio

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRMS(t *testing.T) {
	require.Zero(t, RMS(nil))
	require.Zero(t, RMS(make([]int16, 100)))
	require.InDelta(t, 0.5, RMS([]int16{16384, -16384, 16384, -16384}), 1e-9)
}

func TestVAD(t *testing.T) {
	vad := NewVAD(0)
	require.Equal(t, DefaultVADThreshold, vad.Threshold)

	silence := vad.NewFrame(make([]int16, 160), SampleRateModel, time.Now())
	require.False(t, silence.IsVoiceActive)
	require.Equal(t, 10*time.Millisecond, silence.Duration())

	loud := make([]int16, 160)
	for idx := range loud {
		loud[idx] = 8000
	}
	voiced := vad.NewFrame(loud, SampleRateModel, time.Now())
	require.True(t, voiced.IsVoiceActive)
}

func TestSyntheticSource(t *testing.T) {
	ctx := context.Background()
	src := NewSyntheticSource(
		Silence(100*time.Millisecond),
		Tone(100*time.Millisecond, 0.5, 440),
	)
	require.NoError(t, src.Open(ctx, SampleRateModel, 800))

	var frames [][]int16
	for {
		samples, err := src.ReadFrame(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames = append(frames, samples)
	}
	require.Len(t, frames, 4)
	require.Zero(t, RMS(frames[0]))
	require.Zero(t, RMS(frames[1]))
	require.Greater(t, RMS(frames[2]), DefaultVADThreshold)
	require.Greater(t, RMS(frames[3]), DefaultVADThreshold)
}

func TestToFloat32(t *testing.T) {
	require.Equal(t, []float32{0, 0.5, -1}, ToFloat32([]int16{0, 16384, -32768}))
}
