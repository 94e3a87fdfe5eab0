package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/ambientscribe/pkg/asrerror"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
)

func collect(t *testing.T, flow <-chan audio.Frame) []audio.Frame {
	var frames []audio.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-flow:
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatal("timed out waiting for the audio flow to end")
		}
	}
}

func TestCaptureLifecycle(t *testing.T) {
	ctx := context.Background()
	src := audio.NewSyntheticSource(
		audio.Silence(time.Second),
		audio.Tone(time.Second, 0.5, 300),
	)
	c := New(src, Options{})

	require.ErrorIs(t, c.StartRecording(ctx), ErrNotInitialized)
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.StartRecording(ctx))
	require.ErrorIs(t, c.StartRecording(ctx), ErrAlreadyRecording)

	flow, err := c.AudioFlow(ctx)
	require.NoError(t, err)
	_, err = c.AudioFlow(ctx)
	require.ErrorIs(t, err, ErrFlowTaken)

	frames := collect(t, flow)
	require.Len(t, frames, 20)
	require.NoError(t, c.FlowError(ctx))
	for idx, frame := range frames {
		require.Equal(t, idx >= 10, frame.IsVoiceActive, "frame %d", idx)
		if idx > 0 {
			require.Equal(t, 100*time.Millisecond, frame.Timestamp.Sub(frames[idx-1].Timestamp))
		}
	}
	require.Equal(t, 2*time.Second, c.BufferedDuration(ctx))

	require.NoError(t, c.StopRecording(ctx))
	require.ErrorIs(t, c.StopRecording(ctx), ErrNotRecording)
	require.NoError(t, c.Close())
}

func TestCaptureDeleteLast30Seconds(t *testing.T) {
	ctx := context.Background()
	src := audio.NewSyntheticSource(audio.Tone(45*time.Second, 0.3, 200))
	c := New(src, Options{})
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.StartRecording(ctx))
	flow, err := c.AudioFlow(ctx)
	require.NoError(t, err)
	collect(t, flow)

	// only the trailing 30 seconds are kept, and all of them get deleted
	require.Equal(t, DeleteWindow, c.BufferedDuration(ctx))
	c.DeleteLast30Seconds(ctx)
	require.Zero(t, c.BufferedDuration(ctx))
	require.True(t, c.VerifyBufferEmpty(ctx))
	require.NoError(t, c.Close())
}

func TestCaptureDeleteThenVerifyIsEmpty(t *testing.T) {
	ctx := context.Background()
	src := audio.NewSyntheticSource(audio.Tone(10*time.Second, 0.3, 200))
	c := New(src, Options{})
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.StartRecording(ctx))
	flow, err := c.AudioFlow(ctx)
	require.NoError(t, err)
	collect(t, flow)

	c.DeleteLast30Seconds(ctx)
	require.True(t, c.VerifyBufferEmpty(ctx))
	require.NoError(t, c.Close())
}

func TestCaptureClearRingBuffer(t *testing.T) {
	ctx := context.Background()
	c := New(audio.NewSyntheticSource(audio.Silence(time.Second)), Options{})
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.StartRecording(ctx))
	flow, err := c.AudioFlow(ctx)
	require.NoError(t, err)
	collect(t, flow)
	require.False(t, c.VerifyBufferEmpty(ctx))
	c.ClearRingBuffer(ctx)
	require.True(t, c.VerifyBufferEmpty(ctx))
}

func TestCapturePermissionDenied(t *testing.T) {
	ctx := context.Background()
	src := audio.NewSyntheticSource()
	src.OpenError = audio.ErrPermissionDenied
	c := New(src, Options{})

	err := c.Initialize(ctx)
	require.Error(t, err)
	var asrErr *asrerror.Error
	require.True(t, errors.As(err, &asrErr))
	require.Equal(t, asrerror.KindPermission, asrErr.Kind)
	require.False(t, asrErr.Recoverable())
}

func TestCaptureReadError(t *testing.T) {
	ctx := context.Background()
	src := audio.NewSyntheticSource(audio.Silence(time.Second))
	src.ReadError = errors.New("device unplugged")
	src.ReadErrorAfterFrames = 3
	c := New(src, Options{})
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.StartRecording(ctx))
	flow, err := c.AudioFlow(ctx)
	require.NoError(t, err)
	require.Len(t, collect(t, flow), 3)

	require.ErrorIs(t, c.FlowError(ctx), asrerror.ErrAudioInput)

	require.NoError(t, c.StopRecording(ctx))
	require.NoError(t, c.StartRecording(ctx))
	flow, err = c.AudioFlow(ctx)
	require.NoError(t, err)
	require.Len(t, collect(t, flow), 7)
	require.NoError(t, c.FlowError(ctx))
	require.NoError(t, c.Close())
}

func TestCapturePermissionRevokedWhileReading(t *testing.T) {
	ctx := context.Background()
	for _, readErr := range []error{
		fmt.Errorf("read: %w", audio.ErrPermissionDenied),
		errors.New("RECORD_AUDIO permission denied"),
	} {
		src := audio.NewSyntheticSource(audio.Silence(time.Second))
		src.ReadError = readErr
		src.ReadErrorAfterFrames = 2
		c := New(src, Options{})
		require.NoError(t, c.Initialize(ctx))
		require.NoError(t, c.StartRecording(ctx))
		flow, err := c.AudioFlow(ctx)
		require.NoError(t, err)
		require.Len(t, collect(t, flow), 2)

		flowErr := c.FlowError(ctx)
		require.ErrorIs(t, flowErr, asrerror.ErrPermission, readErr.Error())
		require.NotErrorIs(t, flowErr, asrerror.ErrAudioInput)
		require.False(t, asrerror.Classify(flowErr).Recoverable())
		require.NoError(t, c.Close())
	}
}
