package pulseaudio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
)

func TestWrapAccessError(t *testing.T) {
	err := wrapAccessError(fmt.Errorf("unable to open a client to Pulse: %w", errors.New("Access denied")))
	require.ErrorIs(t, err, audio.ErrPermissionDenied)

	err = wrapAccessError(errors.New("connection refused"))
	require.NotErrorIs(t, err, audio.ErrPermissionDenied)
}

func TestOnSamplesSplitsFrames(t *testing.T) {
	s := NewSource()
	s.frameSamples = 4
	s.framesChan = make(chan []int16, 2)

	n, err := s.onSamples([]int16{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, []int16{1, 2, 3, 4}, <-s.framesChan)
	require.Equal(t, []int16{5, 6}, s.pending)

	_, err = s.onSamples([]int16{7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18})
	require.NoError(t, err)
	require.Equal(t, []int16{5, 6, 7, 8}, <-s.framesChan)
	require.Equal(t, []int16{9, 10, 11, 12}, <-s.framesChan)
	require.Equal(t, uint64(1), s.Overflows())
}
