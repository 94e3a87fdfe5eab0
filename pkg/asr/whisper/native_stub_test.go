//go:build !whispercpp

package whisper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNativeUnavailable(t *testing.T) {
	require.False(t, NativeAvailable())
	_, err := New()
	require.ErrorIs(t, err, ErrNativeEngineUnavailable)

	var e Engine
	_, err = e.Initialize(context.Background(), "model.bin", 4, 3000)
	require.ErrorIs(t, err, ErrNativeEngineUnavailable)
}
