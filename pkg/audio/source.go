package audio

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
)

// Source is a microphone-like producer of mono S16 samples.
type Source interface {
	Open(ctx context.Context, sampleRate SampleRate, frameSamples uint) error
	ReadFrame(ctx context.Context) ([]int16, error)
	Close() error
}
