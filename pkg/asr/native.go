package asr

import (
	"context"
	"time"
)

// Handle identifies a loaded native model; zero is never a valid handle.
type Handle uint64

type WordAlignment struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float32
}

type NativeResult struct {
	Text       string
	LogProbs   []float32
	Alignments []WordAlignment
}

// NativeEngine is the boundary to the speech recognition model; everything
// behind it is opaque.
type NativeEngine interface {
	Initialize(ctx context.Context, modelPath string, threadCount, contextSize int) (Handle, error)
	Infer(ctx context.Context, handle Handle, samples []float32, threadCount, contextSize int) (*NativeResult, error)
	Release(ctx context.Context, handle Handle) error
}
