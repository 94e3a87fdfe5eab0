package asr

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xsync"
)

const (
	StubText = "This is a stub transcription result."
)

var (
	stubLogProbs   = []float32{-0.1, -0.2, -0.15, -0.3, -0.1}
	stubAlignments = []WordAlignment{
		{Word: "This", Start: 0, End: 500 * time.Millisecond, Confidence: 0.9},
		{Word: "is", Start: 500 * time.Millisecond, End: 700 * time.Millisecond, Confidence: 0.8},
		{Word: "a", Start: 700 * time.Millisecond, End: 800 * time.Millisecond, Confidence: 0.7},
		{Word: "stub", Start: 800 * time.Millisecond, End: 1200 * time.Millisecond, Confidence: 0.9},
	}
)

type InferCall struct {
	Handle      Handle
	Samples     int
	ThreadCount int
	ContextSize int
}

// StubEngine is a NativeEngine that answers every window with a fixed
// transcription. It is used when no native model is compiled in, and in
// tests.
type StubEngine struct {
	locker xsync.Mutex

	// SilenceThreshold (if positive) makes windows with a lower RMS produce
	// an empty transcription.
	SilenceThreshold float64
	InferDelay       time.Duration
	InitError        error

	nextHandle Handle
	handles    map[Handle]struct{}
	failures   []error
	calls      []InferCall
	releases   int
}

var _ NativeEngine = (*StubEngine)(nil)

func NewStubEngine() *StubEngine {
	return &StubEngine{
		handles: map[Handle]struct{}{},
	}
}

// FailNextInfer makes the next Infer calls fail with the given errors, in
// order.
func (e *StubEngine) FailNextInfer(errs ...error) {
	e.locker.Do(context.Background(), func() {
		e.failures = append(e.failures, errs...)
	})
}

func (e *StubEngine) Calls() []InferCall {
	return xsync.DoR1(context.Background(), &e.locker, func() []InferCall {
		return append([]InferCall(nil), e.calls...)
	})
}

func (e *StubEngine) Releases() int {
	return xsync.DoR1(context.Background(), &e.locker, func() int {
		return e.releases
	})
}

func (e *StubEngine) OpenHandles() int {
	return xsync.DoR1(context.Background(), &e.locker, func() int {
		return len(e.handles)
	})
}

func (e *StubEngine) Initialize(
	ctx context.Context,
	modelPath string,
	threadCount, contextSize int,
) (Handle, error) {
	logger.Debugf(ctx, "stub: initializing model '%s' with %d threads, context size %d", modelPath, threadCount, contextSize)
	return xsync.DoR2(ctx, &e.locker, func() (Handle, error) {
		if e.InitError != nil {
			return 0, e.InitError
		}
		e.nextHandle++
		e.handles[e.nextHandle] = struct{}{}
		return e.nextHandle, nil
	})
}

func (e *StubEngine) Infer(
	ctx context.Context,
	handle Handle,
	samples []float32,
	threadCount, contextSize int,
) (*NativeResult, error) {
	err := xsync.DoR1(ctx, &e.locker, func() error {
		e.calls = append(e.calls, InferCall{
			Handle:      handle,
			Samples:     len(samples),
			ThreadCount: threadCount,
			ContextSize: contextSize,
		})
		if _, ok := e.handles[handle]; !ok {
			return fmt.Errorf("inference failed: invalid model handle %d", handle)
		}
		if len(e.failures) > 0 {
			err := e.failures[0]
			e.failures = e.failures[1:]
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.InferDelay > 0 {
		t := time.NewTimer(e.InferDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if e.SilenceThreshold > 0 && rmsFloat32(samples) < e.SilenceThreshold {
		return &NativeResult{}, nil
	}

	return &NativeResult{
		Text:       StubText,
		LogProbs:   append([]float32(nil), stubLogProbs...),
		Alignments: append([]WordAlignment(nil), stubAlignments...),
	}, nil
}

func rmsFloat32(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func (e *StubEngine) Release(ctx context.Context, handle Handle) error {
	logger.Debugf(ctx, "stub: releasing handle %d", handle)
	return xsync.DoR1(ctx, &e.locker, func() error {
		if _, ok := e.handles[handle]; !ok {
			return fmt.Errorf("invalid model handle %d", handle)
		}
		delete(e.handles, handle)
		e.releases++
		return nil
	})
}
