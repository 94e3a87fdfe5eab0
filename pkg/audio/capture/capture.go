package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/ambientscribe/pkg/asrerror"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/ambientscribe/pkg/observability"
	"github.com/xaionaro-go/ambientscribe/pkg/ringbuffer"
	"github.com/xaionaro-go/xsync"
)

const (
	// DeleteWindow is both how much audio is kept and how much
	// DeleteLast30Seconds removes, so a delete always empties the buffer.
	DeleteWindow = 30 * time.Second

	framesQueueSize = 256
)

var (
	ErrNotInitialized   = errors.New("audio capture is not initialized")
	ErrAlreadyRecording = errors.New("audio capture is already recording")
	ErrNotRecording     = errors.New("audio capture is not recording")
	ErrFlowTaken        = errors.New("the audio flow of the current recording is already consumed")
)

type Options struct {
	SampleRate    audio.SampleRate
	FrameDuration time.Duration
	VAD           audio.VAD
	Clock         clock.Clock
}

func DefaultOptions() Options {
	return Options{
		SampleRate:    audio.SampleRateModel,
		FrameDuration: 100 * time.Millisecond,
		VAD:           audio.NewVAD(audio.DefaultVADThreshold),
	}
}

// Capture owns the microphone. It keeps a trailing window of the recorded
// samples so that recent history can be discarded on demand.
type Capture struct {
	locker xsync.Mutex

	source  audio.Source
	options Options
	clock   clock.Clock

	trailing *ringbuffer.RingBuffer[int16]

	isInitialized bool
	isRecording   bool
	flowTaken     bool
	framesChan    chan audio.Frame
	cancelFunc    context.CancelFunc
	wg            sync.WaitGroup
	flowErr       error
}

func New(
	source audio.Source,
	opts Options,
) *Capture {
	defaults := DefaultOptions()
	if opts.SampleRate == 0 {
		opts.SampleRate = defaults.SampleRate
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = defaults.FrameDuration
	}
	if opts.VAD.Threshold <= 0 {
		opts.VAD = defaults.VAD
	}
	return &Capture{
		source:   source,
		options:  opts,
		clock:    clock.OrDefault(opts.Clock),
		trailing: ringbuffer.New[int16](opts.SampleRate.SamplesIn(DeleteWindow)),
	}
}

func (c *Capture) SampleRate() audio.SampleRate {
	return c.options.SampleRate
}

func (c *Capture) frameSamples() uint {
	return c.options.SampleRate.SamplesIn(c.options.FrameDuration)
}

func (c *Capture) Initialize(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &c.locker, c.initializeLocked, ctx)
}

func (c *Capture) initializeLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "initializeLocked")
	defer func() { logger.Debugf(ctx, "/initializeLocked: %v", _err) }()

	if c.isInitialized {
		return nil
	}
	err := c.source.Open(ctx, c.options.SampleRate, c.frameSamples())
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return asrerror.Wrap(asrerror.KindPermission, err, "microphone access is not granted")
		}
		return asrerror.Wrap(asrerror.KindAudioInput, err, "unable to acquire the microphone")
	}
	c.isInitialized = true
	return nil
}

func (c *Capture) IsRecording(ctx context.Context) bool {
	return xsync.DoR1(ctx, &c.locker, func() bool {
		return c.isRecording
	})
}

func (c *Capture) StartRecording(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &c.locker, c.startRecordingLocked, ctx)
}

func (c *Capture) startRecordingLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "startRecordingLocked")
	defer func() { logger.Debugf(ctx, "/startRecordingLocked: %v", _err) }()

	if !c.isInitialized {
		return ErrNotInitialized
	}
	if c.isRecording {
		return ErrAlreadyRecording
	}

	ctx, cancelFn := context.WithCancel(ctx)
	c.cancelFunc = cancelFn
	c.framesChan = make(chan audio.Frame, framesQueueSize)
	c.flowTaken = false
	c.flowErr = nil
	c.isRecording = true

	framesChan := c.framesChan
	startedAt := c.clock.Now()
	c.wg.Add(1)
	observability.Go(ctx, func() {
		defer c.wg.Done()
		defer close(framesChan)
		err := c.readLoop(ctx, framesChan, startedAt)
		if err != nil {
			logger.Warnf(ctx, "the audio read loop ended with an error: %v", err)
		}
		c.locker.Do(ctx, func() {
			c.flowErr = err
		})
	})
	return nil
}

func (c *Capture) readLoop(
	ctx context.Context,
	framesChan chan<- audio.Frame,
	startedAt time.Time,
) (_err error) {
	logger.Debugf(ctx, "readLoop")
	defer func() { logger.Debugf(ctx, "/readLoop: %v", _err) }()

	var samplesSoFar uint
	for {
		samples, err := c.source.ReadFrame(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, audio.ErrPermissionDenied):
			return asrerror.Wrap(asrerror.KindPermission, err, "microphone access was revoked")
		default:
			if asrErr := asrerror.Classify(err); asrErr.Kind == asrerror.KindPermission {
				return asrErr
			}
			return asrerror.Wrap(asrerror.KindAudioInput, err, "unable to read from the microphone")
		}
		if len(samples) == 0 {
			continue
		}

		ts := startedAt.Add(c.options.SampleRate.Duration(samplesSoFar))
		samplesSoFar += uint(len(samples))
		c.trailing.Write(ctx, samples...)
		frame := c.options.VAD.NewFrame(samples, c.options.SampleRate, ts)

		select {
		case <-ctx.Done():
			return nil
		case framesChan <- frame:
		}
	}
}

// AudioFlow returns the frames of the current recording. The channel is
// closed when the recording stops; FlowError then tells why.
func (c *Capture) AudioFlow(ctx context.Context) (<-chan audio.Frame, error) {
	return xsync.DoR2(ctx, &c.locker, func() (<-chan audio.Frame, error) {
		if !c.isRecording {
			return nil, ErrNotRecording
		}
		if c.flowTaken {
			return nil, ErrFlowTaken
		}
		c.flowTaken = true
		return c.framesChan, nil
	})
}

func (c *Capture) FlowError(ctx context.Context) error {
	return xsync.DoR1(ctx, &c.locker, func() error {
		return c.flowErr
	})
}

func (c *Capture) StopRecording(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "StopRecording")
	defer func() { logger.Debugf(ctx, "/StopRecording: %v", _err) }()

	cancelFn := xsync.DoR1(ctx, &c.locker, func() context.CancelFunc {
		if !c.isRecording {
			return nil
		}
		c.isRecording = false
		cancelFn := c.cancelFunc
		c.cancelFunc = nil
		return cancelFn
	})
	if cancelFn == nil {
		return ErrNotRecording
	}
	cancelFn()
	c.wg.Wait()
	return nil
}

func (c *Capture) ClearRingBuffer(ctx context.Context) {
	logger.Debugf(ctx, "ClearRingBuffer")
	c.trailing.Clear(ctx)
}

func (c *Capture) DeleteLast30Seconds(ctx context.Context) {
	n := c.trailing.DeleteLast(ctx, c.options.SampleRate.SamplesIn(DeleteWindow))
	logger.Debugf(ctx, "DeleteLast30Seconds: deleted %d samples", n)
}

func (c *Capture) VerifyBufferEmpty(ctx context.Context) bool {
	return c.trailing.IsEmpty(ctx)
}

func (c *Capture) BufferedDuration(ctx context.Context) time.Duration {
	return c.options.SampleRate.Duration(c.trailing.Len(ctx))
}

func (c *Capture) Close() error {
	ctx := context.TODO()
	var mErr *multierror.Error
	if err := c.StopRecording(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to stop the recording: %w", err))
	}
	wasInitialized := xsync.DoR1(ctx, &c.locker, func() bool {
		wasInitialized := c.isInitialized
		c.isInitialized = false
		return wasInitialized
	})
	if wasInitialized {
		if err := c.source.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close the audio source: %w", err))
		}
	}
	c.trailing.Clear(ctx)
	return mErr.ErrorOrNil()
}
