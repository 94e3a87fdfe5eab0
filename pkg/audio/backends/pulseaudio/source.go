package pulseaudio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/jfreymuth/pulse"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
	"github.com/xaionaro-go/xsync"
)

const (
	framesQueueSize = 64
)

// Source captures mono S16 samples from the default PulseAudio source.
type Source struct {
	locker       xsync.Mutex
	client       *pulse.Client
	stream       *pulse.RecordStream
	frameSamples uint
	pending      []int16
	framesChan   chan []int16
	closeCount   atomic.Uint64
	overflows    atomic.Uint64
}

var _ audio.Source = (*Source)(nil)

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Open(
	ctx context.Context,
	sampleRate audio.SampleRate,
	frameSamples uint,
) error {
	return xsync.DoA3R1(ctx, &s.locker, s.openLocked, ctx, sampleRate, frameSamples)
}

func (s *Source) openLocked(
	ctx context.Context,
	sampleRate audio.SampleRate,
	frameSamples uint,
) (_err error) {
	logger.Tracef(ctx, "openLocked(ctx, %d, %d)", sampleRate, frameSamples)
	defer func() { logger.Tracef(ctx, "/openLocked(ctx, %d, %d): %v", sampleRate, frameSamples, _err) }()

	if s.client != nil {
		return fmt.Errorf("the source is already open")
	}

	c, err := pulse.NewClient(pulse.ClientApplicationName("ambientscribe"))
	if err != nil {
		return wrapAccessError(fmt.Errorf("unable to open a client to Pulse: %w", err))
	}

	s.frameSamples = frameSamples
	s.pending = make([]int16, 0, frameSamples*2)
	s.framesChan = make(chan []int16, framesQueueSize)
	s.closeCount.Store(0)
	stream, err := c.NewRecord(
		pulse.Int16Writer(s.onSamples),
		pulse.RecordMono,
		pulse.RecordSampleRate(int(sampleRate)),
	)
	if err != nil {
		c.Close()
		return wrapAccessError(fmt.Errorf("unable to initialize a recording stream: %w", err))
	}

	s.client = c
	s.stream = stream
	stream.Start()
	return nil
}

func wrapAccessError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return err
}

// onSamples is called from the Pulse client goroutine.
func (s *Source) onSamples(p []int16) (int, error) {
	s.pending = append(s.pending, p...)
	for uint(len(s.pending)) >= s.frameSamples {
		frame := make([]int16, s.frameSamples)
		copy(frame, s.pending)
		s.pending = s.pending[:copy(s.pending, s.pending[s.frameSamples:])]
		select {
		case s.framesChan <- frame:
		default:
			s.overflows.Add(1)
		}
	}
	return len(p), nil
}

func (s *Source) Overflows() uint64 {
	return s.overflows.Load()
}

func (s *Source) ReadFrame(ctx context.Context) ([]int16, error) {
	framesChan := xsync.DoR1(ctx, &s.locker, func() chan []int16 {
		return s.framesChan
	})
	if framesChan == nil {
		return nil, fmt.Errorf("the source is not open")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-framesChan:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

func (s *Source) Close() error {
	ctx := context.TODO()
	return xsync.DoA1R1(ctx, &s.locker, s.closeLocked, ctx)
}

func (s *Source) closeLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "closeLocked")
	defer func() { logger.Tracef(ctx, "/closeLocked: %v", _err) }()
	if s.client == nil {
		return nil
	}
	defer func() {
		r := recover()
		if r != nil {
			_err = multierror.Append(_err, fmt.Errorf("got a panic: %v", r)).ErrorOrNil()
		}
	}()

	var mErr *multierror.Error
	s.stream.Stop()
	if err := s.stream.Error(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("an error occurred during recording: %w", err))
	}
	s.stream.Close()
	s.client.Close()
	s.stream, s.client = nil, nil
	if s.closeCount.Add(1) == 1 {
		close(s.framesChan)
	}
	return mErr.ErrorOrNil()
}
