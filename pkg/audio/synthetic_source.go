package audio

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/xsync"
)

type SyntheticSegment struct {
	Duration    time.Duration
	Amplitude   float64
	FrequencyHz float64
}

func Silence(d time.Duration) SyntheticSegment {
	return SyntheticSegment{Duration: d}
}

func Tone(d time.Duration, amplitude, frequencyHz float64) SyntheticSegment {
	return SyntheticSegment{Duration: d, Amplitude: amplitude, FrequencyHz: frequencyHz}
}

// SyntheticSource generates scripted silence/tone segments and returns io.EOF
// once all of them are consumed.
type SyntheticSource struct {
	Segments []SyntheticSegment
	Paced    bool
	Clock    clock.Clock

	OpenError error

	// ReadError is returned once after ReadErrorAfterFrames frames.
	ReadError            error
	ReadErrorAfterFrames int

	locker       xsync.Mutex
	isOpen       bool
	sampleRate   SampleRate
	frameSamples uint
	segmentIdx   int
	segmentPos   uint
	framesRead   int
	opens        int
}

var _ Source = (*SyntheticSource)(nil)

func NewSyntheticSource(segments ...SyntheticSegment) *SyntheticSource {
	return &SyntheticSource{
		Segments: segments,
	}
}

func (s *SyntheticSource) Open(
	ctx context.Context,
	sampleRate SampleRate,
	frameSamples uint,
) error {
	return xsync.DoR1(ctx, &s.locker, func() error {
		if s.OpenError != nil {
			return s.OpenError
		}
		if sampleRate == 0 || frameSamples == 0 {
			return fmt.Errorf("invalid sample rate %d or frame size %d", sampleRate, frameSamples)
		}
		s.isOpen = true
		s.sampleRate = sampleRate
		s.frameSamples = frameSamples
		s.opens++
		return nil
	})
}

func (s *SyntheticSource) Opens(ctx context.Context) int {
	return xsync.DoR1(ctx, &s.locker, func() int {
		return s.opens
	})
}

func (s *SyntheticSource) ReadFrame(ctx context.Context) ([]int16, error) {
	samples, pace, err := xsync.DoR3(ctx, &s.locker, func() ([]int16, time.Duration, error) {
		return s.readFrameLocked()
	})
	if err != nil {
		return nil, err
	}
	if s.Paced && pace > 0 {
		t := clock.OrDefault(s.Clock).Timer(pace)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return samples, nil
}

func (s *SyntheticSource) readFrameLocked() ([]int16, time.Duration, error) {
	if !s.isOpen {
		return nil, 0, fmt.Errorf("the source is not open")
	}
	if s.ReadError != nil && s.framesRead >= s.ReadErrorAfterFrames {
		err := s.ReadError
		s.ReadError = nil
		return nil, 0, err
	}
	if s.segmentIdx >= len(s.Segments) {
		return nil, 0, io.EOF
	}

	samples := make([]int16, 0, s.frameSamples)
	for uint(len(samples)) < s.frameSamples && s.segmentIdx < len(s.Segments) {
		seg := s.Segments[s.segmentIdx]
		segSamples := s.sampleRate.SamplesIn(seg.Duration)
		for s.segmentPos < segSamples && uint(len(samples)) < s.frameSamples {
			samples = append(samples, seg.sampleAt(s.segmentPos, s.sampleRate))
			s.segmentPos++
		}
		if s.segmentPos >= segSamples {
			s.segmentIdx++
			s.segmentPos = 0
		}
	}
	s.framesRead++
	return samples, s.sampleRate.Duration(uint(len(samples))), nil
}

func (seg SyntheticSegment) sampleAt(pos uint, sampleRate SampleRate) int16 {
	if seg.Amplitude == 0 {
		return 0
	}
	freq := seg.FrequencyHz
	if freq == 0 {
		freq = 220
	}
	v := seg.Amplitude * math.Sin(2*math.Pi*freq*float64(pos)/float64(sampleRate))
	return int16(v * (MaxAmplitude - 1))
}

func (s *SyntheticSource) Close() error {
	s.locker.Do(context.Background(), func() {
		s.isOpen = false
	})
	return nil
}
