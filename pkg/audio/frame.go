package audio

import (
	"time"
)

type SampleRate uint32

// SamplesIn returns how many samples of the given rate cover the duration.
func (r SampleRate) SamplesIn(d time.Duration) uint {
	return uint(uint64(r) * uint64(d) / uint64(time.Second))
}

func (r SampleRate) Duration(samples uint) time.Duration {
	if r == 0 {
		return 0
	}
	return time.Duration(uint64(samples) * uint64(time.Second) / uint64(r))
}

const (
	SampleRateModel = SampleRate(16000)

	MaxAmplitude = 32768
)

// Frame is a block of mono signed 16-bit samples; it must not be modified
// after it is emitted.
type Frame struct {
	Samples       []int16
	SampleRate    SampleRate
	Energy        float64
	IsVoiceActive bool
	Timestamp     time.Time
}

func (f Frame) Duration() time.Duration {
	return f.SampleRate.Duration(uint(len(f.Samples)))
}

func ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for idx, s := range samples {
		result[idx] = float32(s) / MaxAmplitude
	}
	return result
}
