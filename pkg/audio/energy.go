package audio

import (
	"math"
	"time"
)

const (
	DefaultVADThreshold = 0.02
)

// RMS returns the root mean square of the samples normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / MaxAmplitude
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

type VAD struct {
	Threshold float64
}

func NewVAD(threshold float64) VAD {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	return VAD{Threshold: threshold}
}

func (vad VAD) IsVoiceActive(energy float64) bool {
	return energy >= vad.Threshold
}

func (vad VAD) NewFrame(
	samples []int16,
	sampleRate SampleRate,
	ts time.Time,
) Frame {
	energy := RMS(samples)
	return Frame{
		Samples:       samples,
		SampleRate:    sampleRate,
		Energy:        energy,
		IsVoiceActive: vad.IsVoiceActive(energy),
		Timestamp:     ts,
	}
}
