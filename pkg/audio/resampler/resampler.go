package resampler

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
)

const (
	DriftTolerance = 0.01
)

type Stats struct {
	InputSamples  uint64
	OutputSamples uint64
	Drifting      bool
	Warnings      uint64
}

// Resampler converts mono S16 samples between two rates using linear
// interpolation. Every call is independent; only the counters carry state.
type Resampler struct {
	inRate  audio.SampleRate
	outRate audio.SampleRate
	ratio   float64

	inputSamples  atomic.Uint64
	outputSamples atomic.Uint64
	drifting      atomic.Bool
	warnings      atomic.Uint64
}

func NewResampler(
	inRate audio.SampleRate,
	outRate audio.SampleRate,
) (*Resampler, error) {
	if inRate == 0 || outRate == 0 {
		return nil, fmt.Errorf("unable to initialize a resampler from %d Hz to %d Hz: sample rates must be positive", inRate, outRate)
	}
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		ratio:   float64(outRate) / float64(inRate),
	}, nil
}

func (r *Resampler) InputRate() audio.SampleRate {
	return r.inRate
}

func (r *Resampler) OutputRate() audio.SampleRate {
	return r.outRate
}

func (r *Resampler) Ratio() float64 {
	return r.ratio
}

func (r *Resampler) Resample(
	ctx context.Context,
	in []int16,
) []int16 {
	out := Resample(in, r.ratio)
	r.account(ctx, uint64(len(in)), uint64(len(out)))
	return out
}

// Resample is the stateless conversion: the output has round(len(in)*ratio)
// samples; ratio 1 is a plain copy.
func Resample(in []int16, ratio float64) []int16 {
	if ratio == 1 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	n := len(in)
	outLen := int(math.Round(float64(n) * ratio))
	out := make([]int16, outLen)
	if n == 0 {
		return out
	}
	last := n - 1
	for i := range out {
		srcPos := float64(i) / ratio
		idx := int(srcPos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := srcPos - float64(idx)
		v := float64(in[idx])*(1-frac) + float64(in[idx+1])*frac
		out[i] = int16(math.Round(v))
	}
	return out
}

func (r *Resampler) account(
	ctx context.Context,
	inCount, outCount uint64,
) {
	totalIn := r.inputSamples.Add(inCount)
	totalOut := r.outputSamples.Add(outCount)
	if totalIn < uint64(r.inRate) {
		return
	}

	actual := float64(totalOut) / float64(totalIn)
	deviation := math.Abs(actual-r.ratio) / r.ratio
	isDrifting := deviation > DriftTolerance
	if r.drifting.Swap(isDrifting) == isDrifting || !isDrifting {
		return
	}
	r.warnings.Add(1)
	metrics.FromCtx(ctx).Count("resampler_drift_warnings").Add(1)
	logger.Warnf(ctx, "resampler %d->%d Hz drifts: in=%d out=%d actual_ratio=%f expected_ratio=%f", r.inRate, r.outRate, totalIn, totalOut, actual, r.ratio)
}

func (r *Resampler) Stats() Stats {
	return Stats{
		InputSamples:  r.inputSamples.Load(),
		OutputSamples: r.outputSamples.Load(),
		Drifting:      r.drifting.Load(),
		Warnings:      r.warnings.Load(),
	}
}
