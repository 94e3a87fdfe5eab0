package asr

import (
	"fmt"
	"math"
)

type ConfidenceLevel uint

const (
	ConfidenceLevelLow = ConfidenceLevel(iota)
	ConfidenceLevelMedium
	ConfidenceLevelHigh
)

const (
	ConfidenceThresholdHigh   = 0.8
	ConfidenceThresholdMedium = 0.6

	confidenceSteepness = 10
)

func (l ConfidenceLevel) String() string {
	switch l {
	case ConfidenceLevelLow:
		return "LOW"
	case ConfidenceLevelMedium:
		return "MEDIUM"
	case ConfidenceLevelHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(l))
	}
}

func LevelOf(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= ConfidenceThresholdHigh:
		return ConfidenceLevelHigh
	case confidence >= ConfidenceThresholdMedium:
		return ConfidenceLevelMedium
	default:
		return ConfidenceLevelLow
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-confidenceSteepness*(x-0.5)))
}

// ConfidenceFromLogProbs averages the token log-probabilities, turns the
// average back into a probability and squashes it through a sigmoid that is
// rescaled to map [0, 1] onto [0, 1].
func ConfidenceFromLogProbs(logProbs []float32) float64 {
	var (
		sum   float64
		count int
	)
	for _, lp := range logProbs {
		v := float64(lp)
		if math.IsNaN(v) {
			continue
		}
		sum += math.Min(v, 0)
		count++
	}
	if count == 0 {
		return 0
	}
	p := math.Exp(sum / float64(count))
	lo, hi := sigmoid(0), sigmoid(1)
	conf := (sigmoid(p) - lo) / (hi - lo)
	return math.Max(0, math.Min(1, conf))
}
