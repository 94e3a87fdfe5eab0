package asr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelOf(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		conf := float64(i) / 1000
		level := LevelOf(conf)
		switch {
		case conf >= 0.8:
			require.Equal(t, ConfidenceLevelHigh, level, conf)
		case conf >= 0.6:
			require.Equal(t, ConfidenceLevelMedium, level, conf)
		default:
			require.Equal(t, ConfidenceLevelLow, level, conf)
		}
	}
	require.Equal(t, ConfidenceLevelHigh, LevelOf(0.8))
	require.Equal(t, ConfidenceLevelMedium, LevelOf(0.6))
	require.Equal(t, ConfidenceLevelLow, LevelOf(0.5999))
}

func TestConfidenceFromLogProbs(t *testing.T) {
	require.Zero(t, ConfidenceFromLogProbs(nil))
	require.InDelta(t, 1, ConfidenceFromLogProbs([]float32{0, 0}), 1e-9)
	require.InDelta(t, 0, ConfidenceFromLogProbs([]float32{-1000}), 1e-9)

	stub := ConfidenceFromLogProbs(stubLogProbs)
	require.Greater(t, stub, 0.8)
	require.LessOrEqual(t, stub, 1.0)

	// monotonic in the average log-probability
	prev := -1.0
	for lp := -10.0; lp <= 0; lp += 0.25 {
		conf := ConfidenceFromLogProbs([]float32{float32(lp)})
		require.GreaterOrEqual(t, conf, 0.0)
		require.LessOrEqual(t, conf, 1.0)
		require.Greater(t, conf, prev)
		prev = conf
	}

	require.InDelta(t, 1, ConfidenceFromLogProbs([]float32{5, float32(math.NaN())}), 1e-9)
}
