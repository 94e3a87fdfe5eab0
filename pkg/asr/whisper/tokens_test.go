package whisper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/ambientscribe/pkg/asr"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func TestMergeTokens(t *testing.T) {
	words := mergeTokens([]token{
		{Text: " Hel", Start: ms(0), End: ms(200), Probability: 0.8},
		{Text: "lo", Start: ms(200), End: ms(400), Probability: 0.6},
		{Text: " there", Start: ms(600), End: ms(900), Probability: 0.9},
		{Text: ",", Start: ms(900), End: ms(950), Probability: 0.5},
		{Text: " pat", Start: ms(1000), End: ms(1200), Probability: 0.7},
		{Text: "ient", Start: ms(1200), End: ms(1500), Probability: 0.9},
		{Text: ".", Start: ms(1500), End: ms(1550), Probability: 0.8},
	})
	require.Len(t, words, 3)
	require.Equal(t, "Hello", words[0].Word)
	require.Equal(t, ms(0), words[0].Start)
	require.Equal(t, ms(400), words[0].End)
	require.InDelta(t, 0.7, words[0].Confidence, 1e-6)
	require.Equal(t, "there,", words[1].Word)
	require.Equal(t, asr.WordAlignment{
		Word:       "patient.",
		Start:      ms(1000),
		End:        ms(1550),
		Confidence: words[2].Confidence,
	}, words[2])
	require.InDelta(t, 0.8, words[2].Confidence, 1e-6)
}

func TestMergeTokensWhitespaceToken(t *testing.T) {
	words := mergeTokens([]token{
		{Text: "I", Start: ms(0), End: ms(100), Probability: 1},
		{Text: " ", Start: ms(100), End: ms(100), Probability: 1},
		{Text: "see", Start: ms(200), End: ms(400), Probability: 1},
	})
	require.Len(t, words, 2)
	require.Equal(t, "I", words[0].Word)
	require.Equal(t, "see", words[1].Word)

	require.Empty(t, mergeTokens(nil))
}
