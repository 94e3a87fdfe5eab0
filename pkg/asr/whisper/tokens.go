package whisper

import (
	"strings"
	"time"

	"github.com/xaionaro-go/ambientscribe/pkg/asr"
)

// token is a single non-special whisper token, with its text as whisper
// returned it (a leading space marks the start of a word).
type token struct {
	Text        string
	Start       time.Duration
	End         time.Duration
	Probability float32
}

// mergeTokens glues sub-word tokens of one segment into words. A token
// starts a new word if it begins with whitespace or follows a
// whitespace-only token; any other token (including punctuation) continues
// the current word. The word confidence is the mean token probability.
func mergeTokens(tokens []token) []asr.WordAlignment {
	var (
		words      []asr.WordAlignment
		cur        strings.Builder
		cur0, cur1 time.Duration
		probSum    float32
		probCount  int
		wordStart  = true
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		words = append(words, asr.WordAlignment{
			Word:       cur.String(),
			Start:      cur0,
			End:        cur1,
			Confidence: probSum / float32(probCount),
		})
		cur.Reset()
		probSum, probCount = 0, 0
	}

	for _, tok := range tokens {
		trimmed := strings.TrimSpace(tok.Text)
		if trimmed == "" {
			flush()
			wordStart = true
			continue
		}
		if wordStart || strings.TrimLeft(tok.Text, " \t\n") != tok.Text {
			flush()
		}
		wordStart = false
		if cur.Len() == 0 {
			cur0 = tok.Start
		}
		cur.WriteString(trimmed)
		cur1 = tok.End
		probSum += tok.Probability
		probCount++
	}
	flush()
	return words
}
