package asr

import (
	"fmt"
	"time"
)

type WordTimestamp struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float32
}

type TranscriptionResult struct {
	Text       string
	Confidence float64
	Level      ConfidenceLevel
	Timestamp  time.Time

	// Offset is the position of the window in the session audio.
	Offset time.Duration
	Words  []WordTimestamp
}

// String never includes the text; transcripts must not leak into logs.
func (r TranscriptionResult) String() string {
	return fmt.Sprintf("TranscriptionResult{words: %d, chars: %d, confidence: %.3f (%s), offset: %v}", len(r.Words), len(r.Text), r.Confidence, r.Level, r.Offset)
}
