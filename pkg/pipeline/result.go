package pipeline

import (
	"fmt"

	"github.com/xaionaro-go/ambientscribe/pkg/asr"
	"github.com/xaionaro-go/ambientscribe/pkg/diarization"
)

// Result is a transcription result attributed to the speaker who was
// current when it was produced.
type Result struct {
	asr.TranscriptionResult
	Speaker            diarization.Speaker
	IsManuallyAssigned bool
}

func (r Result) String() string {
	return fmt.Sprintf("%s by %s", r.TranscriptionResult, r.Speaker)
}
