package pipeline

import (
	"time"

	"github.com/xaionaro-go/ambientscribe/pkg/clock"
)

type Config struct {
	// InferenceInterval is how often the ASR task tries to take a window.
	InferenceInterval time.Duration

	// AudioInputRestartDelay is the pause between stopping and restarting
	// the capture after an audio input failure.
	AudioInputRestartDelay time.Duration

	ResultsQueueSize     uint
	DiarizationQueueSize uint
	ErrorsQueueSize      uint

	Clock clock.Clock
}

func DefaultConfig() Config {
	return Config{
		InferenceInterval:      250 * time.Millisecond,
		AudioInputRestartDelay: time.Second,
		ResultsQueueSize:       64,
		DiarizationQueueSize:   256,
		ErrorsQueueSize:        64,
	}
}

func (cfg Config) withDefaults() Config {
	defaults := DefaultConfig()
	if cfg.InferenceInterval <= 0 {
		cfg.InferenceInterval = defaults.InferenceInterval
	}
	if cfg.AudioInputRestartDelay <= 0 {
		cfg.AudioInputRestartDelay = defaults.AudioInputRestartDelay
	}
	if cfg.ResultsQueueSize == 0 {
		cfg.ResultsQueueSize = defaults.ResultsQueueSize
	}
	if cfg.DiarizationQueueSize == 0 {
		cfg.DiarizationQueueSize = defaults.DiarizationQueueSize
	}
	if cfg.ErrorsQueueSize == 0 {
		cfg.ErrorsQueueSize = defaults.ErrorsQueueSize
	}
	cfg.Clock = clock.OrDefault(cfg.Clock)
	return cfg
}
