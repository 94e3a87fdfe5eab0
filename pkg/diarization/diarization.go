package diarization

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/xsync"
)

type Speaker uint

const (
	SpeakerUnknown = Speaker(iota)
	SpeakerDoctor
	SpeakerPatient
)

func (s Speaker) String() string {
	switch s {
	case SpeakerUnknown:
		return "UNKNOWN"
	case SpeakerDoctor:
		return "DOCTOR"
	case SpeakerPatient:
		return "PATIENT"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(s))
	}
}

func (s Speaker) Label() string {
	switch s {
	case SpeakerDoctor:
		return "Doctor"
	case SpeakerPatient:
		return "Patient"
	default:
		return "Unknown"
	}
}

func (s Speaker) Other() Speaker {
	switch s {
	case SpeakerDoctor:
		return SpeakerPatient
	case SpeakerPatient:
		return SpeakerDoctor
	default:
		return s
	}
}

type Activity struct {
	Timestamp     time.Time
	Energy        float64
	IsVoiceActive bool
}

type Result struct {
	SpeakerID          Speaker
	SpeakerLabel       string
	Confidence         float64
	Timestamp          time.Time
	IsManuallyAssigned bool
	IsVoiceActive      bool
}

type Config struct {
	// TurnGap is the minimal silence that separates two speaker turns.
	TurnGap time.Duration

	// ConfidenceRampUp is how long a turn has to last to reach MaxConfidence.
	ConfidenceRampUp time.Duration
}

func DefaultConfig() Config {
	return Config{
		TurnGap:          1500 * time.Millisecond,
		ConfidenceRampUp: 3 * time.Second,
	}
}

const (
	MinConfidence = 0.5
	MaxConfidence = 0.95
)

// Diarizer tracks who is speaking using turn taking: the speaker only
// changes after a silence of at least TurnGap. A manual swap pins the
// assignment until the next such turn boundary.
type Diarizer struct {
	locker xsync.Mutex
	config Config
	clock  clock.Clock

	current            Speaker
	isManuallyAssigned bool
	isSpeaking         bool
	turnStartedAt      time.Time
	lastVoiceAt        time.Time
	last               Result
}

func New(cfg Config, clk clock.Clock) *Diarizer {
	defaults := DefaultConfig()
	if cfg.TurnGap <= 0 {
		cfg.TurnGap = defaults.TurnGap
	}
	if cfg.ConfidenceRampUp <= 0 {
		cfg.ConfidenceRampUp = defaults.ConfidenceRampUp
	}
	d := &Diarizer{
		config: cfg,
		clock:  clock.OrDefault(clk),
	}
	d.last = d.resultLocked(d.clock.Now(), false, 0)
	return d
}

func (d *Diarizer) ProcessActivity(
	ctx context.Context,
	activity Activity,
) Result {
	return xsync.DoA2R1(ctx, &d.locker, d.processActivityLocked, ctx, activity)
}

func (d *Diarizer) processActivityLocked(
	ctx context.Context,
	activity Activity,
) Result {
	ts := activity.Timestamp
	if ts.IsZero() {
		ts = d.clock.Now()
	}

	if !activity.IsVoiceActive {
		d.isSpeaking = false
		d.last = d.resultLocked(ts, false, d.turnConfidence(ts))
		return d.last
	}

	if !d.isSpeaking {
		d.onSpeechStartLocked(ctx, ts)
	}
	d.isSpeaking = true
	d.lastVoiceAt = ts
	d.last = d.resultLocked(ts, true, d.turnConfidence(ts))
	return d.last
}

func (d *Diarizer) onSpeechStartLocked(ctx context.Context, ts time.Time) {
	switch {
	case d.current == SpeakerUnknown:
		d.current = SpeakerDoctor
		d.turnStartedAt = ts
		logger.Debugf(ctx, "the first speaker is assumed to be %s", d.current)
	case d.lastVoiceAt.IsZero():
		d.turnStartedAt = ts
	case ts.Sub(d.lastVoiceAt) >= d.config.TurnGap:
		d.turnStartedAt = ts
		if d.isManuallyAssigned {
			d.isManuallyAssigned = false
			logger.Debugf(ctx, "turn boundary: the manual assignment is reset, keeping %s", d.current)
			return
		}
		d.current = d.current.Other()
		logger.Debugf(ctx, "turn boundary: the speaker is now %s", d.current)
	}
}

func (d *Diarizer) turnConfidence(ts time.Time) float64 {
	if d.current == SpeakerUnknown {
		return 0
	}
	if d.isManuallyAssigned {
		return 1
	}
	progress := float64(ts.Sub(d.turnStartedAt)) / float64(d.config.ConfidenceRampUp)
	progress = max(0, min(1, progress))
	return MinConfidence + (MaxConfidence-MinConfidence)*progress
}

func (d *Diarizer) resultLocked(ts time.Time, isVoiceActive bool, confidence float64) Result {
	return Result{
		SpeakerID:          d.current,
		SpeakerLabel:       d.current.Label(),
		Confidence:         confidence,
		Timestamp:          ts,
		IsManuallyAssigned: d.isManuallyAssigned,
		IsVoiceActive:      isVoiceActive,
	}
}

// SwapSpeakerRoles flips DOCTOR and PATIENT for the current turn.
func (d *Diarizer) SwapSpeakerRoles(ctx context.Context) Result {
	return xsync.DoR1(ctx, &d.locker, func() Result {
		if d.current == SpeakerUnknown {
			d.current = SpeakerDoctor
		}
		d.current = d.current.Other()
		d.isManuallyAssigned = true
		logger.Debugf(ctx, "speaker roles are swapped manually, the current speaker is %s", d.current)
		d.last = d.resultLocked(d.clock.Now(), d.isSpeaking, 1)
		return d.last
	})
}

func (d *Diarizer) CurrentSpeaker(ctx context.Context) Speaker {
	return xsync.DoR1(ctx, &d.locker, func() Speaker {
		return d.current
	})
}

func (d *Diarizer) Last(ctx context.Context) Result {
	return xsync.DoR1(ctx, &d.locker, func() Result {
		return d.last
	})
}

func (d *Diarizer) Reset(ctx context.Context) {
	d.locker.Do(ctx, func() {
		d.current = SpeakerUnknown
		d.isManuallyAssigned = false
		d.isSpeaking = false
		d.turnStartedAt = time.Time{}
		d.lastVoiceAt = time.Time{}
		d.last = d.resultLocked(d.clock.Now(), false, 0)
	})
}
