package thermal

import (
	"fmt"
	"time"
)

type Level uint

const (
	LevelNormal = Level(iota)
	LevelModerate
	LevelSevere
	EndOfLevel
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelModerate:
		return "MODERATE"
	case LevelSevere:
		return "SEVERE"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(l))
	}
}

type Recommendation struct {
	Threads     int
	ContextSize int
}

var recommendations = [EndOfLevel]Recommendation{
	LevelNormal:   {Threads: 4, ContextSize: 3000},
	LevelModerate: {Threads: 3, ContextSize: 2000},
	LevelSevere:   {Threads: 2, ContextSize: 1000},
}

func (l Level) Recommendation() Recommendation {
	if l >= EndOfLevel {
		return recommendations[LevelSevere]
	}
	return recommendations[l]
}

type State struct {
	Level                  Level
	CPUUsagePercent        float64
	TemperatureC           float64
	RecommendedThreads     int
	RecommendedContextSize int
	Timestamp              time.Time
}

func NewState(
	level Level,
	sample Sample,
	ts time.Time,
) State {
	rec := level.Recommendation()
	return State{
		Level:                  level,
		CPUUsagePercent:        sample.CPUUsagePercent,
		TemperatureC:           sample.TemperatureC,
		RecommendedThreads:     rec.Threads,
		RecommendedContextSize: rec.ContextSize,
		Timestamp:              ts,
	}
}

func (s State) String() string {
	return fmt.Sprintf("%s (cpu %.1f%%, %.1f°C, threads %d, context %d)", s.Level, s.CPUUsagePercent, s.TemperatureC, s.RecommendedThreads, s.RecommendedContextSize)
}
