package observability

import (
	"fmt"
	"os"
	"time"

	"github.com/facebookincubator/go-belt/pkg/field"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	logger "github.com/facebookincubator/go-belt/tool/logger/types"
	"github.com/sirupsen/logrus"
)

const hookFlushTimeout = 5 * time.Second

// LogrusHook forwards go-belt log entries to a logrus hook (e.g. the
// logstash one). Entries arrive after the pre-hooks, so they are
// already filtered and redacted.
type LogrusHook struct {
	LogrusLogger *logrus.Logger
	Hook         logrus.Hook

	levels map[logrus.Level]struct{}
}

var _ logger.Hook = (*LogrusHook)(nil)

func NewLogrusHook(
	l *logrus.Logger,
	h logrus.Hook,
) *LogrusHook {
	levels := map[logrus.Level]struct{}{}
	for _, level := range h.Levels() {
		levels[level] = struct{}{}
	}
	return &LogrusHook{
		LogrusLogger: l,
		Hook:         h,
		levels:       levels,
	}
}

func (h *LogrusHook) ProcessLogEntry(entry *logger.Entry) bool {
	level := xlogrus.LevelToLogrus(entry.Level)
	if _, ok := h.levels[level]; !ok {
		return true
	}
	fields := logrus.Fields{}
	if entry.Fields != nil {
		entry.Fields.ForEachField(func(f *field.Field) bool {
			fields[f.Key] = f.Value
			return true
		})
	}
	err := h.Hook.Fire(&logrus.Entry{
		Logger:  h.LogrusLogger,
		Data:    fields,
		Time:    entry.Timestamp,
		Level:   level,
		Caller:  entry.Caller.Frame(),
		Message: entry.Message,
	})
	if err != nil {
		// logging here would recurse into this hook
		fmt.Fprintf(os.Stderr, "unable to forward a log entry to %T: %v\n", h.Hook, err)
	}
	return true
}

func (h *LogrusHook) Flush() {
	switch flusher := h.Hook.(type) {
	case interface{ Flush() }:
		flusher.Flush()
	case interface{ Flush() error }:
		flusher.Flush()
	case interface{ Flush(time.Duration) }:
		flusher.Flush(hookFlushTimeout)
	case interface{ Flush(time.Duration) error }:
		flusher.Flush(hookFlushTimeout)
	}
}
