package audit

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// LoggerSink writes audit events to the logger found in the context.
type LoggerSink struct {
	Level logger.Level
}

var _ Sink = (*LoggerSink)(nil)

func NewLoggerSink() *LoggerSink {
	return &LoggerSink{
		Level: logger.LevelInfo,
	}
}

func (s *LoggerSink) LogEvent(ctx context.Context, eventType EventType, details Details) {
	logger.FromCtx(ctx).Logf(s.Level, "audit event %s: %s", eventType, details)
}
