package observability

import (
	"context"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/pkg/field"
	logger "github.com/facebookincubator/go-belt/tool/logger/types"
	"github.com/xaionaro-go/xsync"
)

var LogLevelFilter LogLevelFilterT

// LogLevelFilterT allows to change the logging level of an already
// configured logger.
type LogLevelFilterT struct {
	Locker xsync.Mutex
	Level  logger.Level
}

var _ logger.PreHook = (*LogLevelFilterT)(nil)

func noLoggingCtx() context.Context {
	return xsync.WithNoLogging(context.Background(), true)
}

func (h *LogLevelFilterT) GetLevel() logger.Level {
	return xsync.DoR1(noLoggingCtx(), &h.Locker, func() logger.Level {
		return h.Level
	})
}

func (h *LogLevelFilterT) SetLevel(
	level logger.Level,
) {
	h.Locker.Do(noLoggingCtx(), func() {
		h.Level = level
	})
}

func (h *LogLevelFilterT) result(level logger.Level) logger.PreHookResult {
	if level > h.GetLevel() {
		return logger.PreHookResult{Skip: true}
	}
	return logger.PreHookResult{}
}

func (h *LogLevelFilterT) ProcessInput(
	traceIDs belt.TraceIDs,
	level logger.Level,
	args ...any,
) logger.PreHookResult {
	return h.result(level)
}

func (h *LogLevelFilterT) ProcessInputf(
	traceIDs belt.TraceIDs,
	level logger.Level,
	format string,
	args ...any,
) logger.PreHookResult {
	return h.result(level)
}

func (h *LogLevelFilterT) ProcessInputFields(
	traceIDs belt.TraceIDs,
	level logger.Level,
	message string,
	fields field.AbstractFields,
) logger.PreHookResult {
	return h.result(level)
}
