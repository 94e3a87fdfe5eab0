package observability

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"github.com/DataDog/gostackparse"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/pkg/field"
	xruntime "github.com/facebookincubator/go-belt/pkg/runtime"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	errmontypes "github.com/facebookincubator/go-belt/tool/experimental/errmon/types"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/adapter"
	loggertypes "github.com/facebookincubator/go-belt/tool/logger/types"
)

const (
	maxStackBufferSize = 10 << 20
)

func parseStacks(all bool) ([]*gostackparse.Goroutine, error) {
	bufSize := 65536
	if all {
		bufSize *= runtime.NumGoroutine()
	}
	bufSize = min(bufSize, maxStackBufferSize)
	buf := make([]byte, bufSize)
	n := runtime.Stack(buf, all)
	goroutines, errs := gostackparse.Parse(bytes.NewReader(buf[:n]))
	if len(errs) > 0 {
		return goroutines, fmt.Errorf("unable to parse %d stack traces, the first error: %w", len(errs), errs[0])
	}
	return goroutines, nil
}

func getGoroutines() ([]errmontypes.Goroutine, int) {
	goroutines, err := parseStacks(true)
	if err != nil {
		logger.Default().Debugf("%v", err)
	}
	result := make([]errmontypes.Goroutine, 0, len(goroutines))
	for _, g := range goroutines {
		result = append(result, *g)
	}

	var currentGoroutineID int
	current, err := parseStacks(false)
	if err != nil {
		logger.Default().Debugf("%v", err)
	}
	if len(current) == 1 {
		currentGoroutineID = current[0].ID
	}
	return result, currentGoroutineID
}

// ErrorMonitorLoggerHook forwards every log entry at level Warning or more
// severe to the error monitor (e.g. Sentry), with the goroutines dump.
type ErrorMonitorLoggerHook struct {
	ErrorMonitor errmontypes.ErrorMonitor
	SendChan     chan ErrorMonitorMessage
}

func NewErrorMonitorLoggerHook(
	ctx context.Context,
	errorMonitor errmon.ErrorMonitor,
) *ErrorMonitorLoggerHook {
	result := &ErrorMonitorLoggerHook{
		ErrorMonitor: errorMonitor,
		SendChan:     make(chan ErrorMonitorMessage, 10),
	}
	GoSafe(ctx, func() {
		result.senderLoop(ctx)
	})
	return result
}

var _ loggertypes.PreHook = (*ErrorMonitorLoggerHook)(nil)

func (h *ErrorMonitorLoggerHook) ProcessInput(
	traceIDs belt.TraceIDs,
	level loggertypes.Level,
	args ...any,
) loggertypes.PreHookResult {
	h.capture(level, func(l logger.Logger) {
		l.Log(level, args...)
	})
	return loggertypes.PreHookResult{}
}

func (h *ErrorMonitorLoggerHook) ProcessInputf(
	traceIDs belt.TraceIDs,
	level loggertypes.Level,
	format string,
	args ...any,
) loggertypes.PreHookResult {
	h.capture(level, func(l logger.Logger) {
		l.Logf(level, format, args...)
	})
	return loggertypes.PreHookResult{}
}

func (h *ErrorMonitorLoggerHook) ProcessInputFields(
	traceIDs belt.TraceIDs,
	level loggertypes.Level,
	message string,
	fields field.AbstractFields,
) loggertypes.PreHookResult {
	h.capture(level, func(l logger.Logger) {
		l.LogFields(level, message, fields)
	})
	return loggertypes.PreHookResult{}
}

func (h *ErrorMonitorLoggerHook) capture(
	level loggertypes.Level,
	logFn func(l logger.Logger),
) {
	if level > loggertypes.LevelWarning {
		return
	}
	emitter := &lastEntryEmitter{}
	logFn(adapter.LoggerFromEmitter(emitter).WithLevel(logger.LevelWarning))
	h.sendReport(emitter.LastEntry)
}

// lastEntryEmitter renders an entry without writing it anywhere.
type lastEntryEmitter struct {
	LastEntry *loggertypes.Entry
}

var _ loggertypes.Emitter = (*lastEntryEmitter)(nil)

func (e *lastEntryEmitter) Emit(entry *loggertypes.Entry) {
	e.LastEntry = entry
}

func (e *lastEntryEmitter) Flush() {}

func copyEntry(entry *loggertypes.Entry) *loggertypes.Entry {
	entryDup := *entry

	if entry.Fields != nil {
		fields := make(field.Fields, 0, entry.Fields.Len())
		entry.Fields.ForEachField(func(f *field.Field) bool {
			fields = append(fields, *f)
			return true
		})
		entryDup.Fields = fields
	}

	return &entryDup
}

type ErrorMonitorMessage struct {
	Entry              *loggertypes.Entry
	Goroutines         []errmontypes.Goroutine
	CurrentGoroutineID int
	StackTrace         xruntime.PCs
}

func (h *ErrorMonitorLoggerHook) sendReport(
	entry *loggertypes.Entry,
) {
	if entry == nil {
		logger.Default().Errorf("an attempt to report a nil entry to the error monitor")
		return
	}
	goroutines, currentGoroutineID := getGoroutines()
	select {
	case h.SendChan <- ErrorMonitorMessage{
		Entry:              copyEntry(entry),
		Goroutines:         goroutines,
		CurrentGoroutineID: currentGoroutineID,
		StackTrace:         xruntime.CallerStackTrace(nil),
	}:
	default:
		logger.Default().Errorf("unable to report an error to the error monitor, the queue is full")
	}
}

func (h *ErrorMonitorLoggerHook) senderLoop(ctx context.Context) {
	for {
		var message ErrorMonitorMessage
		select {
		case <-ctx.Done():
			return
		case message = <-h.SendChan:
		}
		h.ErrorMonitor.Emitter().Emit(&errmontypes.Event{
			Entry:       *message.Entry,
			ExternalIDs: []any{},
			Exception: errmontypes.Exception{
				IsPanic:    message.Entry.Level <= loggertypes.LevelPanic,
				Error:      fmt.Errorf("[%s] %s", message.Entry.Level, message.Entry.Message),
				StackTrace: message.StackTrace,
			},
			CurrentGoroutineID: message.CurrentGoroutineID,
			Goroutines:         message.Goroutines,
		})
	}
}
