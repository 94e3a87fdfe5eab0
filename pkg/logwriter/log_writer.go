package logwriter

import (
	"bytes"
	"context"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xsync"
)

// LogWriter turns the output of a line-oriented io.Writer user (e.g.
// a standard log.Logger) into log entries of the given level.
type LogWriter struct {
	Logger logger.Logger
	Level  logger.Level

	locker  xsync.Mutex
	partial bytes.Buffer
}

var _ io.Writer = (*LogWriter)(nil)

func New(
	ctx context.Context,
	level logger.Level,
) *LogWriter {
	return &LogWriter{
		Logger: logger.FromCtx(ctx),
		Level:  level,
	}
}

func (l *LogWriter) Write(b []byte) (int, error) {
	ctx := xsync.WithNoLogging(context.Background(), true)
	lines := xsync.DoR1(ctx, &l.locker, func() []string {
		l.partial.Write(b)
		var lines []string
		for {
			idx := bytes.IndexByte(l.partial.Bytes(), '\n')
			if idx < 0 {
				return lines
			}
			line := bytes.TrimSpace(l.partial.Next(idx + 1))
			if len(line) > 0 {
				lines = append(lines, string(line))
			}
		}
	})
	for _, line := range lines {
		l.Logger.Logf(l.Level, "%s", line)
	}
	return len(b), nil
}

// Flush logs the incomplete trailing line, if any.
func (l *LogWriter) Flush() {
	ctx := xsync.WithNoLogging(context.Background(), true)
	line := xsync.DoR1(ctx, &l.locker, func() string {
		s := string(bytes.TrimSpace(l.partial.Bytes()))
		l.partial.Reset()
		return s
	})
	if line != "" {
		l.Logger.Logf(l.Level, "%s", line)
	}
}
