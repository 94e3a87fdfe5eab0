package commands

import (
	"context"
	"io"
	"os"
	"os/user"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt"
	xruntime "github.com/facebookincubator/go-belt/pkg/runtime"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	errmonsentry "github.com/facebookincubator/go-belt/tool/experimental/errmon/implementation/sentry"
	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	prometheusadapter "github.com/facebookincubator/go-belt/tool/experimental/metrics/implementation/prometheus"
	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/zap"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/xaionaro-go/ambientscribe/pkg/ephemeral"
	"github.com/xaionaro-go/ambientscribe/pkg/observability"
	"github.com/xaionaro-go/ambientscribe/pkg/xpath"
)

const (
	logFormatText = "text"
	logFormatJSON = "json"
)

func newLogger(flags Flags) logger.Logger {
	if flags.LogFormat == logFormatJSON {
		l := zap.Default()
		if flags.LogFile != "" {
			l.Warnf("--log-file is supported only with --log-format=%s", logFormatText)
		}
		return l
	}

	ll := xlogrus.DefaultLogrusLogger()
	if f, ok := ll.Formatter.(*logrus.TextFormatter); ok {
		f.ForceColors = flags.LogFile == ""
	}
	l := xlogrus.New(ll)
	if flags.LogFile != "" {
		logPath, err := xpath.Expand(flags.LogFile)
		if err != nil {
			l.Errorf("unable to expand path '%s': %v", flags.LogFile, err)
		} else {
			f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
			if err != nil {
				l.Errorf("failed to open log file '%s': %v", logPath, err)
			} else {
				ll.SetOutput(io.MultiWriter(os.Stderr, f))
			}
		}
	}
	logrus.SetLevel(logrus.TraceLevel)
	return l
}

// sessionTexts lets the log filter see the transcript of the session
// that is created long after the logger.
type sessionTexts struct {
	manager atomic.Pointer[ephemeral.Manager]
}

var _ observability.SensitiveTextsProvider = (*sessionTexts)(nil)

func (s *sessionTexts) SensitiveTexts() []string {
	m := s.manager.Load()
	if m == nil {
		return nil
	}
	return m.SensitiveTexts()
}

var (
	currentSession        sessionTexts
	setCallerPCFilterOnce sync.Once
)

func getContext(
	ctx context.Context,
	flags Flags,
) context.Context {
	observability.LogLevelFilter.SetLevel(flags.LoggerLevel)
	setCallerPCFilterOnce.Do(func() {
		xruntime.DefaultCallerPCFilter = observability.CallerPCFilter(xruntime.DefaultCallerPCFilter)
	})

	ctx = metrics.CtxWithMetrics(ctx, prometheusadapter.Default())

	l := newLogger(flags).WithLevel(logger.LevelTrace).WithPreHooks(
		&observability.LogLevelFilter,
		observability.NewPHIFilter(&currentSession),
	)

	if flags.SentryDSN != "" {
		l.Infof("setting up Sentry at DSN '%s'", flags.SentryDSN)
		sentryClient, err := sentry.NewClient(sentry.ClientOptions{
			Dsn: flags.SentryDSN,
		})
		if err != nil {
			l.Errorf("unable to initialize the Sentry client: %v", err)
		} else {
			sentryErrorMonitor := errmonsentry.New(sentryClient)
			ctx = errmon.CtxWithErrorMonitor(ctx, sentryErrorMonitor)
			l = l.WithPreHooks(observability.NewErrorMonitorLoggerHook(
				ctx,
				sentryErrorMonitor,
			))
		}
	}

	ctx = logger.CtxWithLogger(ctx, l)

	if flags.LogstashAddr != "" {
		ctx = observability.CtxWithLogstash(ctx, flags.LogstashAddr, appName)
	}

	ctx = belt.WithField(ctx, "program", appName)
	if hostname, err := os.Hostname(); err == nil {
		ctx = belt.WithField(ctx, "hostname", hostname)
	}
	ctx = belt.WithField(ctx, "pid", os.Getpid())
	if u, err := user.Current(); err == nil {
		ctx = belt.WithField(ctx, "user", u.Username)
	}

	l = logger.FromCtx(ctx)
	logger.Default = func() logger.Logger {
		return l
	}

	return ctx
}
