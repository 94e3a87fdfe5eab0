package observability

import (
	"context"
	"fmt"
	"net/url"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/xaionaro-go/logrustash"
)

// ParseLogstashAddr accepts "host:port" (TCP is assumed) as well as
// "tcp://host:port" and "udp://host:port".
func ParseLogstashAddr(addr string) (network string, hostPort string, _err error) {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		u, err = url.Parse("tcp://" + addr)
		if err != nil {
			return "", "", fmt.Errorf("unable to parse '%s' as an address: %w", addr, err)
		}
	}
	switch u.Scheme {
	case "tcp", "udp":
	default:
		return "", "", fmt.Errorf("unsupported logstash network '%s' in '%s'", u.Scheme, addr)
	}
	if u.Port() == "" {
		return "", "", fmt.Errorf("no port in the logstash address '%s'", addr)
	}
	return u.Scheme, u.Host, nil
}

// CtxWithLogstash additionally sends the log entries to logstash. On
// failure the context is returned as is.
func CtxWithLogstash(
	ctx context.Context,
	logstashAddr string,
	appName string,
) context.Context {
	network, hostPort, err := ParseLogstashAddr(logstashAddr)
	if err != nil {
		logger.Errorf(ctx, "%v", err)
		return ctx
	}

	l := logger.FromCtx(ctx)
	emitter, ok := l.Emitter().(*logrus.Emitter)
	if !ok {
		logger.Errorf(ctx, "logstash requires a logrus emitter, but got %T", l.Emitter())
		return ctx
	}

	hook, err := logrustash.NewHook(network, hostPort, appName)
	if err != nil {
		logger.Errorf(ctx, "unable to connect to logstash at %s://%s: %v", network, hostPort, err)
		return ctx
	}
	logger.Debugf(ctx, "sending logs to logstash at %s://%s", network, hostPort)
	return logger.CtxWithLogger(ctx, l.WithHooks(NewLogrusHook(
		emitter.LogrusEntry.Logger,
		hook,
	)))
}
