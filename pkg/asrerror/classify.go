package asrerror

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
)

type classifyRule struct {
	Kind     Kind
	Keywords []string
}

// the order matters: the first matching rule wins; a permission problem
// is fatal whatever resource it is about
var classifyRules = []classifyRule{
	{KindPermission, []string{"permission", "denied", "not permitted"}},
	{KindNetwork, []string{"network", "timeout", "timed out", "connection", "unreachable"}},
	{KindThermal, []string{"thermal", "temperature", "overheat"}},
	{KindDecoder, []string{"decoder", "decode", "model", "inference"}},
	{KindAudioInput, []string{"audio", "microphone", "recording", "record"}},
	{KindResource, []string{"memory", "resource", "space", "out of"}},
	{KindInitialization, []string{"initialize", "initialise", "initialization", "setup", "not initialized"}},
}

// Classify maps an arbitrary failure to an *Error. Already classified
// errors are returned as is; nil is mapped to nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var asrErr *Error
	if errors.As(err, &asrErr) {
		return asrErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindNetwork, err, "operation timed out")
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return Wrap(KindPermission, err, "permission denied")
	case errors.Is(err, syscall.ENOMEM), errors.Is(err, syscall.ENOSPC):
		return Wrap(KindResource, err, "insufficient resources")
	}

	return ClassifyMessage(err.Error(), err)
}

func ClassifyMessage(msg string, cause error) *Error {
	lower := strings.ToLower(msg)
	for _, rule := range classifyRules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lower, keyword) {
				return &Error{Kind: rule.Kind, Message: msg, Cause: cause}
			}
		}
	}
	return &Error{Kind: KindUnknown, Message: msg, Cause: cause}
}
