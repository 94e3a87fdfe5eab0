package observability

import (
	"fmt"
	"strings"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/pkg/field"
	"github.com/facebookincubator/go-belt/tool/logger"
	loggertypes "github.com/facebookincubator/go-belt/tool/logger/types"
	"github.com/xaionaro-go/ambientscribe/pkg/phi"
)

// SensitiveTextsProvider returns the exact texts (e.g. the transcript of
// the current session) that must never be logged.
type SensitiveTextsProvider interface {
	SensitiveTexts() []string
}

// PHIFilter redacts the PHI-looking substrings and the sensitive texts from
// every logged value.
type PHIFilter struct {
	Providers []SensitiveTextsProvider
}

func NewPHIFilter(providers ...SensitiveTextsProvider) *PHIFilter {
	return &PHIFilter{
		Providers: providers,
	}
}

var _ logger.PreHook = (*PHIFilter)(nil)

type redactedError string

func (e redactedError) Error() string {
	return string(e)
}

func (f *PHIFilter) ProcessInput(
	_ belt.TraceIDs,
	_ logger.Level,
	args ...any,
) loggertypes.PreHookResult {
	f.filterArgs(args)
	return loggertypes.PreHookResult{}
}

func (f *PHIFilter) ProcessInputf(
	_ belt.TraceIDs,
	_ logger.Level,
	_ string,
	args ...any,
) loggertypes.PreHookResult {
	f.filterArgs(args)
	return loggertypes.PreHookResult{}
}

func (f *PHIFilter) ProcessInputFields(
	_ belt.TraceIDs,
	_ logger.Level,
	_ string,
	fields field.AbstractFields,
) loggertypes.PreHookResult {
	fields.ForEachField(func(fl *field.Field) bool {
		fl.Value = f.FilterValue(fl.Value)
		return true
	})
	return loggertypes.PreHookResult{}
}

func (f *PHIFilter) filterArgs(args []any) {
	for idx, arg := range args {
		args[idx] = f.FilterValue(arg)
	}
}

// FilterValue returns v itself if it has nothing to redact, or its
// redacted textual form otherwise.
func (f *PHIFilter) FilterValue(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return f.FilterString(v)
	case []byte:
		return []byte(f.FilterString(string(v)))
	case error:
		orig := v.Error()
		if censored := f.FilterString(orig); censored != orig {
			return redactedError(censored)
		}
		return v
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	default:
		orig := fmt.Sprintf("%+v", v)
		if censored := f.FilterString(orig); censored != orig {
			return censored
		}
		return v
	}
}

func (f *PHIFilter) FilterString(s string) string {
	for _, p := range f.Providers {
		for _, text := range p.SensitiveTexts() {
			if len(text) == 0 {
				continue
			}
			s = strings.ReplaceAll(s, text, phi.Placeholder)
		}
	}
	return phi.Redact(s)
}
