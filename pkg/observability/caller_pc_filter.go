package observability

import (
	"runtime"
	"strings"
)

// CallerSkipPackages are the wrappers that are never reported as the
// caller of a log entry.
var CallerSkipPackages = []string{
	"xaionaro-go/xsync",
	"ambientscribe/pkg/logwriter",
	"ambientscribe/pkg/observability",
}

func CallerPCFilter(
	originalPCFilter func(uintptr) bool,
) func(uintptr) bool {
	return func(pc uintptr) bool {
		if !originalPCFilter(pc) {
			return false
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			return true
		}
		funcName := fn.Name()
		for _, pkg := range CallerSkipPackages {
			if strings.Contains(funcName, pkg) {
				return false
			}
		}
		return true
	}
}
