package commands

import (
	"runtime/debug"
	"time"

	"github.com/xaionaro-go/ambientscribe/pkg/buildvars"
)

type buildInfo struct {
	Version   string     `yaml:"version,omitempty"`
	GitCommit string     `yaml:"git_commit,omitempty"`
	BuildDate *time.Time `yaml:"build_date,omitempty"`
	GoVersion string     `yaml:"go_version,omitempty"`
	Module    string     `yaml:"module,omitempty"`
}

func getBuildInfo() buildInfo {
	result := buildInfo{
		Version:   buildvars.Version,
		GitCommit: buildvars.GitCommit,
		BuildDate: buildvars.BuildDate,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return result
	}
	result.GoVersion = bi.GoVersion
	result.Module = bi.Main.Path
	if result.Version == "" {
		result.Version = bi.Main.Version
	}
	return result
}
