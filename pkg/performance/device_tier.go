package performance

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

type DeviceTier uint

const (
	DeviceTierUndefined = DeviceTier(iota)
	DeviceTierA
	DeviceTierB
)

func (t DeviceTier) String() string {
	switch t {
	case DeviceTierUndefined:
		return "<undefined>"
	case DeviceTierA:
		return "A"
	case DeviceTierB:
		return "B"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(t))
	}
}

func ParseDeviceTier(s string) (DeviceTier, error) {
	switch s {
	case "A", "a":
		return DeviceTierA, nil
	case "B", "b":
		return DeviceTierB, nil
	case "", "auto":
		return DeviceTierUndefined, nil
	default:
		return DeviceTierUndefined, fmt.Errorf("unknown device tier '%s'", s)
	}
}

type TierSpec struct {
	MaxThreads   int
	ThreadScale  float64
	ContextScale float64
}

func (t DeviceTier) Spec() TierSpec {
	switch t {
	case DeviceTierA:
		return TierSpec{MaxThreads: 6, ThreadScale: 1.5, ContextScale: 1.0}
	default:
		return TierSpec{MaxThreads: 4, ThreadScale: 1.0, ContextScale: 0.75}
	}
}

const (
	tierAMinCores  = 6
	tierAMinMemory = 4 << 30
)

type HostInfo struct {
	LogicalCores int
	TotalMemory  uint64
}

func ClassifyHost(info HostInfo) DeviceTier {
	if info.LogicalCores >= tierAMinCores && info.TotalMemory >= tierAMinMemory {
		return DeviceTierA
	}
	return DeviceTierB
}

// DetectDeviceTier inspects the host once; the result is not expected to be
// re-evaluated during a session.
func DetectDeviceTier(ctx context.Context) DeviceTier {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		logger.Warnf(ctx, "unable to count CPU cores, assuming tier B: %v", err)
		return DeviceTierB
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logger.Warnf(ctx, "unable to get the memory size, assuming tier B: %v", err)
		return DeviceTierB
	}
	info := HostInfo{LogicalCores: cores, TotalMemory: vm.Total}
	tier := ClassifyHost(info)
	logger.Debugf(ctx, "detected device tier %s from %#+v", tier, info)
	return tier
}
