package thermal

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/xaionaro-go/xsync"
)

type Sample struct {
	CPUUsagePercent float64
	TemperatureC    float64
}

type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// GopsutilSampler reads the host CPU usage and the hottest temperature
// sensor.
type GopsutilSampler struct{}

var _ Sampler = GopsutilSampler{}

func (GopsutilSampler) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("unable to get the CPU usage: %w", err)
	}
	if len(percents) == 0 {
		return Sample{}, fmt.Errorf("the CPU usage is not available")
	}

	var maxTemp float64
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		logger.Tracef(ctx, "unable to get temperatures: %v", err)
	}
	for _, t := range temps {
		if t.Temperature > maxTemp {
			maxTemp = t.Temperature
		}
	}

	return Sample{
		CPUUsagePercent: percents[0],
		TemperatureC:    maxTemp,
	}, nil
}

// StaticSampler returns whatever was Set last.
type StaticSampler struct {
	locker xsync.Mutex
	sample Sample
	err    error
}

var _ Sampler = (*StaticSampler)(nil)

func NewStaticSampler(cpuUsagePercent float64) *StaticSampler {
	return &StaticSampler{
		sample: Sample{CPUUsagePercent: cpuUsagePercent},
	}
}

func (s *StaticSampler) Set(sample Sample, err error) {
	s.locker.Do(context.Background(), func() {
		s.sample, s.err = sample, err
	})
}

func (s *StaticSampler) SetCPUUsage(percent float64) {
	s.Set(Sample{CPUUsagePercent: percent}, nil)
}

func (s *StaticSampler) Sample(ctx context.Context) (Sample, error) {
	return xsync.DoR2(ctx, &s.locker, func() (Sample, error) {
		return s.sample, s.err
	})
}
