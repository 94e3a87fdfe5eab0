package thermal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/ambientscribe/pkg/asrerror"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/ambientscribe/pkg/observability"
	"github.com/xaionaro-go/xsync"
)

const (
	errorsQueueSize = 8
)

type Config struct {
	Interval          time.Duration
	HighThreshold     float64
	RecoveryThreshold float64
	HighDuration      time.Duration
	RecoveryDuration  time.Duration
	SevereGracePeriod time.Duration

	// HighTemperatureC (if positive) makes samples at or above it count as
	// "high" regardless of the CPU usage; RecoveryTemperatureC then also
	// has to be undercut to count as "recovered".
	HighTemperatureC     float64
	RecoveryTemperatureC float64
}

func DefaultConfig() Config {
	return Config{
		Interval:          2 * time.Second,
		HighThreshold:     85,
		RecoveryThreshold: 60,
		HighDuration:      10 * time.Second,
		RecoveryDuration:  30 * time.Second,
		SevereGracePeriod: time.Minute,
	}
}

type Listener interface {
	OnThermalStateChange(ctx context.Context, state State)
}

type ListenerFunc func(ctx context.Context, state State)

func (fn ListenerFunc) OnThermalStateChange(ctx context.Context, state State) {
	fn(ctx, state)
}

// Monitor periodically samples the CPU and classifies the load into a
// Level with hysteresis. It never pauses anything by itself: it only
// publishes states and, when SEVERE lasts too long, a recoverable error.
type Monitor struct {
	locker xsync.Mutex

	// notifyLocker serializes listener calls; every call passes the state
	// read under it, so the last call a listener gets is the latest state
	notifyLocker xsync.Mutex

	config  Config
	sampler Sampler
	clock   clock.Clock

	state *State

	listeners         map[string]Listener
	highSince         time.Time
	recoverySince     time.Time
	severeSince       time.Time
	severeErrorIssued bool
	transitions       uint64

	errorsChan chan *asrerror.Error

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func NewMonitor(
	sampler Sampler,
	cfg Config,
	clk clock.Clock,
) *Monitor {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = defaults.HighThreshold
	}
	if cfg.RecoveryThreshold <= 0 || cfg.RecoveryThreshold > cfg.HighThreshold {
		cfg.RecoveryThreshold = min(defaults.RecoveryThreshold, cfg.HighThreshold)
	}
	if cfg.SevereGracePeriod <= 0 {
		cfg.SevereGracePeriod = defaults.SevereGracePeriod
	}
	clk = clock.OrDefault(clk)
	initial := NewState(LevelNormal, Sample{}, clk.Now())
	return &Monitor{
		config:     cfg,
		sampler:    sampler,
		clock:      clk,
		state:      &initial,
		listeners:  map[string]Listener{},
		errorsChan: make(chan *asrerror.Error, errorsQueueSize),
	}
}

func (m *Monitor) Config() Config {
	return m.config
}

// CurrentState returns the last published state; it never blocks.
func (m *Monitor) CurrentState() State {
	return *xatomic.LoadPointer(&m.state)
}

func (m *Monitor) Errors() <-chan *asrerror.Error {
	return m.errorsChan
}

func (m *Monitor) Transitions(ctx context.Context) uint64 {
	return xsync.DoR1(ctx, &m.locker, func() uint64 {
		return m.transitions
	})
}

// RegisterComponent subscribes the listener and immediately calls it with
// the current state. Registering an existing id replaces the listener.
func (m *Monitor) RegisterComponent(
	ctx context.Context,
	id string,
	listener Listener,
) {
	logger.Debugf(ctx, "RegisterComponent(ctx, '%s')", id)
	m.notifyLocker.Do(ctx, func() {
		state := xsync.DoR1(ctx, &m.locker, func() State {
			m.listeners[id] = listener
			return m.CurrentState()
		})
		listener.OnThermalStateChange(ctx, state)
	})
}

func (m *Monitor) UnregisterComponent(
	ctx context.Context,
	id string,
) {
	logger.Debugf(ctx, "UnregisterComponent(ctx, '%s')", id)
	m.locker.Do(ctx, func() {
		delete(m.listeners, id)
	})
}

func (m *Monitor) Start(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &m.locker, m.startLocked, ctx)
}

func (m *Monitor) startLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "startLocked")
	defer func() { logger.Debugf(ctx, "/startLocked: %v", _err) }()
	if m.cancelFunc != nil {
		return fmt.Errorf("the thermal monitor is already started")
	}

	ctx, cancelFn := context.WithCancel(ctx)
	m.cancelFunc = cancelFn
	ticker := m.clock.Ticker(m.config.Interval)
	m.wg.Add(1)
	observability.Go(ctx, func() {
		defer m.wg.Done()
		defer ticker.Stop()
		defer logger.Debugf(ctx, "thermal monitor loop is closed")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Tick(ctx); err != nil {
					logger.Warnf(ctx, "unable to sample the thermal state: %v", err)
				}
			}
		}
	})
	return nil
}

func (m *Monitor) Stop(ctx context.Context) {
	cancelFn := xsync.DoR1(ctx, &m.locker, func() context.CancelFunc {
		cancelFn := m.cancelFunc
		m.cancelFunc = nil
		return cancelFn
	})
	if cancelFn == nil {
		return
	}
	cancelFn()
	m.wg.Wait()
}

// Tick takes one sample and advances the state machine.
func (m *Monitor) Tick(ctx context.Context) error {
	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("unable to sample: %w", err)
	}
	m.Observe(ctx, sample)
	return nil
}

// Observe advances the state machine with a sample taken now.
func (m *Monitor) Observe(ctx context.Context, sample Sample) {
	var (
		changed    *State
		listeners  []Listener
		thermalErr *asrerror.Error
	)
	m.locker.Do(ctx, func() {
		changed, listeners, thermalErr = m.observeLocked(ctx, sample)
	})
	if thermalErr != nil {
		logger.Warnf(ctx, "%v", thermalErr)
		select {
		case m.errorsChan <- thermalErr:
		default:
			logger.Errorf(ctx, "the thermal errors queue is full, dropping: %v", thermalErr)
		}
	}
	if changed == nil {
		return
	}
	m.notifyLocker.Do(ctx, func() {
		// a concurrent Observe may have published a newer state meanwhile
		state := m.CurrentState()
		for _, listener := range listeners {
			listener.OnThermalStateChange(ctx, state)
		}
	})
}

func (m *Monitor) isHigh(sample Sample) bool {
	if sample.CPUUsagePercent > m.config.HighThreshold {
		return true
	}
	return m.config.HighTemperatureC > 0 && sample.TemperatureC >= m.config.HighTemperatureC
}

func (m *Monitor) isRecovered(sample Sample) bool {
	if sample.CPUUsagePercent >= m.config.RecoveryThreshold {
		return false
	}
	if m.config.HighTemperatureC > 0 && m.config.RecoveryTemperatureC > 0 {
		return sample.TemperatureC < m.config.RecoveryTemperatureC
	}
	return true
}

func (m *Monitor) observeLocked(
	ctx context.Context,
	sample Sample,
) (*State, []Listener, *asrerror.Error) {
	now := m.clock.Now()
	prev := m.CurrentState()
	level := prev.Level

	switch {
	case m.isHigh(sample):
		m.recoverySince = time.Time{}
		if m.highSince.IsZero() {
			m.highSince = now
		}
		if level < LevelSevere && now.Sub(m.highSince) >= m.config.HighDuration {
			level++
			m.highSince = now
		}
	case m.isRecovered(sample):
		m.highSince = time.Time{}
		if m.recoverySince.IsZero() {
			m.recoverySince = now
		}
		if level > LevelNormal && now.Sub(m.recoverySince) >= m.config.RecoveryDuration {
			level--
			m.recoverySince = now
		}
	default:
		m.highSince = time.Time{}
		m.recoverySince = time.Time{}
	}

	newState := NewState(level, sample, now)
	xatomic.StorePointer(&m.state, &newState)

	var thermalErr *asrerror.Error
	switch {
	case level != LevelSevere:
		m.severeSince = time.Time{}
		m.severeErrorIssued = false
	case prev.Level != LevelSevere:
		m.severeSince = now
	case !m.severeErrorIssued && now.Sub(m.severeSince) >= m.config.SevereGracePeriod:
		m.severeErrorIssued = true
		thermalErr = asrerror.New(asrerror.KindThermal, "the device has been in the SEVERE thermal state for %v (cpu %.1f%%, %.1f°C)", now.Sub(m.severeSince), sample.CPUUsagePercent, sample.TemperatureC)
	}

	if level == prev.Level {
		return nil, nil, thermalErr
	}

	m.transitions++
	metrics.FromCtx(ctx).Count("thermal_transitions").Add(1)
	logger.Infof(ctx, "thermal state changed: %s -> %s", prev.Level, newState)

	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	return &newState, listeners, thermalErr
}
