package thermal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/ambientscribe/pkg/asrerror"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
)

func testConfig() Config {
	return Config{
		Interval:          time.Second,
		HighThreshold:     85,
		RecoveryThreshold: 60,
		HighDuration:      10 * time.Second,
		RecoveryDuration:  20 * time.Second,
		SevereGracePeriod: 30 * time.Second,
	}
}

// feed observes the usage once per second for the given duration
// (inclusive of both ends).
func feed(ctx context.Context, m *Monitor, clk *clock.Mock, usage float64, d time.Duration) {
	for elapsed := time.Duration(0); ; elapsed += time.Second {
		m.Observe(ctx, Sample{CPUUsagePercent: usage})
		if elapsed >= d {
			return
		}
		clk.Add(time.Second)
	}
}

type recordingListener struct {
	states []State
}

func (l *recordingListener) OnThermalStateChange(_ context.Context, s State) {
	l.states = append(l.states, s)
}

func TestMonitorShortSpikeDoesNotChangeState(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMonitor(NewStaticSampler(0), testConfig(), clk)
	l := &recordingListener{}
	m.RegisterComponent(ctx, "l", l)
	require.Len(t, l.states, 1)
	require.Equal(t, LevelNormal, l.states[0].Level)

	feed(ctx, m, clk, 95, 9*time.Second)
	clk.Add(time.Second)
	feed(ctx, m, clk, 50, 5*time.Second)

	require.Equal(t, LevelNormal, m.CurrentState().Level)
	require.Zero(t, m.Transitions(ctx))
	require.Len(t, l.states, 1)
}

func TestMonitorLongSpikeChangesStateOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMonitor(NewStaticSampler(0), testConfig(), clk)
	l := &recordingListener{}
	m.RegisterComponent(ctx, "l", l)

	feed(ctx, m, clk, 95, 15*time.Second)

	require.Equal(t, LevelModerate, m.CurrentState().Level)
	require.Equal(t, uint64(1), m.Transitions(ctx))
	require.Len(t, l.states, 2)
	require.Equal(t, LevelModerate, l.states[1].Level)
	require.Equal(t, 3, l.states[1].RecommendedThreads)
}

func TestMonitorIntermediateUsageResetsTimers(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMonitor(NewStaticSampler(0), testConfig(), clk)

	for i := 0; i < 3; i++ {
		feed(ctx, m, clk, 95, 8*time.Second)
		clk.Add(time.Second)
		m.Observe(ctx, Sample{CPUUsagePercent: 70})
		clk.Add(time.Second)
	}
	require.Equal(t, LevelNormal, m.CurrentState().Level)
}

func TestMonitorFullCycle(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMonitor(NewStaticSampler(0), testConfig(), clk)
	l := &recordingListener{}
	m.RegisterComponent(ctx, "l", l)

	feed(ctx, m, clk, 95, 20*time.Second)
	require.Equal(t, LevelSevere, m.CurrentState().Level)

	feed(ctx, m, clk, 30, 20*time.Second)
	require.Equal(t, LevelModerate, m.CurrentState().Level)
	clk.Add(time.Second)
	feed(ctx, m, clk, 30, 20*time.Second)
	require.Equal(t, LevelNormal, m.CurrentState().Level)

	var levels []Level
	for _, s := range l.states {
		levels = append(levels, s.Level)
	}
	require.Equal(t, []Level{LevelNormal, LevelModerate, LevelSevere, LevelModerate, LevelNormal}, levels)
	require.Equal(t, uint64(4), m.Transitions(ctx))
}

func TestMonitorSevereGracePeriod(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMonitor(NewStaticSampler(0), testConfig(), clk)

	feed(ctx, m, clk, 95, 20*time.Second)
	require.Equal(t, LevelSevere, m.CurrentState().Level)
	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected error: %v", err)
	default:
	}

	clk.Add(time.Second)
	feed(ctx, m, clk, 95, 40*time.Second)
	require.Equal(t, LevelSevere, m.CurrentState().Level)

	select {
	case err := <-m.Errors():
		require.Equal(t, asrerror.KindThermal, err.Kind)
		require.True(t, err.Recoverable())
	default:
		t.Fatal("expected a thermal error")
	}
	select {
	case err := <-m.Errors():
		t.Fatalf("expected a single thermal error, got another: %v", err)
	default:
	}
}

func TestMonitorUnregister(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMonitor(NewStaticSampler(0), testConfig(), clk)
	l := &recordingListener{}
	m.RegisterComponent(ctx, "l", l)
	m.UnregisterComponent(ctx, "l")

	feed(ctx, m, clk, 95, 10*time.Second)
	require.Equal(t, LevelModerate, m.CurrentState().Level)
	require.Len(t, l.states, 1)
}

func TestMonitorLoop(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	sampler := NewStaticSampler(99)
	m := NewMonitor(sampler, testConfig(), clk)
	require.NoError(t, m.Start(ctx))
	require.Error(t, m.Start(ctx))
	defer m.Stop(ctx)

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return m.CurrentState().Level == LevelModerate
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, float64(99), m.CurrentState().CPUUsagePercent)
}

type blockingListener struct {
	locker  sync.Mutex
	calls   int
	states  []State
	entered chan struct{}
	release chan struct{}
}

func (l *blockingListener) OnThermalStateChange(_ context.Context, s State) {
	l.locker.Lock()
	l.calls++
	first := l.calls == 1
	l.locker.Unlock()
	if first {
		close(l.entered)
		<-l.release
	}
	l.locker.Lock()
	defer l.locker.Unlock()
	l.states = append(l.states, s)
}

func (l *blockingListener) States() []State {
	l.locker.Lock()
	defer l.locker.Unlock()
	return append([]State(nil), l.states...)
}

func TestMonitorRegistrationIsNotOverwrittenByStaleState(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	m := NewMonitor(NewStaticSampler(0), testConfig(), clk)
	l := &blockingListener{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		m.RegisterComponent(ctx, "l", l)
	}()
	<-l.entered

	// the state changes while the registration callback is still running
	observed := make(chan struct{})
	go func() {
		defer close(observed)
		feed(ctx, m, clk, 95, 15*time.Second)
	}()
	require.Eventually(t, func() bool {
		return m.CurrentState().Level == LevelModerate
	}, 5*time.Second, time.Millisecond)

	close(l.release)
	<-registered
	<-observed

	states := l.States()
	require.Len(t, states, 2)
	require.Equal(t, LevelNormal, states[0].Level)
	require.Equal(t, LevelModerate, states[len(states)-1].Level)
}
