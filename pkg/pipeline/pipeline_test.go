package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/ambientscribe/pkg/asr"
	"github.com/xaionaro-go/ambientscribe/pkg/asrerror"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
	"github.com/xaionaro-go/ambientscribe/pkg/audio/capture"
	"github.com/xaionaro-go/ambientscribe/pkg/audit"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/ambientscribe/pkg/diarization"
	"github.com/xaionaro-go/ambientscribe/pkg/ephemeral"
	"github.com/xaionaro-go/ambientscribe/pkg/kvstore"
	"github.com/xaionaro-go/ambientscribe/pkg/performance"
	"github.com/xaionaro-go/ambientscribe/pkg/thermal"
)

const (
	waitTimeout = 10 * time.Second
	waitTick    = 5 * time.Millisecond
)

type testEnv struct {
	Pipeline *Pipeline
	Stub     *asr.StubEngine
	Audit    *audit.Recorder
}

func newTestEnv(
	t *testing.T,
	source audio.Source,
	thermalMonitor *thermal.Monitor,
) *testEnv {
	ctx := context.Background()

	stub := asr.NewStubEngine()
	stub.SilenceThreshold = 0.02

	controller := performance.NewController(performance.DeviceTierB)
	engine, err := asr.New(stub, controller, asr.DefaultConfig(), nil)
	require.NoError(t, err)

	rec := audit.NewRecorder()
	transcripts, err := ephemeral.New(ctx, kvstore.NewMemory(), rec, ephemeral.Options{})
	require.NoError(t, err)

	p, err := New(
		capture.New(source, capture.Options{}),
		nil,
		engine,
		diarization.New(diarization.Config{}, nil),
		transcripts,
		thermalMonitor,
		Config{
			InferenceInterval:      5 * time.Millisecond,
			AudioInputRestartDelay: 10 * time.Millisecond,
		},
	)
	require.NoError(t, err)
	return &testEnv{
		Pipeline: p,
		Stub:     stub,
		Audit:    rec,
	}
}

type collector struct {
	locker      sync.Mutex
	results     []Result
	diarization []diarization.Result
	errors      []*asrerror.Error
	wg          sync.WaitGroup
}

func collect(ctx context.Context, p *Pipeline) *collector {
	c := &collector{}
	results, diar, errs := p.Results(ctx), p.Diarization(ctx), p.Errors(ctx)
	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		for r := range results {
			c.locker.Lock()
			c.results = append(c.results, r)
			c.locker.Unlock()
		}
	}()
	go func() {
		defer c.wg.Done()
		for r := range diar {
			c.locker.Lock()
			c.diarization = append(c.diarization, r)
			c.locker.Unlock()
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range errs {
			c.locker.Lock()
			c.errors = append(c.errors, err)
			c.locker.Unlock()
		}
	}()
	return c
}

func (c *collector) Results() []Result {
	c.locker.Lock()
	defer c.locker.Unlock()
	return append([]Result(nil), c.results...)
}

func (c *collector) Diarization() []diarization.Result {
	c.locker.Lock()
	defer c.locker.Unlock()
	return append([]diarization.Result(nil), c.diarization...)
}

func (c *collector) Errors() []*asrerror.Error {
	c.locker.Lock()
	defer c.locker.Unlock()
	return append([]*asrerror.Error(nil), c.errors...)
}

func TestPipelineSilenceThenVoice(t *testing.T) {
	ctx := context.Background()
	source := audio.NewSyntheticSource(
		audio.Silence(6*time.Second),
		audio.Tone(3*time.Second, 0.3, 220),
	)
	env := newTestEnv(t, source, nil)
	p := env.Pipeline

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	c := collect(ctx, p)

	require.Eventually(t, func() bool {
		return len(c.Results()) == 1 && len(c.Diarization()) == 90
	}, waitTimeout, waitTick)
	// the fourth window would need 10.5s of audio
	require.Len(t, env.Stub.Calls(), 3)

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait()

	results := c.Results()
	require.Len(t, results, 1)
	require.Equal(t, asr.StubText, results[0].Text)
	require.Equal(t, 5*time.Second, results[0].Offset)
	require.Equal(t, diarization.SpeakerDoctor, results[0].Speaker)

	diar := c.Diarization()
	start := diar[0].Timestamp
	for idx, r := range diar {
		isVoiced := r.Timestamp.Sub(start) >= 6*time.Second
		require.Equal(t, isVoiced, r.IsVoiceActive, "frame #%d at %v", idx, r.Timestamp.Sub(start))
	}
	require.Empty(t, c.Errors())

	require.Equal(t, 1, p.Ephemeral.SegmentCount(ctx))
	require.Equal(t, "Doctor", p.Ephemeral.Segments(ctx)[0].SpeakerID)
	require.Len(t, env.Audit.EventsOfType(ctx, audit.EventTypeSessionStart), 1)
}

func TestPipelineStopOrder(t *testing.T) {
	ctx := context.Background()
	source := audio.NewSyntheticSource(audio.Tone(4*time.Second, 0.3, 220))
	env := newTestEnv(t, source, nil)
	p := env.Pipeline

	require.ErrorIs(t, p.Start(ctx), ErrNotInitialized)
	require.NoError(t, p.Initialize(ctx))
	require.Equal(t, 1, env.Stub.OpenHandles())
	require.NoError(t, p.Start(ctx))
	require.ErrorIs(t, p.Start(ctx), ErrAlreadyRunning)
	c := collect(ctx, p)

	require.Eventually(t, func() bool {
		return len(c.Results()) >= 1
	}, waitTimeout, waitTick)

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait() // all the streams are closed

	require.False(t, p.IsRunning(ctx))
	require.Equal(t, 1, env.Stub.Releases())
	require.Zero(t, env.Stub.OpenHandles())
	require.False(t, p.Engine.IsInitialized(ctx))
	require.True(t, p.VerifyAudioBufferEmpty(ctx))
	require.ErrorIs(t, p.Start(ctx), ErrNotInitialized)
	require.ErrorIs(t, p.Stop(ctx), ErrNotRunning)

	// the transcript stays available until the session is ended
	require.Equal(t, len(c.Results()), p.Ephemeral.SegmentCount(ctx))
	require.NoError(t, p.Ephemeral.EndEphemeralSession(ctx))
	require.True(t, p.Ephemeral.VerifyBufferEmpty(ctx))

	// a restart requires a new initialization
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Stop(ctx))
	require.Equal(t, 2, env.Stub.Releases())
}

func TestPipelineInitializationFailure(t *testing.T) {
	ctx := context.Background()
	source := audio.NewSyntheticSource(audio.Silence(time.Second))
	source.OpenError = audio.ErrPermissionDenied
	env := newTestEnv(t, source, nil)

	err := env.Pipeline.Initialize(ctx)
	require.Error(t, err)
	var asrErr *asrerror.Error
	require.ErrorAs(t, err, &asrErr)
	require.Equal(t, asrerror.KindPermission, asrErr.Kind)
	require.False(t, asrErr.Recoverable())
	require.Zero(t, env.Stub.OpenHandles())
	require.ErrorIs(t, env.Pipeline.Start(ctx), ErrNotInitialized)
}

func TestPipelineAudioInputIsRetriedOnce(t *testing.T) {
	ctx := context.Background()
	source := audio.NewSyntheticSource(audio.Silence(2 * time.Second))
	source.ReadError = errors.New("the recording device is disconnected")
	source.ReadErrorAfterFrames = 5
	env := newTestEnv(t, source, nil)
	p := env.Pipeline

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	c := collect(ctx, p)

	require.Eventually(t, func() bool {
		return len(c.Diarization()) == 20
	}, waitTimeout, waitTick)

	errs := c.Errors()
	require.Len(t, errs, 1)
	require.Equal(t, asrerror.KindAudioInput, errs[0].Kind)
	require.True(t, errs[0].Recoverable())

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait()
}

type brokenSource struct{}

func (brokenSource) Open(context.Context, audio.SampleRate, uint) error { return nil }
func (brokenSource) ReadFrame(context.Context) ([]int16, error) {
	return nil, errors.New("the microphone is disconnected")
}
func (brokenSource) Close() error { return nil }

func TestPipelineAudioInputSecondFailureHalts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, brokenSource{}, nil)
	p := env.Pipeline

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	c := collect(ctx, p)

	require.Eventually(t, func() bool {
		return len(c.Errors()) == 2 && !p.Capture.IsRecording(ctx)
	}, waitTimeout, waitTick)
	for _, err := range c.Errors() {
		require.Equal(t, asrerror.KindAudioInput, err.Kind)
	}

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait()
	require.Len(t, c.Errors(), 2)
}

func TestPipelinePermissionLossIsNotRetried(t *testing.T) {
	ctx := context.Background()
	source := audio.NewSyntheticSource(audio.Silence(2 * time.Second))
	source.ReadError = fmt.Errorf("read: %w", audio.ErrPermissionDenied)
	source.ReadErrorAfterFrames = 5
	env := newTestEnv(t, source, nil)
	p := env.Pipeline

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	c := collect(ctx, p)

	require.Eventually(t, func() bool {
		return len(c.Errors()) == 1 && !p.Capture.IsRecording(ctx)
	}, waitTimeout, waitTick)
	errs := c.Errors()
	require.Equal(t, asrerror.KindPermission, errs[0].Kind)
	require.False(t, errs[0].Recoverable())

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait()
	require.Len(t, c.Errors(), 1)
}

func TestPipelineDecoderFailureHaltsRecording(t *testing.T) {
	ctx := context.Background()
	source := audio.NewSyntheticSource(audio.Tone(4*time.Second, 0.3, 220))
	env := newTestEnv(t, source, nil)
	env.Stub.FailNextInfer(errors.New("model inference crashed"))
	p := env.Pipeline

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	c := collect(ctx, p)

	require.Eventually(t, func() bool {
		return len(c.Errors()) == 1 && !p.Capture.IsRecording(ctx)
	}, waitTimeout, waitTick)
	errs := c.Errors()
	require.Equal(t, asrerror.KindDecoder, errs[0].Kind)
	require.False(t, errs[0].Recoverable())

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait()
	require.Empty(t, c.Results())
}

func TestPipelineForwardsThermalErrors(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	monitor := thermal.NewMonitor(thermal.NewStaticSampler(0), thermal.Config{
		Interval:          time.Second,
		HighThreshold:     85,
		RecoveryThreshold: 60,
		HighDuration:      10 * time.Second,
		RecoveryDuration:  20 * time.Second,
		SevereGracePeriod: 30 * time.Second,
	}, clk)

	source := audio.NewSyntheticSource(audio.Silence(time.Second))
	env := newTestEnv(t, source, monitor)
	p := env.Pipeline
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	c := collect(ctx, p)

	for i := 0; i < 70; i++ {
		monitor.Observe(ctx, thermal.Sample{CPUUsagePercent: 95})
		clk.Add(time.Second)
	}
	require.Equal(t, thermal.LevelSevere, monitor.CurrentState().Level)

	require.Eventually(t, func() bool {
		return len(c.Errors()) == 1
	}, waitTimeout, waitTick)
	errs := c.Errors()
	require.Equal(t, asrerror.KindThermal, errs[0].Kind)
	require.True(t, errs[0].Recoverable())
	require.True(t, p.Capture.IsRecording(ctx))

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait()
}

func TestPipelineSwapAndDelete(t *testing.T) {
	ctx := context.Background()
	source := audio.NewSyntheticSource(audio.Tone(2*time.Second, 0.3, 220))
	env := newTestEnv(t, source, nil)
	p := env.Pipeline

	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Start(ctx))
	c := collect(ctx, p)

	require.Eventually(t, func() bool {
		return len(c.Diarization()) == 20
	}, waitTimeout, waitTick)
	require.False(t, p.VerifyAudioBufferEmpty(ctx))

	r := p.SwapSpeakerRoles(ctx)
	require.Equal(t, diarization.SpeakerPatient, r.SpeakerID)
	require.True(t, r.IsManuallyAssigned)
	require.Eventually(t, func() bool {
		diar := c.Diarization()
		return len(diar) == 21 && diar[20].IsManuallyAssigned
	}, waitTimeout, waitTick)

	p.DeleteLast30Seconds(ctx)
	require.True(t, p.VerifyAudioBufferEmpty(ctx))

	require.NoError(t, p.Stop(ctx))
	c.wg.Wait()
	require.Empty(t, c.Results())
}
