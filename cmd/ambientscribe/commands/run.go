package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/ambientscribe/pkg/asr"
	"github.com/xaionaro-go/ambientscribe/pkg/asr/whisper"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
	"github.com/xaionaro-go/ambientscribe/pkg/audio/backends/pulseaudio"
	"github.com/xaionaro-go/ambientscribe/pkg/audio/capture"
	"github.com/xaionaro-go/ambientscribe/pkg/audio/resampler"
	"github.com/xaionaro-go/ambientscribe/pkg/audit"
	"github.com/xaionaro-go/ambientscribe/pkg/config"
	"github.com/xaionaro-go/ambientscribe/pkg/diarization"
	"github.com/xaionaro-go/ambientscribe/pkg/ephemeral"
	"github.com/xaionaro-go/ambientscribe/pkg/kvstore"
	"github.com/xaionaro-go/ambientscribe/pkg/logwriter"
	"github.com/xaionaro-go/ambientscribe/pkg/observability"
	"github.com/xaionaro-go/ambientscribe/pkg/performance"
	"github.com/xaionaro-go/ambientscribe/pkg/pipeline"
	"github.com/xaionaro-go/ambientscribe/pkg/thermal"
)

const componentIDPerformance = "performance"

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if v, _ := flags.GetString("input"); v != "" {
		cfg.Audio.Input = config.InputType(v)
	}
	if v, _ := flags.GetString("model"); v != "" {
		cfg.ASR.ModelPath = v
	}
	if v, _ := flags.GetString("device-tier"); v != "" {
		cfg.Performance.DeviceTier = v
	}
	if v, _ := flags.GetString("metrics-listen-addr"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	switch cfg.Audio.Input {
	case config.InputTypePulse, config.InputTypeSynthetic:
		return nil
	default:
		return fmt.Errorf("unknown audio input '%s'", cfg.Audio.Input)
	}
}

// session holds everything a transcription run needs, in the order it has
// to be torn down.
type session struct {
	AuditBus       *audit.Bus
	Transcripts    *ephemeral.Manager
	ThermalMonitor *thermal.Monitor
	Performance    *performance.Controller
	Pipeline       *pipeline.Pipeline
}

func openTranscripts(
	ctx context.Context,
	cfg config.Config,
) (*audit.Bus, *ephemeral.Manager, error) {
	statePath, err := cfg.StatePath()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to expand the state path '%s': %w", cfg.Ephemeral.StatePath, err)
	}

	auditBus, err := audit.NewBus(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to initialize the audit bus: %w", err)
	}
	auditBus.Subscribe(ctx, audit.NewGuard(audit.NewLoggerSink()))
	if cfg.Audit.Kafka.IsEnabled() {
		kafkaSink, err := audit.NewKafkaSink(cfg.Audit.Kafka, nil)
		if err != nil {
			auditBus.Close(ctx)
			return nil, nil, fmt.Errorf("unable to initialize the Kafka audit sink: %w", err)
		}
		unsubscribe := auditBus.Subscribe(ctx, audit.NewGuard(kafkaSink))
		auditBus.OnClose(func() {
			unsubscribe()
			if err := kafkaSink.Close(); err != nil {
				logger.Errorf(ctx, "unable to close the Kafka audit sink: %v", err)
			}
		})
	}

	transcripts, err := ephemeral.New(ctx, kvstore.NewFile(statePath), auditBus, ephemeral.Options{
		PurgeMarkerKey: cfg.Ephemeral.PurgeMarkerKey,
	})
	if err != nil {
		auditBus.Close(ctx)
		return nil, nil, fmt.Errorf("unable to initialize the transcript manager: %w", err)
	}
	currentSession.manager.Store(transcripts)
	return auditBus, transcripts, nil
}

func newNativeEngine(ctx context.Context) (asr.NativeEngine, error) {
	if !whisper.NativeAvailable() {
		logger.Warnf(ctx, "built without whisper.cpp, using the energy-based stub recognizer")
		return asr.NewStubEngine(), nil
	}
	return whisper.New()
}

func newSource(cfg config.Config) audio.Source {
	switch cfg.Audio.Input {
	case config.InputTypeSynthetic:
		src := audio.NewSyntheticSource(
			audio.Silence(2*time.Second),
			audio.Tone(4*time.Second, 0.3, 220),
			audio.Silence(2*time.Second),
			audio.Tone(4*time.Second, 0.3, 330),
			audio.Silence(2*time.Second),
		)
		src.Paced = true
		return src
	default:
		return pulseaudio.NewSource()
	}
}

func newSession(
	ctx context.Context,
	cfg config.Config,
) (_ret *session, _err error) {
	s := &session{}
	defer func() {
		if _err != nil {
			s.close(ctx)
		}
	}()

	var err error
	s.AuditBus, s.Transcripts, err = openTranscripts(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tier, err := performance.ParseDeviceTier(cfg.Performance.DeviceTier)
	if err != nil {
		return nil, err
	}
	if tier == performance.DeviceTierUndefined {
		tier = performance.DetectDeviceTier(ctx)
	}
	s.Performance = performance.NewController(tier)

	s.ThermalMonitor = thermal.NewMonitor(thermal.GopsutilSampler{}, cfg.ThermalConfig(), nil)
	s.ThermalMonitor.RegisterComponent(ctx, componentIDPerformance, s.Performance)
	if err := s.ThermalMonitor.Start(ctx); err != nil {
		return nil, fmt.Errorf("unable to start the thermal monitor: %w", err)
	}

	native, err := newNativeEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the native ASR engine: %w", err)
	}
	asrCfg, err := cfg.ASRConfig()
	if err != nil {
		return nil, err
	}
	engine, err := asr.New(native, s.Performance, asrCfg, nil)
	if err != nil {
		return nil, err
	}

	audioCapture := capture.New(newSource(cfg), cfg.CaptureOptions())
	var rs *resampler.Resampler
	if audioCapture.SampleRate() != asrCfg.SampleRate {
		rs, err = resampler.NewResampler(audioCapture.SampleRate(), asrCfg.SampleRate)
		if err != nil {
			return nil, err
		}
	}

	s.Pipeline, err = pipeline.New(
		audioCapture,
		rs,
		engine,
		diarization.New(cfg.DiarizationConfig(), nil),
		s.Transcripts,
		s.ThermalMonitor,
		cfg.PipelineConfig(),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the pipeline: %w", err)
	}
	return s, nil
}

func (s *session) close(ctx context.Context) error {
	var mErr *multierror.Error
	if s.Pipeline != nil {
		if err := s.Pipeline.Stop(ctx); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to stop the pipeline: %w", err))
		}
	}
	if s.ThermalMonitor != nil {
		s.ThermalMonitor.UnregisterComponent(ctx, componentIDPerformance)
		s.ThermalMonitor.Stop(ctx)
	}
	if s.Transcripts != nil && s.Transcripts.IsActive(ctx) {
		if err := s.Transcripts.EndEphemeralSession(ctx); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to end the ephemeral session: %w", err))
		}
	}
	if s.AuditBus != nil {
		if err := s.AuditBus.Close(ctx); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close the audit bus: %w", err))
		}
	}
	return mErr.ErrorOrNil()
}

func serveMetrics(ctx context.Context, listenAddr string) {
	if listenAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:     listenAddr,
		Handler:  promhttp.Handler(),
		ErrorLog: log.New(logwriter.New(ctx, logger.LevelWarning), "", 0),
	}
	observability.Go(ctx, func() {
		<-ctx.Done()
		srv.Close()
	})
	observability.Go(ctx, func() {
		logger.Infof(ctx, "serving the metrics at '%s'", listenAddr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf(ctx, "unable to serve the metrics at '%s': %v", listenAddr, err)
		}
	})
}

func run(cmd *cobra.Command, args []string) (_err error) {
	ctx := cmd.Context()
	logger.Debugf(ctx, "run")
	defer func() { logger.Debugf(ctx, "/run: %v", _err) }()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFn()
	if duration, _ := cmd.Flags().GetDuration("duration"); duration > 0 {
		var timeoutCancelFn context.CancelFunc
		ctx, timeoutCancelFn = context.WithTimeout(ctx, duration)
		defer timeoutCancelFn()
	}

	serveMetrics(ctx, cfg.Metrics.ListenAddr)

	s, err := newSession(ctx, *cfg)
	if err != nil {
		return err
	}
	// the session has to be torn down even after ctx is cancelled
	closeCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := s.close(closeCtx); err != nil {
			_err = multierror.Append(_err, err).ErrorOrNil()
		}
	}()

	if err := s.Pipeline.Initialize(ctx); err != nil {
		return fmt.Errorf("unable to initialize: %w", err)
	}
	if err := s.Pipeline.Start(ctx); err != nil {
		return fmt.Errorf("unable to start: %w", err)
	}

	printTranscript(ctx, cmd.OutOrStdout(), s.Pipeline)
	return nil
}

func printTranscript(
	ctx context.Context,
	out io.Writer,
	p *pipeline.Pipeline,
) {
	results := p.Results(ctx)
	errorsCh := p.Errors(ctx)
	diarizationCh := p.Diarization(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			fmt.Fprintf(out, "[%s] %s (%s, %.2f): %s\n", formatOffset(r.Offset), r.Speaker.Label(), r.Level, r.Confidence, r.Text)
		case d, ok := <-diarizationCh:
			if !ok {
				diarizationCh = nil
				continue
			}
			logger.Tracef(ctx, "diarization: %#+v", d)
		case asrErr, ok := <-errorsCh:
			if !ok {
				errorsCh = nil
				continue
			}
			logger.Errorf(ctx, "pipeline error (code %d, recoverable: %t): %v", asrErr.Code(), asrErr.Recoverable(), asrErr)
		}
	}
}
