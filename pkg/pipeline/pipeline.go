package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/ambientscribe/pkg/asr"
	"github.com/xaionaro-go/ambientscribe/pkg/asrerror"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
	"github.com/xaionaro-go/ambientscribe/pkg/audio/capture"
	"github.com/xaionaro-go/ambientscribe/pkg/audio/resampler"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/ambientscribe/pkg/diarization"
	"github.com/xaionaro-go/ambientscribe/pkg/ephemeral"
	"github.com/xaionaro-go/ambientscribe/pkg/observability"
	"github.com/xaionaro-go/ambientscribe/pkg/thermal"
	"github.com/xaionaro-go/xsync"
)

var (
	ErrNotInitialized = errors.New("the pipeline is not initialized")
	ErrAlreadyRunning = errors.New("the pipeline is already running")
	ErrNotRunning     = errors.New("the pipeline is not running")
)

// Pipeline connects the microphone, the ASR engine and the diarizer and
// exposes three output streams: results, diarization and errors.
type Pipeline struct {
	Capture        *capture.Capture
	Resampler      *resampler.Resampler
	Engine         *asr.Engine
	Diarizer       *diarization.Diarizer
	Ephemeral      *ephemeral.Manager
	ThermalMonitor *thermal.Monitor

	config Config
	clock  clock.Clock

	locker        xsync.Mutex
	isInitialized bool
	isRunning     bool
	cancelFunc    context.CancelFunc
	wg            sync.WaitGroup

	resultsChan     chan Result
	diarizationChan chan diarization.Result
	errorsChan      chan *asrerror.Error

	audioInputRetried atomic.Bool
	droppedErrors     atomic.Uint64
}

// New builds a pipeline. Resampler may be nil if the capture already
// produces audio at the engine's sample rate; Ephemeral and ThermalMonitor
// are optional.
func New(
	audioCapture *capture.Capture,
	rs *resampler.Resampler,
	engine *asr.Engine,
	diarizer *diarization.Diarizer,
	transcripts *ephemeral.Manager,
	thermalMonitor *thermal.Monitor,
	cfg Config,
) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	inRate := audioCapture.SampleRate()
	engineRate := engine.Config().SampleRate
	switch {
	case rs == nil && inRate != engineRate:
		return nil, fmt.Errorf("the capture rate %d Hz differs from the engine rate %d Hz, but no resampler is given", inRate, engineRate)
	case rs != nil && (rs.InputRate() != inRate || rs.OutputRate() != engineRate):
		return nil, fmt.Errorf("the resampler converts %d->%d Hz, but %d->%d Hz is needed", rs.InputRate(), rs.OutputRate(), inRate, engineRate)
	}
	return &Pipeline{
		Capture:        audioCapture,
		Resampler:      rs,
		Engine:         engine,
		Diarizer:       diarizer,
		Ephemeral:      transcripts,
		ThermalMonitor: thermalMonitor,
		config:         cfg,
		clock:          cfg.Clock,
	}, nil
}

// Initialize loads the model and acquires the microphone. A failure is
// final: the caller must not Start the pipeline.
func (p *Pipeline) Initialize(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &p.locker, p.initializeLocked, ctx)
}

func (p *Pipeline) initializeLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "initializeLocked")
	defer func() { logger.Debugf(ctx, "/initializeLocked: %v", _err) }()

	if p.isInitialized {
		return nil
	}
	if err := p.Engine.Initialize(ctx); err != nil {
		return asrerror.Classify(err)
	}
	if err := p.Capture.Initialize(ctx); err != nil {
		if releaseErr := p.Engine.Release(ctx); releaseErr != nil {
			logger.Errorf(ctx, "unable to release the ASR engine: %v", releaseErr)
		}
		return asrerror.Classify(err)
	}
	p.isInitialized = true
	return nil
}

func (p *Pipeline) IsRunning(ctx context.Context) bool {
	return xsync.DoR1(ctx, &p.locker, func() bool {
		return p.isRunning
	})
}

// Results returns the transcription stream of the current run; it is
// closed by Stop.
func (p *Pipeline) Results(ctx context.Context) <-chan Result {
	return xsync.DoR1(ctx, &p.locker, func() <-chan Result {
		return p.resultsChan
	})
}

// Diarization returns the speaker stream of the current run; it is closed
// by Stop.
func (p *Pipeline) Diarization(ctx context.Context) <-chan diarization.Result {
	return xsync.DoR1(ctx, &p.locker, func() <-chan diarization.Result {
		return p.diarizationChan
	})
}

// Errors returns the error stream of the current run; it is closed by Stop.
func (p *Pipeline) Errors(ctx context.Context) <-chan *asrerror.Error {
	return xsync.DoR1(ctx, &p.locker, func() <-chan *asrerror.Error {
		return p.errorsChan
	})
}

func (p *Pipeline) Start(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &p.locker, p.startLocked, ctx)
}

func (p *Pipeline) startLocked(origCtx context.Context) (_err error) {
	logger.Debugf(origCtx, "startLocked")
	defer func() { logger.Debugf(origCtx, "/startLocked: %v", _err) }()

	if !p.isInitialized {
		return ErrNotInitialized
	}
	if p.isRunning {
		return ErrAlreadyRunning
	}

	if p.Ephemeral != nil && !p.Ephemeral.IsActive(origCtx) {
		if _, err := p.Ephemeral.StartEphemeralSession(origCtx); err != nil {
			return fmt.Errorf("unable to start an ephemeral session: %w", err)
		}
	}

	if err := p.Capture.StartRecording(origCtx); err != nil {
		return asrerror.Classify(err)
	}

	ctx, cancelFn := context.WithCancel(origCtx)
	p.cancelFunc = cancelFn
	p.isRunning = true
	p.audioInputRetried.Store(false)
	p.resultsChan = make(chan Result, p.config.ResultsQueueSize)
	p.diarizationChan = make(chan diarization.Result, p.config.DiarizationQueueSize)
	p.errorsChan = make(chan *asrerror.Error, p.config.ErrorsQueueSize)

	rawResults := make(chan asr.TranscriptionResult, p.config.ResultsQueueSize)
	rawDiarization := make(chan diarization.Result, p.config.DiarizationQueueSize)
	resultsChan, diarizationChan, errorsChan := p.resultsChan, p.diarizationChan, p.errorsChan

	p.goTask(ctx, "audio", func(ctx context.Context) {
		p.audioTask(ctx, rawDiarization, errorsChan)
	})
	p.goTask(ctx, "asr", func(ctx context.Context) {
		p.asrTask(ctx, rawResults, errorsChan)
	})
	p.goTask(ctx, "results", func(ctx context.Context) {
		p.resultsTask(ctx, rawResults, resultsChan)
	})
	p.goTask(ctx, "diarization", func(ctx context.Context) {
		p.diarizationTask(ctx, rawDiarization, diarizationChan)
	})
	return nil
}

func (p *Pipeline) goTask(
	ctx context.Context,
	name string,
	fn func(ctx context.Context),
) {
	p.wg.Add(1)
	observability.Go(ctx, func() {
		defer p.wg.Done()
		logger.Debugf(ctx, "task '%s' started", name)
		defer logger.Debugf(ctx, "task '%s' finished", name)
		fn(ctx)
	})
}

// Stop cancels the tasks, waits for them, releases the model and the
// microphone and closes the output streams. To run again the pipeline
// has to be initialized again.
func (p *Pipeline) Stop(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &p.locker, p.stopLocked, ctx)
}

func (p *Pipeline) stopLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "stopLocked")
	defer func() { logger.Debugf(ctx, "/stopLocked: %v", _err) }()

	if !p.isRunning && !p.isInitialized {
		return ErrNotRunning
	}

	if p.cancelFunc != nil {
		p.cancelFunc()
		p.cancelFunc = nil
	}

	var mErr *multierror.Error
	if err := p.Capture.StopRecording(ctx); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to stop the recording: %w", err))
	}
	p.wg.Wait()

	if err := p.Engine.Release(ctx); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to release the ASR engine: %w", err))
	}
	if err := p.Capture.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to close the audio capture: %w", err))
	}

	if p.isRunning {
		close(p.resultsChan)
		close(p.diarizationChan)
		close(p.errorsChan)
	}
	p.isRunning = false
	p.isInitialized = false
	return mErr.ErrorOrNil()
}

func (p *Pipeline) audioTask(
	ctx context.Context,
	diarizationOut chan<- diarization.Result,
	errorsOut chan<- *asrerror.Error,
) {
	for {
		frames, err := p.Capture.AudioFlow(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.emitError(ctx, errorsOut, asrerror.Wrap(asrerror.KindAudioInput, err, "unable to get the audio flow"))
			}
			return
		}

		p.consumeFrames(ctx, frames, diarizationOut)
		if ctx.Err() != nil {
			return
		}

		flowErr := p.Capture.FlowError(ctx)
		if flowErr == nil {
			logger.Debugf(ctx, "the audio flow has ended")
			return
		}

		asrErr := asrerror.Classify(flowErr)
		p.emitError(ctx, errorsOut, asrErr)
		if asrErr.Kind != asrerror.KindAudioInput || !p.audioInputRetried.CompareAndSwap(false, true) {
			p.haltRecording(ctx, asrErr)
			return
		}
		if err := p.restartRecording(ctx); err != nil {
			if ctx.Err() == nil {
				p.emitError(ctx, errorsOut, asrerror.Classify(err))
			}
			return
		}
	}
}

func (p *Pipeline) consumeFrames(
	ctx context.Context,
	frames <-chan audio.Frame,
	diarizationOut chan<- diarization.Result,
) {
	for {
		var (
			frame audio.Frame
			ok    bool
		)
		select {
		case <-ctx.Done():
			return
		case frame, ok = <-frames:
			if !ok {
				return
			}
		}

		samples := frame.Samples
		if p.Resampler != nil {
			samples = p.Resampler.Resample(ctx, samples)
		}
		p.Engine.AddSamples(ctx, samples)

		r := p.Diarizer.ProcessActivity(ctx, diarization.Activity{
			Timestamp:     frame.Timestamp,
			Energy:        frame.Energy,
			IsVoiceActive: frame.IsVoiceActive,
		})
		select {
		case <-ctx.Done():
			return
		case diarizationOut <- r:
		}
	}
}

func (p *Pipeline) restartRecording(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "restartRecording")
	defer func() { logger.Debugf(ctx, "/restartRecording: %v", _err) }()

	if err := p.Capture.StopRecording(ctx); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		return fmt.Errorf("unable to stop the recording: %w", err)
	}

	t := p.clock.Timer(p.config.AudioInputRestartDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	metrics.FromCtx(ctx).Count("pipeline_audio_restarts").Add(1)
	return p.Capture.StartRecording(ctx)
}

// haltRecording stops the microphone after a failure that requires the
// user to act; the pipeline itself stays up until Stop.
func (p *Pipeline) haltRecording(ctx context.Context, cause *asrerror.Error) {
	logger.Errorf(ctx, "halting the recording due to: %v", cause)
	metrics.FromCtx(ctx).Count("pipeline_recording_halts").Add(1)
	if err := p.Capture.StopRecording(ctx); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		logger.Errorf(ctx, "unable to stop the recording: %v", err)
	}
	p.Engine.ClearBuffer(ctx)
}

func (p *Pipeline) asrTask(
	ctx context.Context,
	resultsOut chan<- asr.TranscriptionResult,
	errorsOut chan<- *asrerror.Error,
) {
	ticker := p.clock.Ticker(p.config.InferenceInterval)
	defer ticker.Stop()

	var thermalErrors <-chan *asrerror.Error
	if p.ThermalMonitor != nil {
		thermalErrors = p.ThermalMonitor.Errors()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-thermalErrors:
			p.emitError(ctx, errorsOut, err)
			continue
		case <-ticker.C:
		}

		result, err := p.Engine.TryInfer(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			asrErr := asrerror.Classify(err)
			p.emitError(ctx, errorsOut, asrErr)
			if !asrErr.Recoverable() {
				p.haltRecording(ctx, asrErr)
			}
			continue
		}
		if result == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case resultsOut <- *result:
		}
	}
}

func (p *Pipeline) resultsTask(
	ctx context.Context,
	in <-chan asr.TranscriptionResult,
	out chan<- Result,
) {
	for {
		var r asr.TranscriptionResult
		select {
		case <-ctx.Done():
			return
		case r = <-in:
		}

		speaker := p.Diarizer.Last(ctx)
		tagged := Result{
			TranscriptionResult: r,
			Speaker:             speaker.SpeakerID,
			IsManuallyAssigned:  speaker.IsManuallyAssigned,
		}
		if p.Ephemeral != nil {
			p.Ephemeral.AddTranscriptSegment(ctx, r.Text, speaker.SpeakerLabel, r.Timestamp)
		}
		logger.Debugf(ctx, "result: %s", tagged)

		select {
		case <-ctx.Done():
			return
		case out <- tagged:
		}
	}
}

func (p *Pipeline) diarizationTask(
	ctx context.Context,
	in <-chan diarization.Result,
	out chan<- diarization.Result,
) {
	for {
		var r diarization.Result
		select {
		case <-ctx.Done():
			return
		case r = <-in:
		}

		select {
		case <-ctx.Done():
			return
		case out <- r:
		}
	}
}

// emitError never blocks: if nobody reads the errors, they are dropped.
func (p *Pipeline) emitError(
	ctx context.Context,
	out chan<- *asrerror.Error,
	err *asrerror.Error,
) {
	if err == nil {
		return
	}
	logger.Warnf(ctx, "pipeline error: %v", err)
	metrics.FromCtx(ctx).Count("pipeline_errors_" + err.Kind.String()).Add(1)
	select {
	case out <- err:
	default:
		p.droppedErrors.Add(1)
		logger.Errorf(ctx, "the errors queue is full, dropped: %v", err)
	}
}

// SwapSpeakerRoles flips DOCTOR and PATIENT; the new assignment is also
// published on the diarization stream if the pipeline is running.
func (p *Pipeline) SwapSpeakerRoles(ctx context.Context) diarization.Result {
	r := p.Diarizer.SwapSpeakerRoles(ctx)
	p.locker.Do(ctx, func() {
		if !p.isRunning {
			return
		}
		select {
		case p.diarizationChan <- r:
		default:
			logger.Warnf(ctx, "the diarization queue is full, the manual swap is not published")
		}
	})
	return r
}

// DeleteLast30Seconds drops the recent audio from the capture buffer, the
// audio not yet inferred and the transcript segments of that period.
func (p *Pipeline) DeleteLast30Seconds(ctx context.Context) {
	logger.Debugf(ctx, "DeleteLast30Seconds")
	p.Capture.DeleteLast30Seconds(ctx)
	p.Engine.ClearBuffer(ctx)
	if p.Ephemeral != nil {
		since := p.clock.Now().Add(-capture.DeleteWindow)
		n := p.Ephemeral.DeleteSegmentsSince(ctx, since)
		logger.Debugf(ctx, "deleted %d transcript segments", n)
	}
}

func (p *Pipeline) VerifyAudioBufferEmpty(ctx context.Context) bool {
	return p.Capture.VerifyBufferEmpty(ctx) && p.Engine.BufferedSamples(ctx) == 0
}

// DroppedErrors returns how many errors were not delivered because the
// errors queue was full.
func (p *Pipeline) DroppedErrors() uint64 {
	return p.droppedErrors.Load()
}
