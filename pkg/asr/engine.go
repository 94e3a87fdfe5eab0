package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/metrics"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/iancoleman/strcase"
	"github.com/xaionaro-go/ambientscribe/pkg/asrerror"
	"github.com/xaionaro-go/ambientscribe/pkg/audio"
	"github.com/xaionaro-go/ambientscribe/pkg/clock"
	"github.com/xaionaro-go/ambientscribe/pkg/performance"
	"github.com/xaionaro-go/ambientscribe/pkg/ringbuffer"
	"github.com/xaionaro-go/ambientscribe/pkg/xstring"
	"github.com/xaionaro-go/xsync"
)

var (
	ErrNotInitialized = errors.New("the ASR engine is not initialized")
)

type State uint32

const (
	StateIdle = State(iota)
	StateAccumulating
	StateInferring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateInferring:
		return "INFERRING"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint32(s))
	}
}

type ParametersProvider interface {
	Parameters() performance.Parameters
}

type Config struct {
	ModelPath  string
	SampleRate audio.SampleRate
	Window     time.Duration
	Overlap    time.Duration

	// MaxBuffered bounds how much audio may pile up while an inference is
	// in flight; the oldest audio is dropped beyond it.
	MaxBuffered time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:  audio.SampleRateModel,
		Window:      3000 * time.Millisecond,
		Overlap:     500 * time.Millisecond,
		MaxBuffered: 30 * time.Second,
	}
}

func (cfg Config) validate() error {
	if cfg.SampleRate == 0 {
		return fmt.Errorf("sample rate is not set")
	}
	if cfg.Window <= 0 {
		return fmt.Errorf("window duration must be positive, got %v", cfg.Window)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Window {
		return fmt.Errorf("overlap must be in [0, %v), got %v", cfg.Window, cfg.Overlap)
	}
	if cfg.MaxBuffered < cfg.Window {
		return fmt.Errorf("max buffered audio (%v) must be at least the window (%v)", cfg.MaxBuffered, cfg.Window)
	}
	return nil
}

// Engine cuts the incoming audio into overlapping windows and runs them
// through the native model, one at a time.
type Engine struct {
	locker xsync.Mutex

	native NativeEngine
	params ParametersProvider
	config Config
	clock  clock.Clock

	windowSamples  uint
	overlapSamples uint
	buffer         *ringbuffer.RingBuffer[int16]

	inFlight atomic.Bool
	state    atomic.Uint32

	handle            Handle
	isInitialized     bool
	consumedSamples   uint64
	prevWindowHadText bool
	transcript        []string
}

func New(
	native NativeEngine,
	params ParametersProvider,
	cfg Config,
	clk clock.Clock,
) (*Engine, error) {
	defaults := DefaultConfig()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.Window == 0 {
		cfg.Window = defaults.Window
	}
	if cfg.MaxBuffered == 0 {
		cfg.MaxBuffered = max(defaults.MaxBuffered, cfg.Window)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid ASR engine config: %w", err)
	}
	return &Engine{
		native:         native,
		params:         params,
		config:         cfg,
		clock:          clock.OrDefault(clk),
		windowSamples:  cfg.SampleRate.SamplesIn(cfg.Window),
		overlapSamples: cfg.SampleRate.SamplesIn(cfg.Overlap),
		buffer:         ringbuffer.New[int16](cfg.SampleRate.SamplesIn(cfg.MaxBuffered)),
	}, nil
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(uint32(s))
}

func (e *Engine) Initialize(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &e.locker, e.initializeLocked, ctx)
}

func (e *Engine) initializeLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "initializeLocked")
	defer func() { logger.Debugf(ctx, "/initializeLocked: %v", _err) }()
	if e.isInitialized {
		return nil
	}

	params := e.params.Parameters()
	handle, err := e.native.Initialize(ctx, e.config.ModelPath, params.ThreadCount, params.ContextSize)
	if err != nil {
		var asrErr *asrerror.Error
		if errors.As(err, &asrErr) {
			return asrErr
		}
		return asrerror.Wrap(asrerror.KindInitialization, err, "unable to initialize the model '%s'", e.config.ModelPath)
	}
	if handle == 0 {
		return asrerror.New(asrerror.KindInitialization, "the native engine returned an invalid handle for model '%s'", e.config.ModelPath)
	}

	e.handle = handle
	e.isInitialized = true
	e.consumedSamples = 0
	e.prevWindowHadText = false
	e.transcript = e.transcript[:0]
	e.setState(StateIdle)
	return nil
}

func (e *Engine) IsInitialized(ctx context.Context) bool {
	return xsync.DoR1(ctx, &e.locker, func() bool {
		return e.isInitialized
	})
}

// AddSamples never blocks on an inference in flight.
func (e *Engine) AddSamples(ctx context.Context, samples []int16) {
	if len(samples) == 0 {
		return
	}
	if dropped := e.buffer.Write(ctx, samples...); dropped > 0 {
		logger.Warnf(ctx, "the ASR buffer is full, dropped the oldest %v of audio", e.config.SampleRate.Duration(dropped))
	}
	e.state.CompareAndSwap(uint32(StateIdle), uint32(StateAccumulating))
}

func (e *Engine) BufferedSamples(ctx context.Context) uint {
	return e.buffer.Len(ctx)
}

func (e *Engine) WindowSamples() uint {
	return e.windowSamples
}

func (e *Engine) OverlapSamples() uint {
	return e.overlapSamples
}

// ClearBuffer drops all pending (not yet inferred) audio.
func (e *Engine) ClearBuffer(ctx context.Context) {
	e.buffer.Clear(ctx)
}

// TryInfer runs one window through the model. It returns (nil, nil) if
// there is nothing to do: an inference is already in flight, not enough
// audio is buffered, or the window produced no text.
func (e *Engine) TryInfer(ctx context.Context) (*TranscriptionResult, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer e.inFlight.Store(false)

	handle, isInitialized := xsync.DoR2(ctx, &e.locker, func() (Handle, bool) {
		return e.handle, e.isInitialized
	})
	if !isInitialized {
		return nil, asrerror.Wrap(asrerror.KindInitialization, ErrNotInitialized, "unable to run the inference")
	}

	advance := e.windowSamples - e.overlapSamples
	window := e.buffer.PeekAndDiscard(ctx, e.windowSamples, advance)
	if window == nil {
		return nil, nil
	}

	e.setState(StateInferring)
	defer e.setState(StateAccumulating)

	windowOffsetSamples := e.consumedSamples
	e.consumedSamples += uint64(advance)
	offset := e.config.SampleRate.Duration(uint(windowOffsetSamples))

	params := e.params.Parameters()
	logger.Tracef(ctx, "inferring a window at %v with %#+v", offset, params)
	metrics.FromCtx(ctx).Count("asr_windows_total").Add(1)
	startedAt := e.clock.Now()
	nativeResult, err := e.native.Infer(ctx, handle, audio.ToFloat32(window), params.ThreadCount, params.ContextSize)
	if err == nil && nativeResult == nil {
		err = asrerror.New(asrerror.KindDecoder, "the native engine returned no result")
	}
	if err != nil {
		e.prevWindowHadText = false
		asrErr := asrerror.Classify(err)
		metrics.FromCtx(ctx).Count("asr_inference_failures_" + asrErr.Kind.String()).Add(1)
		return nil, asrErr
	}
	logger.Tracef(ctx, "the window at %v is inferred in %v", offset, e.clock.Since(startedAt))

	result := e.buildResult(nativeResult, offset)
	e.prevWindowHadText = result != nil
	if result == nil {
		return nil, nil
	}

	e.locker.Do(ctx, func() {
		e.transcript = append(e.transcript, result.Text)
	})
	metrics.FromCtx(ctx).Count("asr_results_" + strcase.ToSnake(result.Level.String())).Add(1)
	return result, nil
}

func (e *Engine) buildResult(
	nativeResult *NativeResult,
	offset time.Duration,
) *TranscriptionResult {
	text := xstring.StripSymbols(nativeResult.Text)
	if text == "" {
		return nil
	}

	alignments := nativeResult.Alignments
	if e.prevWindowHadText {
		text, alignments = trimOverlap(text, alignments, e.config.Overlap)
		if text == "" {
			return nil
		}
	}

	words := make([]WordTimestamp, 0, len(alignments))
	for _, a := range alignments {
		word := xstring.StripSymbols(a.Word)
		if word == "" {
			continue
		}
		words = append(words, WordTimestamp{
			Word:       word,
			Start:      offset + a.Start,
			End:        offset + a.End,
			Confidence: a.Confidence,
		})
	}

	confidence := ConfidenceFromLogProbs(nativeResult.LogProbs)
	return &TranscriptionResult{
		Text:       text,
		Confidence: confidence,
		Level:      LevelOf(confidence),
		Timestamp:  e.clock.Now(),
		Offset:     offset,
		Words:      words,
	}
}

// trimOverlap drops the words that start inside the overlap (the previous
// window has already emitted them) and cuts the same words off the front
// of the text. If the dropped words are not found in the text in order,
// the text and the alignments are returned intact.
func trimOverlap(
	text string,
	alignments []WordAlignment,
	overlap time.Duration,
) (string, []WordAlignment) {
	dropped := 0
	for dropped < len(alignments) && alignments[dropped].Start < overlap {
		dropped++
	}
	if dropped == 0 {
		return text, alignments
	}

	cursor := 0
	for _, a := range alignments[:dropped] {
		word := xstring.StripSymbols(a.Word)
		if word == "" {
			continue
		}
		idx := indexWord(text[cursor:], word)
		if idx < 0 {
			return text, alignments
		}
		cursor += idx + len(word)
	}
	return strings.TrimSpace(text[cursor:]), alignments[dropped:]
}

// indexWord is strings.Index restricted to matches at a word start.
func indexWord(s, word string) int {
	for offset := 0; offset < len(s); {
		idx := strings.Index(s[offset:], word)
		if idx < 0 {
			return -1
		}
		idx += offset
		if idx == 0 || s[idx-1] == ' ' {
			return idx
		}
		offset = idx + 1
	}
	return -1
}

// Transcript returns the space-joined text of all the results so far.
func (e *Engine) Transcript(ctx context.Context) string {
	return xsync.DoR1(ctx, &e.locker, func() string {
		return strings.Join(e.transcript, " ")
	})
}

// Release frees the native model. The caller must make sure no TryInfer
// is running.
func (e *Engine) Release(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &e.locker, e.releaseLocked, ctx)
}

func (e *Engine) releaseLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "releaseLocked")
	defer func() { logger.Debugf(ctx, "/releaseLocked: %v", _err) }()
	if !e.isInitialized {
		return nil
	}
	handle := e.handle
	e.handle = 0
	e.isInitialized = false
	e.transcript = nil
	e.buffer.Clear(ctx)
	e.setState(StateIdle)
	if err := e.native.Release(ctx, handle); err != nil {
		return fmt.Errorf("unable to release the native model handle %d: %w", handle, err)
	}
	return nil
}
