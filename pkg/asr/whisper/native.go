//go:build whispercpp

package whisper

/*
#cgo pkg-config: whisper
#cgo LDFLAGS: -lstdc++ -lm

#include <stdlib.h>
#include <whisper.h>

bool whisperGoAbort(void * user_data);
*/
import "C"

import (
	"context"
	"fmt"
	"runtime/cgo"
	"strings"
	"time"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ambientscribe/pkg/asr"
	"github.com/xaionaro-go/xsync"
)

func NativeAvailable() bool { return true }

// Engine runs whisper.cpp models. Each handle owns its own whisper context,
// whisper_full is not reentrant for a single context.
type Engine struct {
	locker     xsync.Mutex
	nextHandle asr.Handle
	contexts   map[asr.Handle]*C.struct_whisper_context
	Language   string
}

var _ asr.NativeEngine = (*Engine)(nil)

func New() (*Engine, error) {
	return &Engine{
		contexts: map[asr.Handle]*C.struct_whisper_context{},
		Language: "en",
	}, nil
}

func (e *Engine) Initialize(
	ctx context.Context,
	modelPath string,
	threadCount, contextSize int,
) (asr.Handle, error) {
	if modelPath == "" {
		return 0, fmt.Errorf("whisper: model path required for initialization")
	}
	logger.Debugf(ctx, "whisper: initializing model '%s' with %d threads, context size %d", modelPath, threadCount, contextSize)

	cPath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cPath))
	cParams := C.whisper_context_default_params()
	cParams.use_gpu = C.bool(false)

	wctx := C.whisper_init_from_file_with_params(cPath, cParams)
	if wctx == nil {
		return 0, fmt.Errorf("whisper: failed to initialize a context for model '%s'", modelPath)
	}

	return xsync.DoR1(ctx, &e.locker, func() asr.Handle {
		e.nextHandle++
		e.contexts[e.nextHandle] = wctx
		return e.nextHandle
	}), nil
}

func (e *Engine) getContext(ctx context.Context, handle asr.Handle) *C.struct_whisper_context {
	return xsync.DoR1(ctx, &e.locker, func() *C.struct_whisper_context {
		return e.contexts[handle]
	})
}

func (e *Engine) Infer(
	ctx context.Context,
	handle asr.Handle,
	samples []float32,
	threadCount, contextSize int,
) (*asr.NativeResult, error) {
	wctx := e.getContext(ctx, handle)
	if wctx == nil {
		return nil, fmt.Errorf("whisper: inference failed: invalid model handle %d", handle)
	}
	if len(samples) == 0 {
		return &asr.NativeResult{}, nil
	}

	params := C.whisper_full_default_params(C.WHISPER_SAMPLING_GREEDY)
	params.print_progress = C.bool(false)
	params.print_realtime = C.bool(false)
	params.print_timestamps = C.bool(false)
	params.translate = C.bool(false)
	params.no_context = C.bool(true)
	params.token_timestamps = C.bool(true)
	params.n_threads = C.int(threadCount)
	params.audio_ctx = C.int(contextSize)
	cLang := C.CString(e.Language)
	defer C.free(unsafe.Pointer(cLang))
	params.language = cLang

	// the handle is kept in C memory, so params carries no Go pointers
	abortHandle := cgo.NewHandle(ctx)
	defer abortHandle.Delete()
	userData := C.malloc(C.size_t(unsafe.Sizeof(abortHandle)))
	defer C.free(userData)
	*(*cgo.Handle)(userData) = abortHandle
	params.abort_callback = (C.ggml_abort_callback)(C.whisperGoAbort)
	params.abort_callback_user_data = userData

	cSamples := (*C.float)(unsafe.Pointer(&samples[0]))
	if ret := C.whisper_full(wctx, params, cSamples, C.int(len(samples))); ret != 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("whisper: model inference failed with code %d", int(ret))
	}
	return collectResult(wctx), nil
}

//export whisperGoAbort
func whisperGoAbort(userData unsafe.Pointer) C.bool {
	return C.bool(shouldAbort(userData))
}

func collectResult(wctx *C.struct_whisper_context) *asr.NativeResult {
	result := &asr.NativeResult{}
	var texts []string
	nSegments := int(C.whisper_full_n_segments(wctx))
	for seg := 0; seg < nSegments; seg++ {
		texts = append(texts, C.GoString(C.whisper_full_get_segment_text(wctx, C.int(seg))))

		nTokens := int(C.whisper_full_n_tokens(wctx, C.int(seg)))
		tokens := make([]token, 0, nTokens)
		for tok := 0; tok < nTokens; tok++ {
			data := C.whisper_full_get_token_data(wctx, C.int(seg), C.int(tok))
			if int(data.id) >= int(C.whisper_token_eot(wctx)) {
				// special tokens
				continue
			}
			result.LogProbs = append(result.LogProbs, float32(data.plog))
			tokens = append(tokens, token{
				Text:        C.GoString(C.whisper_full_get_token_text(wctx, C.int(seg), C.int(tok))),
				Start:       time.Duration(data.t0) * 10 * time.Millisecond,
				End:         time.Duration(data.t1) * 10 * time.Millisecond,
				Probability: float32(data.p),
			})
		}
		result.Alignments = append(result.Alignments, mergeTokens(tokens)...)
	}
	result.Text = strings.TrimSpace(strings.Join(texts, " "))
	return result
}

func (e *Engine) Release(ctx context.Context, handle asr.Handle) error {
	wctx := xsync.DoR1(ctx, &e.locker, func() *C.struct_whisper_context {
		wctx := e.contexts[handle]
		delete(e.contexts, handle)
		return wctx
	})
	if wctx == nil {
		return fmt.Errorf("whisper: invalid model handle %d", handle)
	}
	C.whisper_free(wctx)
	return nil
}
