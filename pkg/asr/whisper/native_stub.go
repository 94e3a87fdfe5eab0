//go:build !whispercpp

package whisper

import (
	"context"
	"errors"

	"github.com/xaionaro-go/ambientscribe/pkg/asr"
)

var ErrNativeEngineUnavailable = errors.New("whisper: built without the 'whispercpp' tag")

func NativeAvailable() bool { return false }

type Engine struct{}

var _ asr.NativeEngine = (*Engine)(nil)

func New() (*Engine, error) {
	return nil, ErrNativeEngineUnavailable
}

func (*Engine) Initialize(context.Context, string, int, int) (asr.Handle, error) {
	return 0, ErrNativeEngineUnavailable
}

func (*Engine) Infer(context.Context, asr.Handle, []float32, int, int) (*asr.NativeResult, error) {
	return nil, ErrNativeEngineUnavailable
}

func (*Engine) Release(context.Context, asr.Handle) error {
	return ErrNativeEngineUnavailable
}
