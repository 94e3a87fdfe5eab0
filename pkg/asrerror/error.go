package asrerror

import (
	"fmt"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

var _ error = (*Error)(nil)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	if e.Cause == nil || e.Cause.Error() == e.Message {
		return fmt.Sprintf("%s error (code %d): %s", e.Kind, e.Code(), e.Message)
	}
	return fmt.Sprintf("%s error (code %d): %s: %v", e.Kind, e.Code(), e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Code() int {
	return e.Kind.Code()
}

func (e *Error) Recoverable() bool {
	return e.Kind.Recoverable()
}

// Is makes errors.Is match any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

var (
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrThermal        = &Error{Kind: KindThermal}
	ErrDecoder        = &Error{Kind: KindDecoder}
	ErrAudioInput     = &Error{Kind: KindAudioInput}
	ErrPermission     = &Error{Kind: KindPermission}
	ErrResource       = &Error{Kind: KindResource}
	ErrInitialization = &Error{Kind: KindInitialization}
	ErrUnknown        = &Error{Kind: KindUnknown}
)
