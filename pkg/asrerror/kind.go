package asrerror

import (
	"fmt"
)

type Kind uint

const (
	KindUndefined = Kind(iota)
	KindNetwork
	KindThermal
	KindDecoder
	KindAudioInput
	KindPermission
	KindResource
	KindInitialization
	KindUnknown
	EndOfKind
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "<undefined>"
	case KindNetwork:
		return "network"
	case KindThermal:
		return "thermal"
	case KindDecoder:
		return "decoder"
	case KindAudioInput:
		return "audio_input"
	case KindPermission:
		return "permission"
	case KindResource:
		return "resource"
	case KindInitialization:
		return "initialization"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(k))
	}
}

// Code is stable across releases; consumers may persist it.
func (k Kind) Code() int {
	switch k {
	case KindNetwork:
		return 1001
	case KindThermal:
		return 1002
	case KindDecoder:
		return 1003
	case KindAudioInput:
		return 1004
	case KindPermission:
		return 1005
	case KindResource:
		return 1006
	case KindInitialization:
		return 1007
	default:
		return 1999
	}
}

func (k Kind) Recoverable() bool {
	switch k {
	case KindNetwork, KindThermal, KindAudioInput:
		return true
	default:
		return false
	}
}
