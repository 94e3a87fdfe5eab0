package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Clock = clock.Clock
type Mock = clock.Mock
type Ticker = clock.Ticker
type Timer = clock.Timer

var globalClock Clock = clock.New()

func Get() Clock {
	return globalClock
}

func Set(clk Clock) {
	globalClock = clk
}

func New() Clock {
	return clock.New()
}

// NewMock returns a mock clock set to a non-zero wall time, so that
// zero-valued timestamps are distinguishable from "now".
func NewMock() *Mock {
	m := clock.NewMock()
	m.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return m
}

func OrDefault(clk Clock) Clock {
	if clk == nil {
		return Get()
	}
	return clk
}
