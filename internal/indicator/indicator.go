// Package indicator computes technical values over a rolling window of
// closed candles: moving averages, rate of change and volume delta.
//
// Indicators are streaming: the engine feeds them closed candles in
// window order and reads a single float value back. An indicator whose
// lookback is not yet filled reports Ready()==false and is omitted from
// snapshots — downstream rules treat the absence as "not evaluable",
// never as zero.
package indicator

import (
	"strconv"

	"alert-systemv1/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the snapshot key, e.g. "sma_20".
	Name() string

	// Lookback returns the number of candles required before the
	// indicator is ready.
	Lookback() int

	// Update feeds the next closed candle.
	Update(candle model.Candle)

	// Value returns the current value. Meaningless until Ready.
	Value() float64

	// Ready reports whether enough candles have been accumulated.
	Ready() bool

	// Reset clears all state so the instance can be rebuilt, e.g. after
	// a late-candle correction.
	Reset()
}

// Spec names one indicator to compute.
type Spec struct {
	Type   string // "sma", "ema", "roc", "vol_delta"
	Period int
}

// Build instantiates the indicator described by the spec. Unknown types
// fall back to SMA, matching how unknown values degrade elsewhere.
func (s Spec) Build() Indicator {
	switch s.Type {
	case "ema":
		return NewEMA(s.Period)
	case "roc":
		return NewROC(s.Period)
	case "vol_delta":
		return NewVolDelta(s.Period)
	default:
		return NewSMA(s.Period)
	}
}

func name(typ string, period int) string {
	return typ + "_" + strconv.Itoa(period)
}
