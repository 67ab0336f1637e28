package model

import (
	"encoding/json"
	"time"
)

// IndicatorSnapshot carries the derived values computed from the rolling
// candle window of one (instrument, timeframe) after a candle closed.
//
// Values holds one entry per *ready* indicator; an indicator whose
// lookback is not yet filled is simply absent. Downstream rules must
// treat a missing key as "not evaluable", never as zero.
type IndicatorSnapshot struct {
	Symbol    string             `json:"symbol"`
	Exchange  string             `json:"exchange"`
	TF        int                `json:"tf"`
	WindowEnd time.Time          `json:"window_end"`
	Candle    Candle             `json:"candle"` // the closed candle that produced this snapshot
	Values    map[string]float64 `json:"values"`
}

// Key returns the instrument key: "exchange:symbol".
func (s *IndicatorSnapshot) Key() string {
	return s.Exchange + ":" + s.Symbol
}

// Value looks up an indicator by name. ok is false when the indicator
// is unregistered or its lookback is not yet satisfied.
func (s *IndicatorSnapshot) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// JSON returns the JSON-encoded snapshot (ignoring errors for hot-path usage).
func (s *IndicatorSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
