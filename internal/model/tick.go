package model

import "time"

// Tick represents a single market data tick delivered by a connector.
// Ticks may arrive late or out of order within the aggregator's
// configured lateness tolerance.
type Tick struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Price    float64   `json:"price"`
	Volume   float64   `json:"volume"`
	TS       time.Time `json:"ts"` // event time, UTC
}

// Key returns the instrument key for this tick: "exchange:symbol".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.Symbol
}

// Instrument identifies a tradable instrument on an exchange.
type Instrument struct {
	Exchange string
	Symbol   string
}

// Key returns the canonical instrument key: "exchange:symbol".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Symbol
}
