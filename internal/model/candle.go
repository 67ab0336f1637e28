package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle is an OHLCV summary of one timeframe window for a single
// instrument. Windows are half-open: [Start, Start+TF).
//
// A candle is owned by the aggregator while it is open; once closed it
// is handed downstream by value and addressed by (exchange, symbol, TF,
// Start). A late tick inside the lateness tolerance produces a
// replacement candle for the same key with Corrected=true and a bumped
// Revision.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	Start    time.Time `json:"start"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Ticks    int       `json:"ticks"`

	Corrected bool `json:"corrected,omitempty"`
	Revision  int  `json:"revision,omitempty"`
}

// Key returns the instrument key: "exchange:symbol".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Symbol
}

// End returns the exclusive window end: Start + TF.
func (c *Candle) End() time.Time {
	return c.Start.Add(time.Duration(c.TF) * time.Second)
}

// WindowKey uniquely addresses this candle: "exchange:symbol:tf:start".
func (c *Candle) WindowKey() string {
	return c.Exchange + ":" + c.Symbol + ":" + strconv.Itoa(c.TF) + ":" +
		strconv.FormatInt(c.Start.Unix(), 10)
}

// StreamKey returns the Redis stream for this candle's timeframe.
func (c *Candle) StreamKey() string {
	return "candle:" + strconv.Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Symbol
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
