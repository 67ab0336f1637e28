package indicator

import "alert-systemv1/internal/model"

// EMA is an exponential moving average over closing prices.
// O(1) per update — no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates an EMA indicator with the given period.
// Smoothing factor: 2/(period+1), seeded with the first close.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / (float64(period) + 1.0),
	}
}

func (e *EMA) Name() string  { return name("ema", e.period) }
func (e *EMA) Lookback() int { return e.period }

func (e *EMA) Update(candle model.Candle) {
	price := candle.Close
	if e.count == 0 {
		e.current = price
	} else {
		e.current = (price-e.current)*e.multiplier + e.current
	}
	e.count++
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
