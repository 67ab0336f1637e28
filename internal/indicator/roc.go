package indicator

import "alert-systemv1/internal/model"

// ROC is the percentage rate of change of the close over the last
// period candles: (close_now - close_period_ago) / close_period_ago * 100.
type ROC struct {
	period  int
	buf     []float64 // circular, holds period+1 closes
	idx     int
	count   int
	current float64
}

// NewROC creates a rate-of-change indicator over the given period.
func NewROC(period int) *ROC {
	return &ROC{
		period: period,
		buf:    make([]float64, period+1),
	}
}

func (r *ROC) Name() string  { return name("roc", r.period) }
func (r *ROC) Lookback() int { return r.period + 1 }

func (r *ROC) Update(candle model.Candle) {
	r.buf[r.idx] = candle.Close
	r.idx = (r.idx + 1) % len(r.buf)
	r.count++

	if r.count > r.period {
		// With period+1 slots, idx now points at the oldest close.
		old := r.buf[r.idx]
		if old != 0 {
			r.current = (candle.Close - old) / old * 100.0
		} else {
			r.current = 0
		}
	}
}

func (r *ROC) Value() float64 { return r.current }
func (r *ROC) Ready() bool    { return r.count > r.period }

func (r *ROC) Reset() {
	r.idx = 0
	r.count = 0
	r.current = 0
	for i := range r.buf {
		r.buf[i] = 0
	}
}
