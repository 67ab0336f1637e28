package indicator

import "alert-systemv1/internal/model"

// VolDelta is the difference between the current candle's volume and
// the mean volume of the preceding period candles. Positive values mean
// volume above its recent baseline.
type VolDelta struct {
	period  int
	buf     []float64 // circular, holds period+1 volumes
	idx     int
	count   int
	sum     float64 // running sum over the buffer
	current float64
}

// NewVolDelta creates a volume-delta indicator with the given baseline period.
func NewVolDelta(period int) *VolDelta {
	return &VolDelta{
		period: period,
		buf:    make([]float64, period+1),
	}
}

func (v *VolDelta) Name() string  { return name("vol_delta", v.period) }
func (v *VolDelta) Lookback() int { return v.period + 1 }

func (v *VolDelta) Update(candle model.Candle) {
	if v.count >= len(v.buf) {
		v.sum -= v.buf[v.idx]
	}
	v.buf[v.idx] = candle.Volume
	v.sum += candle.Volume
	v.idx = (v.idx + 1) % len(v.buf)
	v.count++

	if v.count > v.period {
		baseline := (v.sum - candle.Volume) / float64(v.period)
		v.current = candle.Volume - baseline
	}
}

func (v *VolDelta) Value() float64 { return v.current }
func (v *VolDelta) Ready() bool    { return v.count > v.period }

func (v *VolDelta) Reset() {
	v.idx = 0
	v.count = 0
	v.sum = 0
	v.current = 0
	for i := range v.buf {
		v.buf[i] = 0
	}
}
