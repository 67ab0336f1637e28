package feed

import (
	"context"
	"math/rand"
	"time"

	"alert-systemv1/internal/model"
)

// SimConfig configures the synthetic tick source.
type SimConfig struct {
	Instruments []model.Instrument
	BasePrice   float64       // starting price per instrument
	Interval    time.Duration // gap between tick rounds
}

// Simulator emits a random-walk tick per instrument per interval. It
// exists so the engine can run end to end without a connector or Redis
// tick stream.
type Simulator struct {
	cfg    SimConfig
	prices []float64
	rng    *rand.Rand
}

// NewSimulator seeds a deterministic random walk.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	prices := make([]float64, len(cfg.Instruments))
	for i := range prices {
		prices[i] = cfg.BasePrice
	}
	return &Simulator{
		cfg:    cfg,
		prices: prices,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks emitting ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, emit func(model.Tick)) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for i, inst := range s.cfg.Instruments {
				s.prices[i] *= 1 + (s.rng.Float64()-0.5)*0.002
				emit(model.Tick{
					Symbol:   inst.Symbol,
					Exchange: inst.Exchange,
					Price:    s.prices[i],
					Volume:   float64(1 + s.rng.Intn(100)),
					TS:       now.UTC(),
				})
			}
		}
	}
}
