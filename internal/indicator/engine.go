package indicator

import (
	"time"

	"alert-systemv1/internal/model"
)

// TFConfig groups indicator specs for a specific timeframe.
type TFConfig struct {
	TF    int // timeframe in seconds
	Specs []Spec
}

// bank holds the live indicator instances plus the bounded candle
// history for one (instrument, timeframe).
type bank struct {
	indicators []Indicator

	// history retains the last cap closed candles so a correction can
	// rebuild every indicator instead of double-counting the window.
	history []model.Candle
	cap     int
}

// Engine computes indicator snapshots from closed candles across
// multiple timeframes and instruments. Designed for single-goroutine
// usage within one pipeline worker — no locks needed.
type Engine struct {
	configs []TFConfig

	// state[tfIdx][instrumentKey]
	state []map[string]*bank
}

// NewEngine creates an indicator engine with the given per-TF specs.
func NewEngine(configs []TFConfig) *Engine {
	state := make([]map[string]*bank, len(configs))
	for i := range state {
		state[i] = make(map[string]*bank, 64)
	}
	return &Engine{
		configs: configs,
		state:   state,
	}
}

// Update appends a closed candle to the instrument's rolling history
// and returns the resulting snapshot. A correction — same window start
// as the last applied candle — replaces that entry and rebuilds the
// indicator bank from history.
//
// ok is false when the candle's timeframe has no configured indicators.
func (e *Engine) Update(c model.Candle) (model.IndicatorSnapshot, bool) {
	tfIdx := e.tfIndex(c.TF)
	if tfIdx == -1 {
		return model.IndicatorSnapshot{}, false
	}

	key := c.Key()
	b, exists := e.state[tfIdx][key]
	if !exists {
		b = e.newBank(tfIdx)
		e.state[tfIdx][key] = b
	}

	if n := len(b.history); n > 0 && !c.Start.After(b.history[n-1].Start) {
		// Correction for a window already applied: replace in place and
		// rebuild. A correction for a window that fell out of the
		// retained history is ignored — its influence is gone anyway.
		if i := b.find(c.Start); i >= 0 {
			b.history[i] = c
			b.rebuild()
		} else {
			return model.IndicatorSnapshot{}, false
		}
	} else {
		b.append(c)
		for _, ind := range b.indicators {
			ind.Update(c)
		}
	}

	return e.snapshot(b, c), true
}

// Warmup pre-feeds history on cold start (e.g. from stored candles,
// oldest first) without producing snapshots.
func (e *Engine) Warmup(candles []model.Candle) {
	for _, c := range candles {
		e.Update(c)
	}
}

// snapshot collects values from all ready indicators.
func (e *Engine) snapshot(b *bank, c model.Candle) model.IndicatorSnapshot {
	values := make(map[string]float64, len(b.indicators))
	for _, ind := range b.indicators {
		if ind.Ready() {
			values[ind.Name()] = ind.Value()
		}
	}
	return model.IndicatorSnapshot{
		Symbol:    c.Symbol,
		Exchange:  c.Exchange,
		TF:        c.TF,
		WindowEnd: c.End(),
		Candle:    c,
		Values:    values,
	}
}

func (e *Engine) tfIndex(tf int) int {
	for i, cfg := range e.configs {
		if cfg.TF == tf {
			return i
		}
	}
	return -1
}

// newBank instantiates fresh indicators for a TF config. History
// capacity is the max lookback any spec requires.
func (e *Engine) newBank(tfIdx int) *bank {
	cfg := e.configs[tfIdx]
	inds := make([]Indicator, len(cfg.Specs))
	maxLookback := 1
	for i, s := range cfg.Specs {
		inds[i] = s.Build()
		if lb := inds[i].Lookback(); lb > maxLookback {
			maxLookback = lb
		}
	}
	return &bank{
		indicators: inds,
		history:    make([]model.Candle, 0, maxLookback),
		cap:        maxLookback,
	}
}

// find returns the history index of the window starting at start, or -1.
func (b *bank) find(start time.Time) int {
	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].Start.Equal(start) {
			return i
		}
	}
	return -1
}

func (b *bank) append(c model.Candle) {
	if len(b.history) == b.cap {
		copy(b.history, b.history[1:])
		b.history[len(b.history)-1] = c
		return
	}
	b.history = append(b.history, c)
}

// rebuild resets every indicator and replays the retained history.
func (b *bank) rebuild() {
	for _, ind := range b.indicators {
		ind.Reset()
	}
	for _, c := range b.history {
		for _, ind := range b.indicators {
			ind.Update(c)
		}
	}
}
