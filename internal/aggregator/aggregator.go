// Package aggregator buckets timestamped ticks into fixed-size timeframe
// candles. Every enabled timeframe is computed independently from the
// raw tick stream — no timeframe derives from another, so rounding
// error never compounds across resolutions.
//
// Windows are half-open [start, start+tf). A tick that lands before the
// current open window but within the lateness tolerance patches the
// already-closed candle's high/low/volume and re-emits it as a
// correction; anything later is dropped and counted, never treated as
// an error.
package aggregator

import (
	"sync"
	"time"

	"alert-systemv1/internal/model"
)

// bucketState holds the in-progress candle for one (instrument, timeframe).
type bucketState struct {
	start  int64 // Unix second of the window start
	candle model.Candle

	// first/last observed event times inside the window. Open and close
	// follow these rather than arrival order, so ingesting the same
	// ticks in any order that respects the lateness bound produces the
	// same candle.
	firstTS time.Time
	lastTS  time.Time
}

// Aggregator builds OHLCV candles across multiple timeframes from a
// stream of ticks for any number of instruments.
type Aggregator struct {
	mu  sync.Mutex
	tfs []int

	// Per-TF per-instrument state. states[tfIdx][instrumentKey]
	states []map[string]*bucketState

	// Recently closed candles retained for late-tick corrections.
	// closed[tfIdx][instrumentKey][windowStart]
	closed []map[string]map[int64]*model.Candle

	// Highest closed window start per instrument, so a late tick that
	// arrives after an idle flush (no open window left) is routed to
	// the correction path instead of reopening the closed window.
	// lastClosed[tfIdx][instrumentKey]
	lastClosed []map[string]int64

	// LateTolerance bounds how far behind the current open window a
	// tick may land and still be applied retroactively.
	LateTolerance time.Duration

	// Metrics hooks (optional, set externally).
	OnDroppedTick func()
	OnCorrection  func()
}

// New creates an Aggregator for the given timeframes (in seconds).
func New(tfs []int, lateTolerance time.Duration) *Aggregator {
	states := make([]map[string]*bucketState, len(tfs))
	closed := make([]map[string]map[int64]*model.Candle, len(tfs))
	lastClosed := make([]map[string]int64, len(tfs))
	for i := range tfs {
		states[i] = make(map[string]*bucketState, 64)
		closed[i] = make(map[string]map[int64]*model.Candle, 64)
		lastClosed[i] = make(map[string]int64, 64)
	}
	return &Aggregator{
		tfs:           tfs,
		states:        states,
		closed:        closed,
		lastClosed:    lastClosed,
		LateTolerance: lateTolerance,
	}
}

// TFs returns the enabled timeframes.
func (a *Aggregator) TFs() []int {
	return a.tfs
}

// Ingest incorporates a tick and returns zero or more closed candles:
// at most one freshly closed candle per timeframe whose boundary the
// tick crossed, plus any corrections triggered by late ticks.
func (a *Aggregator) Ingest(tick model.Tick) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.Candle
	ts := tick.TS.Unix()
	key := tick.Key()

	for i, tf := range a.tfs {
		tf64 := int64(tf)
		bucket := ts - (ts % tf64)

		st, exists := a.states[i][key]

		if exists && bucket < st.start {
			if c := a.applyLate(i, tf, key, bucket, tick, st.start); c != nil {
				out = append(out, *c)
			}
			continue
		}

		if exists && bucket > st.start {
			out = append(out, a.close(i, key, st))
			exists = false
		}

		if !exists {
			// A flush may have closed the tick's window with nothing
			// left open; route it through the correction path rather
			// than reopening a window that was already emitted.
			if last, ok := a.lastClosed[i][key]; ok && bucket <= last {
				if c := a.applyLate(i, tf, key, bucket, tick, last+tf64); c != nil {
					out = append(out, *c)
				}
				continue
			}
			a.states[i][key] = &bucketState{
				start:   bucket,
				firstTS: tick.TS,
				lastTS:  tick.TS,
				candle: model.Candle{
					Symbol:   tick.Symbol,
					Exchange: tick.Exchange,
					TF:       tf,
					Start:    time.Unix(bucket, 0).UTC(),
					Open:     tick.Price,
					High:     tick.Price,
					Low:      tick.Price,
					Close:    tick.Price,
					Volume:   tick.Volume,
					Ticks:    1,
				},
			}
			continue
		}

		a.merge(st, tick)
	}

	return out
}

// merge folds a tick into an open window.
func (a *Aggregator) merge(st *bucketState, tick model.Tick) {
	c := &st.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	if tick.TS.Before(st.firstTS) {
		c.Open = tick.Price
		st.firstTS = tick.TS
	}
	if !tick.TS.Before(st.lastTS) {
		c.Close = tick.Price
		st.lastTS = tick.TS
	}
	c.Volume += tick.Volume
	c.Ticks++
}

// applyLate patches an already-closed candle with a late tick, provided
// the tick is within the lateness tolerance of the current open window.
// Returns the corrected candle to re-emit, or nil when the tick was
// dropped or only buffered state changed.
func (a *Aggregator) applyLate(tfIdx, tf int, key string, bucket int64, tick model.Tick, openStart int64) *model.Candle {
	lag := time.Duration(openStart-tick.TS.Unix()) * time.Second
	if lag > a.LateTolerance {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return nil
	}

	retained, ok := a.closed[tfIdx][key][bucket]
	if !ok {
		// Window was never closed here (cold start) or already pruned.
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return nil
	}

	// Only high/low/volume move retroactively; the open and close of a
	// closed window are settled.
	if tick.Price > retained.High {
		retained.High = tick.Price
	}
	if tick.Price < retained.Low {
		retained.Low = tick.Price
	}
	retained.Volume += tick.Volume
	retained.Ticks++
	retained.Corrected = true
	retained.Revision++

	if a.OnCorrection != nil {
		a.OnCorrection()
	}
	c := *retained
	return &c
}

// close finalizes an open window, retains it for corrections and prunes
// retained windows that have fallen outside the tolerance.
func (a *Aggregator) close(tfIdx int, key string, st *bucketState) model.Candle {
	c := st.candle
	delete(a.states[tfIdx], key)

	byStart, ok := a.closed[tfIdx][key]
	if !ok {
		byStart = make(map[int64]*model.Candle, 4)
		a.closed[tfIdx][key] = byStart
	}
	kept := c
	byStart[st.start] = &kept
	if last, ok := a.lastClosed[tfIdx][key]; !ok || st.start > last {
		a.lastClosed[tfIdx][key] = st.start
	}

	horizon := st.start - int64(a.LateTolerance/time.Second) - int64(c.TF)
	for start := range byStart {
		if start < horizon {
			delete(byStart, start)
		}
	}
	return c
}

// Flush closes every open window whose exclusive end is at or before
// olderThan. The pipeline calls this on a wall-clock tick so idle
// instruments still emit their candles.
func (a *Aggregator) Flush(olderThan time.Time) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.Candle
	cutoff := olderThan.Unix()
	for i, tf := range a.tfs {
		for key, st := range a.states[i] {
			if st.start+int64(tf) <= cutoff {
				out = append(out, a.close(i, key, st))
			}
		}
	}
	return out
}

// FlushAll closes all open windows regardless of age. Called on shutdown
// so no in-flight candle is lost.
func (a *Aggregator) FlushAll() []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.Candle
	for i := range a.tfs {
		for key, st := range a.states[i] {
			out = append(out, a.close(i, key, st))
		}
	}
	return out
}
