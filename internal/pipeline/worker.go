// Package pipeline runs one sequential evaluation pipeline per
// instrument: a bounded inbound tick queue feeding aggregation,
// indicator computation, rule evaluation and alert routing in order.
// Sequential-per-instrument means no locking inside the hot path and no
// cross-window races; instruments only share the alert router and the
// storage backends.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"alert-systemv1/internal/aggregator"
	"alert-systemv1/internal/alerts"
	"alert-systemv1/internal/indicator"
	"alert-systemv1/internal/metrics"
	"alert-systemv1/internal/model"
	"alert-systemv1/internal/ringbuf"
	"alert-systemv1/internal/rules"
)

// shutdownGrace bounds how long final persistence may take once the
// run context is cancelled.
const shutdownGrace = 5 * time.Second

// Worker owns the full evaluation chain for a single instrument.
// Everything past the queue runs on one goroutine.
type Worker struct {
	instrument model.Instrument
	tfs        []int

	queue *ringbuf.Ring
	wake  chan struct{}

	agg    *aggregator.Aggregator
	ind    *indicator.Engine
	engine *rules.Engine
	router *alerts.Router

	candles model.CandleStore
	cursors model.CursorStore
	pub     model.CandlePublisher

	met *metrics.Metrics
	log *slog.Logger

	flushEvery   time.Duration
	reloadEvery  time.Duration
	warmupBars   int
	defaultSpecs []indicator.Spec

	cursor      time.Time
	cursorDirty bool

	// resume is the cursor restored at init, frozen there so other
	// goroutines can read it while the worker advances cursor.
	resume time.Time
}

// init loads the rule set, builds the indicator engine the rules need,
// warms it up from stored history and restores the resume cursor.
func (w *Worker) init(ctx context.Context) error {
	if err := w.engine.Load(ctx); err != nil {
		return err
	}

	w.ind = indicator.NewEngine(indicatorConfigs(w.tfs, w.defaultSpecs, w.engine.Rules()))

	for _, tf := range w.tfs {
		hist, err := w.candles.LoadCandleHistory(ctx, w.instrument.Exchange, w.instrument.Symbol, tf, w.warmupBars)
		if err != nil {
			return err
		}
		w.ind.Warmup(hist)
	}

	cur, err := w.cursors.LoadCursor(ctx, w.instrument.Exchange, w.instrument.Symbol)
	if err != nil {
		w.log.Warn("cursor load failed, starting fresh", "err", err)
	} else {
		w.cursor = cur
	}
	w.resume = w.cursor
	return nil
}

// run is the worker loop: drain the queue when woken, close idle
// windows on the flush tick, reload rules periodically, and on
// cancellation drain whatever is left before returning.
func (w *Worker) run(ctx context.Context) {
	flush := time.NewTicker(w.flushEvery)
	defer flush.Stop()
	reload := time.NewTicker(w.reloadEvery)
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return

		case <-w.wake:
			w.drain(ctx)

		case now := <-flush.C:
			w.emit(ctx, w.agg.Flush(now))

		case <-reload.C:
			if err := w.engine.Load(ctx); err != nil {
				// Reload failures are isolated: the previous rule set
				// stays active and other instruments are unaffected.
				w.met.RuleReloadErrors.Inc()
				w.log.Error("rule reload failed", "err", err)
			}
		}
	}
}

// shutdown drains the remaining queue and closes all open windows so no
// in-flight candle is lost. Uses a fresh context since the run context
// is already cancelled.
func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	w.drain(ctx)
	w.emit(ctx, w.agg.FlushAll())
	w.log.Info("pipeline stopped", "instrument", w.instrument.Key())
}

// drain processes every queued tick, then persists the resulting
// candles and the advanced cursor in one batch.
func (w *Worker) drain(ctx context.Context) {
	var batch []model.Candle
	for {
		t, ok := w.queue.Pop()
		if !ok {
			break
		}
		w.met.TicksTotal.Inc()

		closed := w.agg.Ingest(t)
		for _, c := range closed {
			w.onCandle(ctx, c)
		}
		batch = append(batch, closed...)

		if t.TS.After(w.cursor) {
			w.cursor = t.TS
			w.cursorDirty = true
		}
	}
	w.persist(ctx, batch)
}

// emit handles flush-closed candles outside the tick path.
func (w *Worker) emit(ctx context.Context, closed []model.Candle) {
	if len(closed) == 0 {
		return
	}
	for _, c := range closed {
		w.onCandle(ctx, c)
	}
	w.persist(ctx, closed)
}

// onCandle runs one closed candle through indicators, rules and the
// alert router.
func (w *Worker) onCandle(ctx context.Context, c model.Candle) {
	w.met.CandlesTotal.WithLabelValues(strconv.Itoa(c.TF)).Inc()
	if w.pub != nil {
		w.pub.PublishCandle(ctx, c)
	}

	start := time.Now()
	snap, ok := w.ind.Update(c)
	w.met.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	if !ok {
		return
	}
	w.met.SnapshotsTotal.Inc()
	if w.pub != nil {
		w.pub.PublishSnapshot(ctx, snap)
	}

	if c.Corrected {
		// A correction refreshes indicator state and is republished,
		// but the window was already evaluated; re-running the rules
		// against it could contradict an alert that already went out.
		return
	}

	evalStart := time.Now()
	events := w.engine.Evaluate(ctx, snap)
	w.met.RuleEvalDur.Observe(time.Since(evalStart).Seconds())

	for _, ev := range events {
		if w.router.Accept(ctx, ev) && w.pub != nil {
			w.pub.PublishAlert(ctx, ev)
		}
	}
}

// persist writes the candle batch and the resume cursor.
func (w *Worker) persist(ctx context.Context, batch []model.Candle) {
	if len(batch) > 0 {
		start := time.Now()
		if err := w.candles.SaveCandles(ctx, batch); err != nil {
			w.log.Error("candle batch save failed", "err", err, "count", len(batch))
		} else {
			w.met.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		}
	}
	if w.cursorDirty {
		if err := w.cursors.SaveCursor(ctx, w.instrument.Exchange, w.instrument.Symbol, w.cursor); err != nil {
			w.log.Error("cursor save failed", "err", err)
		} else {
			w.cursorDirty = false
			w.met.CursorLag.Set(time.Since(w.cursor).Seconds())
		}
	}
}

// indicatorConfigs derives the per-TF indicator specs from the
// configured defaults plus whatever the loaded rules reference, so
// every rule finds its indicator in the snapshot once warm.
func indicatorConfigs(tfs []int, defaults []indicator.Spec, defs []model.RuleDefinition) []indicator.TFConfig {
	perTF := make(map[int][]indicator.Spec, len(tfs))
	for _, tf := range tfs {
		perTF[tf] = append([]indicator.Spec(nil), defaults...)
	}

	for _, r := range defs {
		specs, ok := perTF[r.TF]
		if !ok {
			continue // rule on a disabled timeframe; skipped at eval too
		}
		switch r.Kind {
		case model.RuleTrend:
			// Trend rules read roc_<lookback>. The ROC indicator's
			// period is the lookback in windows.
			specs = addSpec(specs, indicator.Spec{Type: "roc", Period: r.Lookback})
		case model.RuleVolumeThreshold:
			if s, ok := parseSpec(r.Indicator); ok {
				specs = addSpec(specs, s)
			}
		}
		perTF[r.TF] = specs
	}

	cfgs := make([]indicator.TFConfig, 0, len(tfs))
	for _, tf := range tfs {
		cfgs = append(cfgs, indicator.TFConfig{TF: tf, Specs: perTF[tf]})
	}
	return cfgs
}

// parseSpec turns an indicator name like "sma_20" or "vol_delta_5" back
// into a buildable spec.
func parseSpec(name string) (indicator.Spec, bool) {
	i := len(name) - 1
	for i >= 0 && name[i] != '_' {
		i--
	}
	if i <= 0 {
		return indicator.Spec{}, false
	}
	period, err := strconv.Atoi(name[i+1:])
	if err != nil || period <= 0 {
		return indicator.Spec{}, false
	}
	return indicator.Spec{Type: name[:i], Period: period}, true
}

func addSpec(specs []indicator.Spec, s indicator.Spec) []indicator.Spec {
	for _, have := range specs {
		if have == s {
			return specs
		}
	}
	return append(specs, s)
}
