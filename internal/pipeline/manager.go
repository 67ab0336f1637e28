package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"alert-systemv1/internal/aggregator"
	"alert-systemv1/internal/alerts"
	"alert-systemv1/internal/indicator"
	"alert-systemv1/internal/metrics"
	"alert-systemv1/internal/model"
	"alert-systemv1/internal/ringbuf"
	"alert-systemv1/internal/rules"
)

// Options configure the pipeline manager.
type Options struct {
	Instruments []model.Instrument
	TFs         []int // timeframes in seconds

	LateTolerance  time.Duration
	QueueCapacity  int
	FlushInterval  time.Duration
	ReloadInterval time.Duration
	WarmupBars     int

	// DefaultCooldown applies to rules stored without one.
	DefaultCooldown time.Duration

	// DefaultSpecs are computed for every enabled timeframe in addition
	// to whatever the rules reference.
	DefaultSpecs []indicator.Spec
}

// Deps are the shared collaborators every worker uses.
type Deps struct {
	Rules     model.RuleStore
	Candles   model.CandleStore
	Cursors   model.CursorStore
	Publisher model.CandlePublisher // optional
	Router    *alerts.Router
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Manager routes inbound ticks to per-instrument workers and owns their
// lifecycle. Dispatch never blocks: each worker has a bounded queue
// that sheds its oldest tick under pressure.
type Manager struct {
	workers map[string]*Worker
	met     *metrics.Metrics
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewManager builds one worker per configured instrument.
func NewManager(opts Options, deps Deps) *Manager {
	m := &Manager{
		workers: make(map[string]*Worker, len(opts.Instruments)),
		met:     deps.Metrics,
		log:     deps.Logger,
	}

	for _, inst := range opts.Instruments {
		agg := aggregator.New(opts.TFs, opts.LateTolerance)
		agg.OnDroppedTick = deps.Metrics.LateTicks.Inc
		agg.OnCorrection = deps.Metrics.CandleCorrections.Inc

		engine := rules.NewEngine(deps.Rules, inst.Exchange, inst.Symbol)
		engine.OnSkippedEval = deps.Metrics.SkippedEvals.Inc
		engine.DefaultCooldown = opts.DefaultCooldown

		w := &Worker{
			instrument:   inst,
			tfs:          opts.TFs,
			queue:        ringbuf.New(opts.QueueCapacity),
			wake:         make(chan struct{}, 1),
			agg:          agg,
			engine:       engine,
			router:       deps.Router,
			candles:      deps.Candles,
			cursors:      deps.Cursors,
			pub:          deps.Publisher,
			met:          deps.Metrics,
			log:          deps.Logger.With("instrument", inst.Key()),
			flushEvery:   opts.FlushInterval,
			reloadEvery:  opts.ReloadInterval,
			warmupBars:   opts.WarmupBars,
			defaultSpecs: opts.DefaultSpecs,
		}
		m.workers[inst.Key()] = w
	}
	return m
}

// Start initializes every worker (rules, warmup, cursor) and launches
// its loop. Fails fast if any instrument cannot initialize.
func (m *Manager) Start(ctx context.Context) error {
	for key, w := range m.workers {
		if err := w.init(ctx); err != nil {
			return fmt.Errorf("pipeline: init %s: %w", key, err)
		}
	}
	for _, w := range m.workers {
		m.wg.Add(1)
		go func(w *Worker) {
			defer m.wg.Done()
			w.run(ctx)
		}(w)
	}
	m.log.Info("pipelines started", "instruments", len(m.workers))
	return nil
}

// Dispatch routes a tick to its instrument's queue. Ticks for
// unconfigured instruments are ignored. Never blocks.
func (m *Manager) Dispatch(t model.Tick) {
	w, ok := m.workers[t.Key()]
	if !ok {
		return
	}
	if w.queue.Push(t) {
		m.met.QueueDrops.Inc()
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Cursor returns the resume point for an instrument's feed: the last
// persisted cursor loaded at init. It is frozen at startup; the live
// cursor belongs to the worker goroutine.
func (m *Manager) Cursor(inst model.Instrument) (time.Time, bool) {
	w, ok := m.workers[inst.Key()]
	if !ok {
		return time.Time{}, false
	}
	return w.resume, true
}

// Wait blocks until every worker has drained and exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}
