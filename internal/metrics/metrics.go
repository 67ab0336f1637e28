package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the alert engine.
type Metrics struct {
	TicksTotal prometheus.Counter
	LateTicks  prometheus.Counter // ticks dropped beyond the lateness tolerance
	QueueDrops prometheus.Counter // ticks shed by full per-instrument queues
	CursorLag  prometheus.Gauge   // wall-clock lag of the resume cursor

	CandlesTotal      *prometheus.CounterVec // labels: tf
	CandleCorrections prometheus.Counter

	SnapshotsTotal      prometheus.Counter
	IndicatorComputeDur prometheus.Histogram

	RuleEvalDur      prometheus.Histogram
	SkippedEvals     prometheus.Counter // rules skipped for absent indicators
	RuleReloadErrors prometheus.Counter

	AlertsEmitted    prometheus.Counter
	AlertsSuppressed prometheus.Counter     // duplicates dropped by the router
	NotifyFailures   *prometheus.CounterVec // labels: notifier

	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_ticks_total",
			Help: "Total ticks consumed from the feed",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_late_ticks_total",
			Help: "Ticks dropped because they arrived beyond the lateness tolerance",
		}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_queue_drops_total",
			Help: "Ticks shed by full per-instrument queues (oldest dropped)",
		}),
		CursorLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertengine_cursor_lag_seconds",
			Help: "Lag between wall clock and the last persisted resume cursor",
		}),

		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_candles_total",
			Help: "Total candles closed (by timeframe)",
		}, []string{"tf"}),
		CandleCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_candle_corrections_total",
			Help: "Closed candles re-emitted after a late-tick patch",
		}),

		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_snapshots_total",
			Help: "Indicator snapshots produced",
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per closed candle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		RuleEvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_rule_eval_duration_seconds",
			Help:    "Rule evaluation latency per snapshot",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		SkippedEvals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_skipped_evals_total",
			Help: "Rule evaluations skipped because a required indicator was absent",
		}),
		RuleReloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_rule_reload_errors_total",
			Help: "Failed periodic rule set reloads",
		}),

		AlertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_alerts_emitted_total",
			Help: "Alert events forwarded to notifiers",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_alerts_suppressed_total",
			Help: "Duplicate alert events suppressed by the router",
		}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_notify_failures_total",
			Help: "Notifier delivery failures (by notifier)",
		}, []string{"notifier"}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.LateTicks,
		m.QueueDrops,
		m.CursorLag,
		m.CandlesTotal,
		m.CandleCorrections,
		m.SnapshotsTotal,
		m.IndicatorComputeDur,
		m.RuleEvalDur,
		m.SkippedEvals,
		m.RuleReloadErrors,
		m.AlertsEmitted,
		m.AlertsSuppressed,
		m.NotifyFailures,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	EnabledTFs     []int     `json:"enabled_tfs"`
	Instruments    int       `json:"instruments"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

func (h *HealthStatus) SetInstruments(n int) {
	h.mu.Lock()
	h.Instruments = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		EnabledTFs      []int   `json:"enabled_tfs"`
		Instruments     int     `json:"instruments"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		EnabledTFs:      h.EnabledTFs,
		Instruments:     h.Instruments,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
