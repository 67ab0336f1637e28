package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alert-systemv1/config"
	"alert-systemv1/internal/alerts"
	"alert-systemv1/internal/feed"
	"alert-systemv1/internal/indicator"
	"alert-systemv1/internal/logger"
	"alert-systemv1/internal/metrics"
	"alert-systemv1/internal/model"
	"alert-systemv1/internal/notification"
	"alert-systemv1/internal/pipeline"
	redisstore "alert-systemv1/internal/store/redis"
	sqlitestore "alert-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[alertengine] starting...")

	cfg := config.Load()
	slogger := logger.Init("alertengine", slog.LevelInfo)

	tfs := cfg.ParseTFs()
	instruments := cfg.ParseInstruments()
	if len(tfs) == 0 || len(instruments) == 0 {
		log.Fatalf("[alertengine] nothing to do: tfs=%v instruments=%v", tfs, instruments)
	}
	log.Printf("[alertengine] instruments=%d TFs=%v seconds", len(instruments), tfs)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetEnabledTFs(tfs)
	health.SetInstruments(len(instruments))
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Shutdown plumbing ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite (rules, candles, events, cursors) ----
	os.MkdirAll("data", 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[alertengine] sqlite init failed: %v", err)
	}
	defer store.Close()
	log.Println("[alertengine] sqlite store ready")

	// ---- Redis publisher (best effort, engine runs without it) ----
	var publisher model.CandlePublisher
	pub, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, nil)
	if err != nil {
		log.Printf("[alertengine] WARNING: redis init failed: %v (continuing without publishing)", err)
	} else {
		pub.OnWrite = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
		publisher = pub
		log.Println("[alertengine] redis publisher ready")
	}

	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Notifiers ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[alertengine] webhook notifier enabled")
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
		log.Println("[alertengine] telegram notifier enabled")
	}
	if cfg.DingTalkWebhook != "" {
		notifiers = append(notifiers, notification.NewDingTalkNotifier(cfg.DingTalkWebhook, cfg.DingTalkSecret))
		log.Println("[alertengine] dingtalk notifier enabled")
	}

	// ---- Alert router ----
	router := alerts.NewRouter(cfg.DedupTTL, 100000, store, notifiers...)
	router.OnForwarded = prom.AlertsEmitted.Inc
	router.OnSuppressed = prom.AlertsSuppressed.Inc
	router.OnDeliveryFailure = func(name string) {
		prom.NotifyFailures.WithLabelValues(name).Inc()
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				router.Sweep()
			}
		}
	}()

	// ---- Per-instrument pipelines ----
	manager := pipeline.NewManager(pipeline.Options{
		Instruments:     instruments,
		TFs:             tfs,
		LateTolerance:   cfg.LateTolerance,
		QueueCapacity:   cfg.QueueCapacity,
		FlushInterval:   cfg.FlushInterval,
		ReloadInterval:  cfg.ReloadInterval,
		WarmupBars:      cfg.WarmupBars,
		DefaultCooldown: cfg.DefaultCooldown,
		DefaultSpecs: []indicator.Spec{
			{Type: "sma", Period: 20},
			{Type: "ema", Period: 20},
			{Type: "roc", Period: 5},
			{Type: "vol_delta", Period: 20},
		},
	}, pipeline.Deps{
		Rules:     store,
		Candles:   store,
		Cursors:   store,
		Publisher: publisher,
		Router:    router,
		Metrics:   prom,
		Logger:    slogger,
	})
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("[alertengine] pipeline start failed: %v", err)
	}

	// ---- Tick feed ----
	emit := func(t model.Tick) {
		health.SetLastTickTime(t.TS)
		manager.Dispatch(t)
	}

	switch cfg.FeedMode {
	case "sim":
		sim := feed.NewSimulator(feed.SimConfig{Instruments: instruments})
		health.SetFeedConnected(true)
		go func() {
			sim.Run(ctx, emit)
			health.SetFeedConnected(false)
		}()
		log.Println("[alertengine] synthetic tick feed running")

	default:
		// Resume from the oldest instrument cursor so nothing is skipped.
		var resume time.Time
		for _, inst := range instruments {
			if cur, ok := manager.Cursor(inst); ok && !cur.IsZero() {
				if resume.IsZero() || cur.Before(resume) {
					resume = cur
				}
			}
		}

		tickFeed, err := feed.New(feed.Config{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			Stream:      cfg.TickStream,
			Instruments: instruments,
			Resume:      resume,
		})
		if err != nil {
			log.Fatalf("[alertengine] tick feed init failed: %v", err)
		}
		defer tickFeed.Close()
		tickFeed.OnConnected = health.SetFeedConnected

		go func() {
			if err := tickFeed.Run(ctx, emit); err != nil && ctx.Err() == nil {
				log.Printf("[alertengine] tick feed stopped: %v", err)
			}
		}()
		log.Printf("[alertengine] consuming ticks from stream %q", cfg.TickStream)
	}

	log.Printf("[alertengine] pipeline ready: [Feed] → [Aggregator] → [Indicators] → [Rules] → [Router] (%d notifiers)", len(notifiers))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[alertengine] shutdown signal received, draining...")
	cancel()

	manager.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if pub != nil {
		pub.Close()
	}
	log.Println("[alertengine] shutdown complete.")
}
