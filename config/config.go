package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"alert-systemv1/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Tick source: "redis" (stream) or "sim" (synthetic random walk)
	FeedMode   string
	TickStream string

	// Instruments: comma-separated "EXCHANGE:SYMBOL" pairs
	Instruments string

	// Enabled timeframes (comma-separated seconds, e.g. "60,300,900")
	EnabledTFs string

	// Pipeline tuning
	LateTolerance  time.Duration
	QueueCapacity  int
	FlushInterval  time.Duration
	ReloadInterval time.Duration
	WarmupBars     int

	// Alert routing
	DedupTTL        time.Duration
	DefaultCooldown time.Duration

	// Notifiers (each enabled when its env vars are present)
	WebhookURL      string
	TelegramToken   string
	TelegramChatID  string
	DingTalkWebhook string
	DingTalkSecret  string
}

// Load reads configuration from a .env file (if present) and the
// environment, with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/alerts.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		FeedMode:   getEnv("FEED_MODE", "redis"),
		TickStream: getEnv("TICK_STREAM", "ticks"),

		Instruments: getEnv("INSTRUMENTS", "NSE:NIFTY50"),
		EnabledTFs:  getEnv("ENABLED_TFS", "60,300,900"),

		LateTolerance:  getDuration("LATE_TOLERANCE", 5*time.Second),
		QueueCapacity:  getInt("QUEUE_CAPACITY", 1024),
		FlushInterval:  getDuration("FLUSH_INTERVAL", time.Second),
		ReloadInterval: getDuration("RULE_RELOAD_INTERVAL", 30*time.Second),
		WarmupBars:     getInt("WARMUP_BARS", 200),

		DedupTTL:        getDuration("DEDUP_TTL", time.Hour),
		DefaultCooldown: getDuration("DEFAULT_COOLDOWN", time.Minute),

		WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  getEnv("TELEGRAM_CHAT_ID", ""),
		DingTalkWebhook: getEnv("DINGTALK_WEBHOOK", ""),
		DingTalkSecret:  getEnv("DINGTALK_SECRET", ""),
	}
}

// ParseTFs parses the EnabledTFs string into timeframe seconds.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// ParseInstruments parses the Instruments string into instrument pairs.
// Malformed entries are skipped with a log line.
func (c *Config) ParseInstruments() []model.Instrument {
	parts := strings.Split(c.Instruments, ",")
	insts := make([]model.Instrument, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		exch, sym, ok := strings.Cut(p, ":")
		if !ok || exch == "" || sym == "" {
			log.Printf("[config] skipping invalid instrument: %q", p)
			continue
		}
		insts = append(insts, model.Instrument{Exchange: exch, Symbol: sym})
	}
	return insts
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
