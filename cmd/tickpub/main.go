// cmd/tickpub — Demo tick publisher.
// Feeds a random-walk tick stream into Redis for testing alertengine
// without a real market data connector.
//
// Config (env vars):
//
//	REDIS_ADDR        — Redis address (default: "localhost:6379")
//	TICK_STREAM       — target stream key (default: "ticks")
//	INSTRUMENTS       — comma-separated EXCHANGE:SYMBOL pairs (default: "NSE:NIFTY50")
//	TICK_INTERVAL_MS  — publish interval milliseconds (default: "250")
//	TICK_BASE_PRICE   — starting price for every instrument (default: "100")
package main

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"alert-systemv1/internal/model"
)

const tickStreamMaxLen = 100000

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickpub] starting demo tick publisher...")

	addr := envOrDefault("REDIS_ADDR", "localhost:6379")
	stream := envOrDefault("TICK_STREAM", "ticks")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)
	basePrice := float64(envIntOrDefault("TICK_BASE_PRICE", 100))

	instruments := parseInstruments(envOrDefault("INSTRUMENTS", "NSE:NIFTY50"))
	if len(instruments) == 0 {
		log.Fatalf("[tickpub] no instruments configured via INSTRUMENTS")
	}
	log.Printf("[tickpub] instruments: %v, interval: %dms", instruments, intervalMs)

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("[tickpub] redis ping failed: %v", err)
	}
	pingCancel()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	prices := make([]float64, len(instruments))
	for i := range prices {
		prices[i] = basePrice
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	published := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("[tickpub] done, published %d ticks", published)
			return
		case now := <-ticker.C:
			pipe := client.Pipeline()
			for i, inst := range instruments {
				prices[i] = walkPrice(prices[i], rng)
				tick := model.Tick{
					Symbol:   inst.Symbol,
					Exchange: inst.Exchange,
					Price:    prices[i],
					Volume:   float64(1 + rng.Intn(100)),
					TS:       now.UTC(),
				}
				data, err := json.Marshal(&tick)
				if err != nil {
					continue
				}
				pipe.XAdd(ctx, &goredis.XAddArgs{
					Stream: stream,
					MaxLen: tickStreamMaxLen,
					Approx: true,
					Values: map[string]interface{}{"data": string(data)},
				})
			}
			if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[tickpub] publish error: %v", err)
				continue
			}
			published += len(instruments)
		}
	}
}

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price float64, rng *rand.Rand) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func parseInstruments(s string) []model.Instrument {
	var result []model.Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		exch, sym, ok := strings.Cut(part, ":")
		if !ok || exch == "" || sym == "" {
			log.Printf("[tickpub] skipping invalid instrument: %q", part)
			continue
		}
		result = append(result, model.Instrument{Exchange: exch, Symbol: sym})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
