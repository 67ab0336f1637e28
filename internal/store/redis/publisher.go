// Package redis publishes candles, indicator snapshots and alert events
// to downstream consumers over Redis Streams and Pub/Sub. Publishing is
// best-effort: a circuit breaker guards every write and writes issued
// while the breaker is open are buffered locally and replayed once
// Redis recovers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"alert-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	alertStreamLen   = 10000
	defaultMaxBuf    = 10000
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// writeOp is one pipelined publish: XADD to a stream, optional SET of a
// latest-value key, PUBLISH to a channel. Buffered verbatim while the
// circuit is open.
type writeOp struct {
	stream    string
	maxLen    int64
	latestKey string
	channel   string
	data      string
}

// Publisher implements model.CandlePublisher on Redis.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []writeOp
	maxBuf int

	// Callbacks (optional)
	OnWrite  func(d time.Duration) // successful pipeline latency, for metrics
	OnBuffer func()                // a write was buffered during an outage
	OnFlush  func(count int)       // buffered writes replayed after recovery
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New connects to Redis and pings the server.
func New(cfg Config, cb *CircuitBreaker) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	p := &Publisher{
		client: client,
		cb:     cb,
		buffer: make([]writeOp, 0, 256),
		maxBuf: defaultMaxBuf,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go p.flush()
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return p, nil
}

// PublishCandle pushes a closed candle: XADD + SET latest + PUBLISH in
// one pipeline. Corrections land on the same keys and overwrite latest.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) {
	tf := strconv.Itoa(c.TF)
	p.write(ctx, writeOp{
		stream:    c.StreamKey(),
		maxLen:    streamMaxLen(c.TF),
		latestKey: "candle:" + tf + "s:latest:" + c.Exchange + ":" + c.Symbol,
		channel:   "pub:candle:" + tf + "s:" + c.Exchange + ":" + c.Symbol,
		data:      string(c.JSON()),
	})
}

// PublishSnapshot pushes an indicator snapshot for dashboards.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap model.IndicatorSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[redis] marshal snapshot %s: %v", snap.Symbol, err)
		return
	}
	tf := strconv.Itoa(snap.TF)
	p.write(ctx, writeOp{
		stream:    "snap:" + tf + "s:" + snap.Exchange + ":" + snap.Symbol,
		maxLen:    streamMaxLen(snap.TF),
		latestKey: "snap:" + tf + "s:latest:" + snap.Exchange + ":" + snap.Symbol,
		channel:   "pub:snap:" + tf + "s:" + snap.Exchange + ":" + snap.Symbol,
		data:      string(data),
	})
}

// PublishAlert pushes an accepted alert event to the shared alert
// stream and the instrument's alert channel.
func (p *Publisher) PublishAlert(ctx context.Context, ev model.AlertEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[redis] marshal alert %s: %v", ev.ID, err)
		return
	}
	p.write(ctx, writeOp{
		stream:    "alerts",
		maxLen:    alertStreamLen,
		latestKey: "alert:latest:" + ev.RuleID,
		channel:   "pub:alerts:" + ev.Exchange + ":" + ev.Symbol,
		data:      string(data),
	})
}

// write runs one publish through the circuit breaker, buffering it when
// the circuit is open.
func (p *Publisher) write(ctx context.Context, op writeOp) {
	err := p.cb.Execute(func() error {
		start := time.Now()
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: op.stream,
			MaxLen: op.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": op.data},
		})
		if op.latestKey != "" {
			pipe.Set(ctx, op.latestKey, op.data, defaultLatestTTL)
		}
		pipe.Publish(ctx, op.channel, op.data)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		if p.OnWrite != nil {
			p.OnWrite(time.Since(start))
		}
		return nil
	})
	if err == ErrCircuitOpen {
		p.bufferOp(op)
		return
	}
	if err != nil {
		log.Printf("[redis] publish %s failed: %v", op.stream, err)
	}
}

func (p *Publisher) bufferOp(op writeOp) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:] // drop oldest
	}
	p.buffer = append(p.buffer, op)

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered ops after the breaker closes. Replayed XADDs
// append out of order relative to live traffic; consumers key on the
// payload's window start, not the stream ID.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]writeOp, 0, 256)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, op := range toFlush {
		p.write(ctx, op)
	}

	log.Printf("[redis] flushed %d buffered publishes", len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered publishes awaiting replay.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// streamMaxLen keeps roughly 3h of entries per stream, floor 200.
func streamMaxLen(tf int) int64 {
	maxLen := int64(10800/tf) + 100
	if maxLen < 200 {
		maxLen = 200
	}
	return maxLen
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
