// Package feed delivers market ticks into the pipeline manager. The
// production source is a Redis Stream written by an upstream connector;
// a synthetic random-walk source exists for local runs without infra.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"alert-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis Stream tick feed.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Stream is the tick stream key, e.g. "ticks". Each entry carries
	// the JSON-encoded tick under the "data" field.
	Stream string

	// Instruments filters the stream: ticks for anything else are
	// ignored without touching a pipeline.
	Instruments []model.Instrument

	// Resume is the position to start from, normally the oldest
	// persisted cursor across instruments. Zero means only new entries.
	Resume time.Time
}

// RedisFeed consumes ticks from a Redis Stream, resuming from the
// persisted cursor of a previous run. Ticks stamped in the same
// millisecond as the cursor may replay; the aggregator treats them as
// late ticks, so replays patch rather than double-open windows.
type RedisFeed struct {
	client  *goredis.Client
	stream  string
	allowed map[string]bool
	lastID  string

	// OnConnected reports feed liveness transitions (optional).
	OnConnected func(bool)
}

// New connects to Redis and positions the feed at the resume point.
func New(cfg Config) (*RedisFeed, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("feed: redis ping: %w", err)
	}

	allowed := make(map[string]bool, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		allowed[inst.Key()] = true
	}

	lastID := "$"
	if !cfg.Resume.IsZero() {
		lastID = strconv.FormatInt(cfg.Resume.UnixMilli(), 10) + "-0"
	}

	log.Printf("[feed] connected to %s, stream %s, resuming from %s", cfg.Addr, cfg.Stream, lastID)
	return &RedisFeed{
		client:  client,
		stream:  cfg.Stream,
		allowed: allowed,
		lastID:  lastID,
	}, nil
}

// Run blocks reading the stream and hands each tick to emit. Returns
// when ctx is cancelled. Read errors back off and retry; the feed never
// gives up on a flaky Redis.
func (f *RedisFeed) Run(ctx context.Context, emit func(model.Tick)) error {
	connected := true
	f.setConnected(true)

	for {
		select {
		case <-ctx.Done():
			f.setConnected(false)
			return ctx.Err()
		default:
		}

		results, err := f.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{f.stream, f.lastID},
			Count:   500,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue // poll timeout, nothing new
			}
			if connected {
				connected = false
				f.setConnected(false)
			}
			log.Printf("[feed] xread error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if !connected {
			connected = true
			f.setConnected(true)
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				f.lastID = msg.ID

				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var tick model.Tick
				if err := json.Unmarshal([]byte(data), &tick); err != nil {
					log.Printf("[feed] bad tick payload at %s: %v", msg.ID, err)
					continue
				}
				if tick.Symbol == "" || !f.allowed[tick.Key()] {
					continue
				}
				emit(tick)
			}
		}
	}
}

func (f *RedisFeed) setConnected(v bool) {
	if f.OnConnected != nil {
		f.OnConnected(v)
	}
}

// Close closes the Redis client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
