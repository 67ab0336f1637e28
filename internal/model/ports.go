package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the evaluation pipeline from concrete
// storage implementations (SQLite, Redis). The core never persists its
// own state except through them.

// RuleStore loads rule definitions and persists per-rule trigger state.
type RuleStore interface {
	// LoadRules returns the enabled, validated rule definitions bound to
	// an instrument. Malformed rows are rejected here and never reach
	// evaluation.
	LoadRules(ctx context.Context, exchange, symbol string) ([]RuleDefinition, error)

	// LoadRuleState returns the persisted state for a rule.
	// ok is false when no state has been saved yet.
	LoadRuleState(ctx context.Context, ruleID string) (state RuleState, ok bool, err error)

	// SaveRuleState upserts a rule state atomically; a partial write is
	// never observable.
	SaveRuleState(ctx context.Context, state RuleState) error
}

// CandleStore persists closed candles and serves history for cold-start
// warmup of the indicator engine.
type CandleStore interface {
	// SaveCandles writes a batch of closed candles (replace-by-key for
	// corrections).
	SaveCandles(ctx context.Context, candles []Candle) error

	// LoadCandleHistory returns up to count most recent closed candles
	// for (instrument, timeframe), oldest first.
	LoadCandleHistory(ctx context.Context, exchange, symbol string, tf, count int) ([]Candle, error)
}

// EventStore records accepted alert events.
type EventStore interface {
	// SaveEvent inserts an accepted alert event. Inserting an existing
	// event ID is a no-op.
	SaveEvent(ctx context.Context, event AlertEvent) error
}

// CursorStore keeps the per-instrument resumption cursor (last processed
// tick timestamp) so a restarted tick feed can resume where it left off.
type CursorStore interface {
	LoadCursor(ctx context.Context, exchange, symbol string) (time.Time, error)
	SaveCursor(ctx context.Context, exchange, symbol string, ts time.Time) error
}

// CandlePublisher pushes closed candles, snapshots and alert events to
// downstream consumers (dashboard, other services).
type CandlePublisher interface {
	PublishCandle(ctx context.Context, candle Candle)
	PublishSnapshot(ctx context.Context, snap IndicatorSnapshot)
	PublishAlert(ctx context.Context, event AlertEvent)
}
