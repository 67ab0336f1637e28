// Package sqlite is the durable store behind the evaluation pipeline:
// closed candles, rule definitions, per-rule trigger state, accepted
// alert events and feed resume cursors. A single WAL-mode connection
// serves all writers; candle batches commit in one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"alert-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to the database file, e.g. "data/alerts.db"
}

// Store implements model.RuleStore, model.CandleStore, model.EventStore
// and model.CursorStore on SQLite.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and applies the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			exchange  TEXT    NOT NULL,
			symbol    TEXT    NOT NULL,
			tf        INTEGER NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			ticks     INTEGER,
			corrected INTEGER NOT NULL DEFAULT 0,
			revision  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (exchange, symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS rules (
			id         TEXT    PRIMARY KEY,
			exchange   TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			tf         INTEGER NOT NULL,
			params     TEXT    NOT NULL,
			enabled    INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_rules_instrument ON rules (exchange, symbol, enabled);

		CREATE TABLE IF NOT EXISTS rule_states (
			rule_id        TEXT PRIMARY KEY,
			status         TEXT NOT NULL,
			last_trigger   INTEGER,
			last_value     REAL,
			has_last_value INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS alert_events (
			id           TEXT PRIMARY KEY,
			rule_id      TEXT NOT NULL,
			exchange     TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			tf           INTEGER NOT NULL,
			triggered_at INTEGER NOT NULL,
			condition    TEXT NOT NULL,
			observed     REAL,
			message      TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_rule ON alert_events (rule_id, triggered_at);

		CREATE TABLE IF NOT EXISTS cursors (
			exchange TEXT NOT NULL,
			symbol   TEXT NOT NULL,
			ts       INTEGER NOT NULL,
			PRIMARY KEY (exchange, symbol)
		);
	`)
	return err
}

// ruleParams is the JSON blob of kind-specific parameters stored in the
// rules table. CooldownSec is a pointer so an absent cooldown (engine
// default applies) survives the roundtrip distinct from an explicit 0.
type ruleParams struct {
	Levels      []float64       `json:"levels,omitempty"`
	Direction   model.Direction `json:"direction,omitempty"`
	Indicator   string          `json:"indicator,omitempty"`
	Op          string          `json:"op,omitempty"`
	Threshold   float64         `json:"threshold,omitempty"`
	Lookback    int             `json:"lookback,omitempty"`
	CooldownSec *int            `json:"cooldown_sec,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// ── RuleStore ──

// LoadRules returns the enabled, valid rules bound to an instrument.
// Malformed rows are logged and skipped so one bad rule cannot take the
// whole instrument offline.
func (s *Store) LoadRules(ctx context.Context, exchange, symbol string) ([]model.RuleDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, tf, params
		FROM rules
		WHERE exchange = ? AND symbol = ? AND enabled = 1
	`, exchange, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query rules: %w", err)
	}
	defer rows.Close()

	var defs []model.RuleDefinition
	for rows.Next() {
		var (
			id, kind  string
			tf        int
			paramsRaw string
		)
		if err := rows.Scan(&id, &kind, &tf, &paramsRaw); err != nil {
			return nil, fmt.Errorf("sqlite scan rule: %w", err)
		}

		var p ruleParams
		if err := json.Unmarshal([]byte(paramsRaw), &p); err != nil {
			log.Printf("[sqlite] rule %s: bad params json, skipping: %v", id, err)
			continue
		}

		cooldown := model.CooldownUnset
		if p.CooldownSec != nil {
			cooldown = time.Duration(*p.CooldownSec) * time.Second
		}
		def := model.RuleDefinition{
			ID:        id,
			Symbol:    symbol,
			Exchange:  exchange,
			Kind:      model.RuleKind(kind),
			TF:        tf,
			Levels:    p.Levels,
			Direction: p.Direction,
			Indicator: p.Indicator,
			Op:        p.Op,
			Threshold: p.Threshold,
			Lookback:  p.Lookback,
			Cooldown:  cooldown,
			Message:   p.Message,
		}
		if err := def.Validate(); err != nil {
			log.Printf("[sqlite] rule %s: rejected: %v", id, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SaveRule upserts a rule definition. Used by seeding and admin tooling.
func (s *Store) SaveRule(ctx context.Context, def model.RuleDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	p := ruleParams{
		Levels:    def.Levels,
		Direction: def.Direction,
		Indicator: def.Indicator,
		Op:        def.Op,
		Threshold: def.Threshold,
		Lookback:  def.Lookback,
		Message:   def.Message,
	}
	if def.Cooldown != model.CooldownUnset {
		sec := int(def.Cooldown / time.Second)
		p.CooldownSec = &sec
	}
	params, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal rule params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, exchange, symbol, kind, tf, params, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, strftime('%s', 'now'))
		ON CONFLICT (id) DO UPDATE SET
			exchange = excluded.exchange,
			symbol = excluded.symbol,
			kind = excluded.kind,
			tf = excluded.tf,
			params = excluded.params,
			enabled = 1,
			updated_at = excluded.updated_at
	`, def.ID, def.Exchange, def.Symbol, string(def.Kind), def.TF, string(params))
	if err != nil {
		return fmt.Errorf("sqlite upsert rule %s: %w", def.ID, err)
	}
	return nil
}

// LoadRuleState returns the persisted state for a rule; ok is false
// when none has been saved yet.
func (s *Store) LoadRuleState(ctx context.Context, ruleID string) (model.RuleState, bool, error) {
	var (
		st          model.RuleState
		status      string
		lastTrigger sql.NullInt64
		lastValue   sql.NullFloat64
		hasValue    int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, last_trigger, last_value, has_last_value
		FROM rule_states WHERE rule_id = ?
	`, ruleID).Scan(&status, &lastTrigger, &lastValue, &hasValue)
	if err == sql.ErrNoRows {
		return model.RuleState{}, false, nil
	}
	if err != nil {
		return model.RuleState{}, false, fmt.Errorf("sqlite query rule state %s: %w", ruleID, err)
	}

	st.RuleID = ruleID
	st.Status = model.RuleStatus(status)
	if lastTrigger.Valid {
		st.LastTrigger = time.Unix(0, lastTrigger.Int64).UTC()
	}
	if lastValue.Valid {
		st.LastValue = lastValue.Float64
	}
	st.HasLastValue = hasValue != 0
	return st, true, nil
}

// SaveRuleState upserts a rule state in one statement, so a partial
// write is never observable.
func (s *Store) SaveRuleState(ctx context.Context, st model.RuleState) error {
	hasValue := 0
	if st.HasLastValue {
		hasValue = 1
	}
	var lastTrigger interface{}
	if !st.LastTrigger.IsZero() {
		lastTrigger = st.LastTrigger.UnixNano()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_states (rule_id, status, last_trigger, last_value, has_last_value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (rule_id) DO UPDATE SET
			status = excluded.status,
			last_trigger = excluded.last_trigger,
			last_value = excluded.last_value,
			has_last_value = excluded.has_last_value
	`, st.RuleID, string(st.Status), lastTrigger, st.LastValue, hasValue)
	if err != nil {
		return fmt.Errorf("sqlite upsert rule state %s: %w", st.RuleID, err)
	}
	return nil
}

// ── CandleStore ──

// SaveCandles writes a batch in one transaction. REPLACE semantics make
// corrected candles overwrite the original row.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles
			(exchange, symbol, tf, ts, open, high, low, close, volume, ticks, corrected, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		corrected := 0
		if c.Corrected {
			corrected = 1
		}
		_, err := stmt.ExecContext(ctx,
			c.Exchange, c.Symbol, c.TF, c.Start.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Ticks,
			corrected, c.Revision)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadCandleHistory returns up to count most recent closed candles for
// (instrument, timeframe), oldest first, for warmup replay.
func (s *Store) LoadCandleHistory(ctx context.Context, exchange, symbol string, tf, count int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exchange, symbol, tf, ts, open, high, low, close, volume, ticks, corrected, revision
		FROM candles
		WHERE exchange = ? AND symbol = ? AND tf = ?
		ORDER BY ts DESC
		LIMIT ?
	`, exchange, symbol, tf, count)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c         model.Candle
			tsUnix    int64
			corrected int
		)
		if err := rows.Scan(&c.Exchange, &c.Symbol, &c.TF, &tsUnix,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Ticks,
			&corrected, &c.Revision); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.Start = time.Unix(tsUnix, 0).UTC()
		c.Corrected = corrected != 0
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first; warmup wants oldest first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// ── EventStore ──

// SaveEvent inserts an accepted alert event. A duplicate event ID is a
// no-op, matching the router's at-most-once contract.
func (s *Store) SaveEvent(ctx context.Context, ev model.AlertEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alert_events
			(id, rule_id, exchange, symbol, tf, triggered_at, condition, observed, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.RuleID, ev.Exchange, ev.Symbol, ev.TF,
		ev.TriggeredAt.UnixNano(), ev.Condition, ev.Observed, ev.Message)
	if err != nil {
		return fmt.Errorf("sqlite insert event %s: %w", ev.ID, err)
	}
	return nil
}

// RecentEvents returns the latest events for a rule, newest first.
// Serves admin tooling and tests.
func (s *Store) RecentEvents(ctx context.Context, ruleID string, limit int) ([]model.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, exchange, symbol, tf, triggered_at, condition, observed, message
		FROM alert_events
		WHERE rule_id = ?
		ORDER BY triggered_at DESC
		LIMIT ?
	`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query events: %w", err)
	}
	defer rows.Close()

	var events []model.AlertEvent
	for rows.Next() {
		var (
			ev      model.AlertEvent
			trigged int64
		)
		if err := rows.Scan(&ev.ID, &ev.RuleID, &ev.Exchange, &ev.Symbol, &ev.TF,
			&trigged, &ev.Condition, &ev.Observed, &ev.Message); err != nil {
			return nil, fmt.Errorf("sqlite scan event: %w", err)
		}
		ev.TriggeredAt = time.Unix(0, trigged).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ── CursorStore ──

// LoadCursor returns the last persisted feed position for an instrument.
// A missing row yields the zero time, meaning start from the beginning.
func (s *Store) LoadCursor(ctx context.Context, exchange, symbol string) (time.Time, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts FROM cursors WHERE exchange = ? AND symbol = ?
	`, exchange, symbol).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite query cursor %s:%s: %w", exchange, symbol, err)
	}
	return time.Unix(0, ts).UTC(), nil
}

// SaveCursor upserts the feed position for an instrument.
func (s *Store) SaveCursor(ctx context.Context, exchange, symbol string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (exchange, symbol, ts) VALUES (?, ?, ?)
		ON CONFLICT (exchange, symbol) DO UPDATE SET ts = excluded.ts
	`, exchange, symbol, ts.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite upsert cursor %s:%s: %w", exchange, symbol, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
