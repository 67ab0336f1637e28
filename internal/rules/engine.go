// Package rules evaluates user-defined alert rules against indicator
// snapshots and owns the per-rule trigger state machine.
//
// Each rule instance moves through ARMED → TRIGGERED → COOLDOWN → ARMED.
// TRIGGERED is transient: it collapses to COOLDOWN within the same
// evaluation cycle, so a rule can never stay TRIGGERED across cycles.
// COOLDOWN falls back to ARMED lazily on the next evaluation once the
// cooldown duration has elapsed — no background timers.
//
// The engine is designed for single-goroutine usage inside one pipeline
// worker. The active rule set is still swapped through an atomic
// pointer so a runtime reload is never observed half-applied.
package rules

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"alert-systemv1/internal/model"
)

// ruleSet is an immutable snapshot of the active rules for one
// instrument, sorted by rule ID for deterministic evaluation order.
type ruleSet struct {
	rules []model.RuleDefinition
}

// Engine evaluates every rule bound to an instrument against incoming
// snapshots and emits alert events on ARMED→TRIGGERED transitions.
type Engine struct {
	store model.RuleStore

	exchange string
	symbol   string

	active atomic.Pointer[ruleSet]
	states map[string]*model.RuleState

	// Now is injectable for deterministic tests. Defaults to time.Now.
	Now func() time.Time

	// DefaultCooldown applies to rules loaded without a cooldown of
	// their own. An explicit zero is kept as-is.
	DefaultCooldown time.Duration

	// OnSkippedEval is called when a rule is skipped for one cycle
	// because a required indicator is absent from the snapshot.
	OnSkippedEval func()
}

// NewEngine creates a rule engine for a single instrument.
func NewEngine(store model.RuleStore, exchange, symbol string) *Engine {
	e := &Engine{
		store:    store,
		exchange: exchange,
		symbol:   symbol,
		states:   make(map[string]*model.RuleState),
		Now:      time.Now,
	}
	e.active.Store(&ruleSet{})
	return e
}

// Load fetches the instrument's rule definitions from the store,
// restores persisted trigger state for any new rules, and swaps the
// active set atomically. Safe to call repeatedly at runtime.
func (e *Engine) Load(ctx context.Context) error {
	defs, err := e.store.LoadRules(ctx, e.exchange, e.symbol)
	if err != nil {
		return fmt.Errorf("rules: load %s:%s: %w", e.exchange, e.symbol, err)
	}

	sorted := make([]model.RuleDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i := range sorted {
		r := &sorted[i]
		// Levels are normalized ascending; evaluation walks them in
		// crossing order per direction.
		sort.Float64s(r.Levels)
		if r.Cooldown == model.CooldownUnset {
			r.Cooldown = e.DefaultCooldown
		}

		if _, ok := e.states[r.ID]; ok {
			continue
		}
		st, found, err := e.store.LoadRuleState(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("rules: load state %s: %w", r.ID, err)
		}
		if !found {
			st = model.NewRuleState(r.ID)
		}
		if st.Status == model.StatusTriggered {
			// TRIGGERED must never survive a cycle; a crash between
			// transition halves resumes as COOLDOWN.
			st.Status = model.StatusCooldown
		}
		e.states[r.ID] = &st
	}

	e.active.Store(&ruleSet{rules: sorted})
	return nil
}

// Rules returns the active rule definitions (read-only snapshot).
func (e *Engine) Rules() []model.RuleDefinition {
	return e.active.Load().rules
}

// Evaluate runs every active rule matching the snapshot's timeframe, in
// rule ID order, and returns the newly created alert events. A rule
// whose required indicator is absent is skipped for this cycle without
// affecting its siblings.
func (e *Engine) Evaluate(ctx context.Context, snap model.IndicatorSnapshot) []model.AlertEvent {
	set := e.active.Load()
	now := e.Now()

	var events []model.AlertEvent
	for i := range set.rules {
		rule := &set.rules[i]
		if rule.TF != snap.TF {
			continue
		}

		st, ok := e.states[rule.ID]
		if !ok {
			fresh := model.NewRuleState(rule.ID)
			st = &fresh
			e.states[rule.ID] = st
		}
		before := *st

		// Lazy COOLDOWN → ARMED. No event on this transition.
		if st.Status == model.StatusCooldown && now.Sub(st.LastTrigger) >= rule.Cooldown {
			st.Status = model.StatusArmed
		}

		events = append(events, e.evaluateRule(rule, st, snap, now)...)

		if *st != before {
			if err := e.store.SaveRuleState(ctx, *st); err != nil {
				log.Printf("[rules] save state %s: %v", rule.ID, err)
			}
		}
	}
	return events
}

// evaluateRule applies one rule's predicate and drives its state machine.
func (e *Engine) evaluateRule(rule *model.RuleDefinition, st *model.RuleState, snap model.IndicatorSnapshot, now time.Time) []model.AlertEvent {
	switch rule.Kind {
	case model.RulePriceLevel:
		return e.evalPriceLevel(rule, st, snap, now)
	case model.RuleVolumeThreshold:
		return e.evalThreshold(rule, st, snap, now)
	case model.RuleTrend:
		return e.evalTrend(rule, st, snap, now)
	default:
		// Unknown kinds are rejected at load; nothing to do here.
		return nil
	}
}

// evalPriceLevel triggers on prev→current crossings of the configured
// levels, inclusive on the arrival side: closing exactly on a level
// counts as reaching it. A gap that jumps several levels in one window
// emits one event per crossed level. Staying at or beyond a level never
// re-triggers: crossing is a transition, not a range check.
func (e *Engine) evalPriceLevel(rule *model.RuleDefinition, st *model.RuleState, snap model.IndicatorSnapshot, now time.Time) []model.AlertEvent {
	cur := snap.Candle.Close

	// The previous value is tracked through every cycle, armed or not,
	// so a crossing consumed during cooldown is not replayed later.
	hadPrev, prev := st.HasLastValue, st.LastValue
	st.LastValue = cur
	st.HasLastValue = true

	if !hadPrev || st.Status != model.StatusArmed {
		return nil
	}

	var crossed []float64
	if rule.Direction == model.DirectionRising {
		for _, lvl := range rule.Levels { // ascending
			if prev < lvl && cur >= lvl {
				crossed = append(crossed, lvl)
			}
		}
	} else {
		for i := len(rule.Levels) - 1; i >= 0; i-- { // descending
			lvl := rule.Levels[i]
			if prev > lvl && cur <= lvl {
				crossed = append(crossed, lvl)
			}
		}
	}
	if len(crossed) == 0 {
		return nil
	}

	events := make([]model.AlertEvent, 0, len(crossed))
	for _, lvl := range crossed {
		qualifier := strconv.FormatFloat(lvl, 'f', -1, 64)
		events = append(events, model.AlertEvent{
			ID:          model.AlertEventID(rule.ID, snap.WindowEnd, qualifier),
			RuleID:      rule.ID,
			Symbol:      rule.Symbol,
			Exchange:    rule.Exchange,
			TF:          rule.TF,
			TriggeredAt: now,
			Condition:   fmt.Sprintf("price crossed %s %s", qualifier, rule.Direction),
			Observed:    cur,
			Message:     rule.Message,
		})
	}

	e.trigger(st, now)
	return events
}

// evalThreshold compares the rule's indicator against a static
// threshold. A sustained condition re-triggers at most once per
// cooldown period.
func (e *Engine) evalThreshold(rule *model.RuleDefinition, st *model.RuleState, snap model.IndicatorSnapshot, now time.Time) []model.AlertEvent {
	v, ok := snap.Value(rule.Indicator)
	if !ok {
		if e.OnSkippedEval != nil {
			e.OnSkippedEval()
		}
		return nil
	}

	st.LastValue = v
	st.HasLastValue = true

	if st.Status != model.StatusArmed || !compare(v, rule.Op, rule.Threshold) {
		return nil
	}

	event := model.AlertEvent{
		ID:          model.AlertEventID(rule.ID, snap.WindowEnd, ""),
		RuleID:      rule.ID,
		Symbol:      rule.Symbol,
		Exchange:    rule.Exchange,
		TF:          rule.TF,
		TriggeredAt: now,
		Condition:   fmt.Sprintf("%s %s %g", rule.Indicator, rule.Op, rule.Threshold),
		Observed:    v,
		Message:     rule.Message,
	}
	e.trigger(st, now)
	return []model.AlertEvent{event}
}

// evalTrend compares the rate of change over the rule's lookback to a
// threshold magnitude in the configured direction: rising triggers at
// roc >= threshold, falling at roc <= -threshold.
func (e *Engine) evalTrend(rule *model.RuleDefinition, st *model.RuleState, snap model.IndicatorSnapshot, now time.Time) []model.AlertEvent {
	name := "roc_" + strconv.Itoa(rule.Lookback)
	v, ok := snap.Value(name)
	if !ok {
		if e.OnSkippedEval != nil {
			e.OnSkippedEval()
		}
		return nil
	}

	st.LastValue = v
	st.HasLastValue = true

	if st.Status != model.StatusArmed {
		return nil
	}

	hit := false
	if rule.Direction == model.DirectionRising {
		hit = v >= rule.Threshold
	} else {
		hit = v <= -rule.Threshold
	}
	if !hit {
		return nil
	}

	event := model.AlertEvent{
		ID:          model.AlertEventID(rule.ID, snap.WindowEnd, ""),
		RuleID:      rule.ID,
		Symbol:      rule.Symbol,
		Exchange:    rule.Exchange,
		TF:          rule.TF,
		TriggeredAt: now,
		Condition:   fmt.Sprintf("trend %s: %s beyond %g%%", rule.Direction, name, rule.Threshold),
		Observed:    v,
		Message:     rule.Message,
	}
	e.trigger(st, now)
	return []model.AlertEvent{event}
}

// trigger drives ARMED → TRIGGERED → COOLDOWN within the same cycle.
// The TRIGGERED leg collapses immediately, so only the final COOLDOWN
// state is ever observable or persisted. COOLDOWN begins at trigger time.
func (e *Engine) trigger(st *model.RuleState, now time.Time) {
	st.Status = model.StatusCooldown
	st.LastTrigger = now
}

func compare(v float64, op string, threshold float64) bool {
	switch op {
	case model.OpGT:
		return v > threshold
	case model.OpGE:
		return v >= threshold
	case model.OpLT:
		return v < threshold
	case model.OpLE:
		return v <= threshold
	default:
		return false
	}
}
