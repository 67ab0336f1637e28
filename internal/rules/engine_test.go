package rules

import (
	"context"
	"testing"
	"time"

	"alert-systemv1/internal/model"
)

// fakeStore is an in-memory model.RuleStore for engine tests.
type fakeStore struct {
	rules  []model.RuleDefinition
	states map[string]model.RuleState
	saves  int
}

func newFakeStore(rules ...model.RuleDefinition) *fakeStore {
	return &fakeStore{rules: rules, states: make(map[string]model.RuleState)}
}

func (s *fakeStore) LoadRules(ctx context.Context, exchange, symbol string) ([]model.RuleDefinition, error) {
	return s.rules, nil
}

func (s *fakeStore) LoadRuleState(ctx context.Context, ruleID string) (model.RuleState, bool, error) {
	st, ok := s.states[ruleID]
	return st, ok, nil
}

func (s *fakeStore) SaveRuleState(ctx context.Context, st model.RuleState) error {
	s.states[st.RuleID] = st
	s.saves++
	return nil
}

func priceLevelRule(id string, levels []float64, dir model.Direction, cooldown time.Duration) model.RuleDefinition {
	return model.RuleDefinition{
		ID:        id,
		Symbol:    "NIFTY50",
		Exchange:  "NSE",
		Kind:      model.RulePriceLevel,
		TF:        60,
		Levels:    levels,
		Direction: dir,
		Cooldown:  cooldown,
	}
}

func snapAt(end time.Time, close float64, values map[string]float64) model.IndicatorSnapshot {
	return model.IndicatorSnapshot{
		Symbol:    "NIFTY50",
		Exchange:  "NSE",
		TF:        60,
		WindowEnd: end,
		Candle: model.Candle{
			Symbol: "NIFTY50", Exchange: "NSE", TF: 60,
			Start: end.Add(-time.Minute), Close: close,
		},
		Values: values,
	}
}

// run feeds a sequence of closes one window apart, advancing the
// engine's clock with the window ends, and returns all emitted events.
func run(t *testing.T, e *Engine, closes []float64) []model.AlertEvent {
	t.Helper()
	base := time.Unix(1700000000, 0).UTC()
	var events []model.AlertEvent
	for i, c := range closes {
		end := base.Add(time.Duration(i) * time.Minute)
		e.Now = func() time.Time { return end }
		events = append(events, e.Evaluate(context.Background(), snapAt(end, c, nil))...)
	}
	return events
}

func TestEvaluate_RisingCrossingEmitsPerLevel(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100, 110}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	events := run(t, e, []float64{95, 105, 115})
	if len(events) != 2 {
		t.Fatalf("expected 2 events (one per crossed level), got %d: %+v", len(events), events)
	}
	if events[0].Condition != "price crossed 100 rising" {
		t.Errorf("unexpected first condition: %q", events[0].Condition)
	}
	if events[1].Condition != "price crossed 110 rising" {
		t.Errorf("unexpected second condition: %q", events[1].Condition)
	}
}

func TestEvaluate_GapCrossesMultipleLevelsInOneWindow(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100, 110}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	events := run(t, e, []float64{95, 120})
	if len(events) != 2 {
		t.Fatalf("expected one event per level crossed by the gap, got %d", len(events))
	}
	if events[0].ID == events[1].ID {
		t.Error("events for different levels must have distinct IDs")
	}
}

func TestEvaluate_StayingAboveLevelNeverRetriggers(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	events := run(t, e, []float64{95, 105, 106, 107})
	if len(events) != 1 {
		t.Fatalf("crossing is a transition, not a range check: got %d events", len(events))
	}
}

func TestEvaluate_FallingDirection(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionFalling, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	events := run(t, e, []float64{105, 95})
	if len(events) != 1 {
		t.Fatalf("expected 1 falling crossing, got %d", len(events))
	}
	if events[0].Observed != 95 {
		t.Errorf("expected observed 95, got %v", events[0].Observed)
	}
}

func TestEvaluate_CooldownSuppressesAndConsumesCrossings(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100, 110}, model.DirectionRising, time.Hour))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	// 95→105 triggers; 105→115 crosses 110 during cooldown and must be
	// consumed, not replayed once the rule re-arms.
	events := run(t, e, []float64{95, 105, 115, 116, 117})
	if len(events) != 1 {
		t.Fatalf("expected only the pre-cooldown event, got %d", len(events))
	}
}

func TestEvaluate_RearmsAfterCooldown(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, time.Minute))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	// One window per minute with a 1m cooldown: re-armed by the time the
	// price dips back below and crosses again.
	events := run(t, e, []float64{95, 105, 95, 105})
	if len(events) != 2 {
		t.Fatalf("expected re-trigger after cooldown, got %d events", len(events))
	}
}

func TestEvaluate_MissingIndicatorSkipsRuleOnly(t *testing.T) {
	threshold := model.RuleDefinition{
		ID: "vol1", Symbol: "NIFTY50", Exchange: "NSE",
		Kind: model.RuleVolumeThreshold, TF: 60,
		Indicator: "vol_delta_3", Op: model.OpGT, Threshold: 40,
	}
	store := newFakeStore(threshold, priceLevelRule("price1", []float64{100}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	skipped := 0
	e.OnSkippedEval = func() { skipped++ }
	e.Load(context.Background())

	// No vol_delta_3 in the snapshot: the threshold rule skips, the
	// price rule still evaluates.
	events := run(t, e, []float64{95, 105})
	if len(events) != 1 || events[0].RuleID != "price1" {
		t.Fatalf("expected only the price rule to fire, got %+v", events)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped evaluations, got %d", skipped)
	}

	// Indicator appears and satisfies the predicate.
	now := time.Unix(1700000000, 0).UTC().Add(5 * time.Minute)
	e.Now = func() time.Time { return now }
	events = e.Evaluate(context.Background(), snapAt(now, 105, map[string]float64{"vol_delta_3": 50}))
	if len(events) != 1 || events[0].RuleID != "vol1" {
		t.Fatalf("expected the threshold rule to fire once ready, got %+v", events)
	}
}

func TestEvaluate_ThresholdSustainedRespectsCooldown(t *testing.T) {
	store := newFakeStore(model.RuleDefinition{
		ID: "vol1", Symbol: "NIFTY50", Exchange: "NSE",
		Kind: model.RuleVolumeThreshold, TF: 60,
		Indicator: "vol_delta_3", Op: model.OpGE, Threshold: 40,
		Cooldown: time.Hour,
	})
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	base := time.Unix(1700000000, 0).UTC()
	total := 0
	for i := 0; i < 5; i++ {
		end := base.Add(time.Duration(i) * time.Minute)
		e.Now = func() time.Time { return end }
		total += len(e.Evaluate(context.Background(), snapAt(end, 100, map[string]float64{"vol_delta_3": 45})))
	}
	if total != 1 {
		t.Fatalf("sustained condition must fire once per cooldown, got %d", total)
	}
}

func TestEvaluate_TrendDirections(t *testing.T) {
	rising := model.RuleDefinition{
		ID: "up", Symbol: "NIFTY50", Exchange: "NSE",
		Kind: model.RuleTrend, TF: 60,
		Direction: model.DirectionRising, Lookback: 5, Threshold: 2,
	}
	falling := model.RuleDefinition{
		ID: "down", Symbol: "NIFTY50", Exchange: "NSE",
		Kind: model.RuleTrend, TF: 60,
		Direction: model.DirectionFalling, Lookback: 5, Threshold: 2,
	}
	store := newFakeStore(rising, falling)
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	now := time.Unix(1700000000, 0).UTC()
	e.Now = func() time.Time { return now }

	events := e.Evaluate(context.Background(), snapAt(now, 100, map[string]float64{"roc_5": 2.5}))
	if len(events) != 1 || events[0].RuleID != "up" {
		t.Fatalf("expected rising trend event, got %+v", events)
	}

	now = now.Add(time.Minute)
	events = e.Evaluate(context.Background(), snapAt(now, 100, map[string]float64{"roc_5": -2.5}))
	if len(events) != 1 || events[0].RuleID != "down" {
		t.Fatalf("expected falling trend event, got %+v", events)
	}
}

func TestEvaluate_DeterministicRuleOrder(t *testing.T) {
	// Loaded out of order; both cross the same level in the same window.
	store := newFakeStore(
		priceLevelRule("b-rule", []float64{100}, model.DirectionRising, 0),
		priceLevelRule("a-rule", []float64{100}, model.DirectionRising, 0),
	)
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	events := run(t, e, []float64{95, 105})
	if len(events) != 2 {
		t.Fatalf("expected both rules to fire, got %d", len(events))
	}
	if events[0].RuleID != "a-rule" || events[1].RuleID != "b-rule" {
		t.Errorf("expected rule ID order, got %s then %s", events[0].RuleID, events[1].RuleID)
	}
}

func TestEvaluate_EventIDsAreDeterministic(t *testing.T) {
	build := func() []model.AlertEvent {
		store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, 0))
		e := NewEngine(store, "NSE", "NIFTY50")
		e.Load(context.Background())
		return run(t, e, []float64{95, 105})
	}
	a, b := build(), build()
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected 1 event per run, got %d and %d", len(a), len(b))
	}
	if a[0].ID != b[0].ID {
		t.Errorf("replaying the same window must reproduce the event ID: %s vs %s", a[0].ID, b[0].ID)
	}
}

func TestLoad_RestoresPersistedCooldown(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, time.Hour))
	now := time.Unix(1700000000, 0).UTC()
	store.states["r1"] = model.RuleState{
		RuleID: "r1", Status: model.StatusCooldown,
		LastTrigger: now.Add(-time.Minute),
	}

	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	// Restored cooldown with 59m left: a crossing must not fire.
	base := now
	var events []model.AlertEvent
	for i, c := range []float64{95, 105} {
		end := base.Add(time.Duration(i) * time.Minute)
		e.Now = func() time.Time { return end }
		events = append(events, e.Evaluate(context.Background(), snapAt(end, c, nil))...)
	}
	if len(events) != 0 {
		t.Fatalf("expected restored cooldown to suppress, got %+v", events)
	}
}

func TestLoad_CoercesTriggeredToCooldown(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, time.Hour))
	store.states["r1"] = model.RuleState{RuleID: "r1", Status: model.StatusTriggered}

	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	if st := e.states["r1"]; st.Status != model.StatusCooldown {
		t.Errorf("TRIGGERED must not survive a restart, got %s", st.Status)
	}
}

func TestEvaluate_PersistsChangedStates(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	run(t, e, []float64{95, 105})
	saved, ok := store.states["r1"]
	if !ok {
		t.Fatal("expected state to be persisted")
	}
	if saved.Status != model.StatusCooldown && saved.Status != model.StatusArmed {
		t.Errorf("persisted status must be ARMED or COOLDOWN, got %s", saved.Status)
	}
	if !saved.HasLastValue || saved.LastValue != 105 {
		t.Errorf("expected persisted last value 105, got %+v", saved)
	}
}

func TestLoad_AppliesDefaultCooldown(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, model.CooldownUnset))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.DefaultCooldown = time.Hour
	e.Load(context.Background())

	events := run(t, e, []float64{95, 105, 95, 105})
	if len(events) != 1 {
		t.Fatalf("default cooldown must apply to rules without one, got %d events", len(events))
	}
}

func TestEvaluate_ExplicitZeroCooldownRearmsNextWindow(t *testing.T) {
	// Zero is a deliberate choice, not an omission: the default must
	// not override it and the rule re-arms by the next evaluation.
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.DefaultCooldown = time.Hour
	e.Load(context.Background())

	events := run(t, e, []float64{95, 105, 95, 105})
	if len(events) != 2 {
		t.Fatalf("expected both crossings to fire, got %d events", len(events))
	}
	if st := store.states["r1"]; st.Status != model.StatusCooldown {
		t.Errorf("persisted status after trigger = %s, want COOLDOWN", st.Status)
	}
}

func TestEvaluate_IgnoresOtherTimeframes(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	now := time.Unix(1700000000, 0).UTC()
	e.Now = func() time.Time { return now }

	snap := snapAt(now, 105, nil)
	snap.TF = 300
	if events := e.Evaluate(context.Background(), snap); len(events) != 0 {
		t.Fatalf("rule on 60s must ignore 300s snapshots, got %+v", events)
	}
}

func TestEvaluate_CloseLandingOnLevelTriggers(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionRising, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	// Landing exactly on the level counts as reaching it; the follow-on
	// move past it must not fire a second time.
	events := run(t, e, []float64{95, 100, 105})
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
	if events[0].Observed != 100 {
		t.Errorf("Observed = %g, want 100", events[0].Observed)
	}
}

func TestEvaluate_CloseLandingOnLevelTriggersFalling(t *testing.T) {
	store := newFakeStore(priceLevelRule("r1", []float64{100}, model.DirectionFalling, 0))
	e := NewEngine(store, "NSE", "NIFTY50")
	e.Load(context.Background())

	events := run(t, e, []float64{105, 100, 95})
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
	if events[0].Observed != 100 {
		t.Errorf("Observed = %g, want 100", events[0].Observed)
	}
}
