package model

import (
	"errors"
	"testing"
	"time"
)

func validPriceRule() RuleDefinition {
	return RuleDefinition{
		ID:        "r1",
		Symbol:    "NIFTY50",
		Exchange:  "NSE",
		Kind:      RulePriceLevel,
		TF:        60,
		Levels:    []float64{100},
		Direction: DirectionRising,
	}
}

func TestRuleDefinition_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RuleDefinition)
		ok     bool
	}{
		{"valid price-level", func(r *RuleDefinition) {}, true},
		{"missing id", func(r *RuleDefinition) { r.ID = "" }, false},
		{"missing symbol", func(r *RuleDefinition) { r.Symbol = "" }, false},
		{"missing exchange", func(r *RuleDefinition) { r.Exchange = "" }, false},
		{"zero tf", func(r *RuleDefinition) { r.TF = 0 }, false},
		{"negative cooldown", func(r *RuleDefinition) { r.Cooldown = -time.Second }, false},
		{"unset cooldown", func(r *RuleDefinition) { r.Cooldown = CooldownUnset }, true},
		{"zero cooldown", func(r *RuleDefinition) { r.Cooldown = 0 }, true},
		{"price-level no levels", func(r *RuleDefinition) { r.Levels = nil }, false},
		{"price-level bad direction", func(r *RuleDefinition) { r.Direction = "sideways" }, false},
		{"unknown kind", func(r *RuleDefinition) { r.Kind = "magic" }, false},
		{"valid threshold", func(r *RuleDefinition) {
			r.Kind = RuleVolumeThreshold
			r.Indicator = "vol_delta_20"
			r.Op = OpGT
			r.Threshold = 100
		}, true},
		{"threshold no indicator", func(r *RuleDefinition) {
			r.Kind = RuleVolumeThreshold
			r.Op = OpGT
		}, false},
		{"threshold bad op", func(r *RuleDefinition) {
			r.Kind = RuleVolumeThreshold
			r.Indicator = "vol_delta_20"
			r.Op = "=="
		}, false},
		{"valid trend", func(r *RuleDefinition) {
			r.Kind = RuleTrend
			r.Lookback = 5
			r.Threshold = 2
		}, true},
		{"trend zero lookback", func(r *RuleDefinition) {
			r.Kind = RuleTrend
			r.Threshold = 2
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validPriceRule()
			tc.mutate(&r)
			err := r.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidRule) {
					t.Errorf("error must wrap ErrInvalidRule, got %v", err)
				}
			}
		})
	}
}

func TestAlertEventID_Deterministic(t *testing.T) {
	end := time.Unix(1700000000, 0).UTC()

	a := AlertEventID("r1", end, "100")
	b := AlertEventID("r1", end, "100")
	if a != b {
		t.Errorf("same inputs must produce the same ID: %s vs %s", a, b)
	}

	if AlertEventID("r1", end, "110") == a {
		t.Error("different qualifiers must produce different IDs")
	}
	if AlertEventID("r2", end, "100") == a {
		t.Error("different rules must produce different IDs")
	}
	if AlertEventID("r1", end.Add(time.Minute), "100") == a {
		t.Error("different windows must produce different IDs")
	}
}

func TestCandle_EndAndKeys(t *testing.T) {
	c := Candle{
		Symbol:   "NIFTY50",
		Exchange: "NSE",
		TF:       300,
		Start:    time.Unix(1700000100, 0).UTC(),
	}
	if got := c.End(); !got.Equal(time.Unix(1700000400, 0).UTC()) {
		t.Errorf("unexpected End: %v", got)
	}
	if got := c.Key(); got != "NSE:NIFTY50" {
		t.Errorf("unexpected Key: %s", got)
	}
	if got := c.WindowKey(); got != "NSE:NIFTY50:300:1700000100" {
		t.Errorf("unexpected WindowKey: %s", got)
	}
	if got := c.StreamKey(); got != "candle:300s:NSE:NIFTY50" {
		t.Errorf("unexpected StreamKey: %s", got)
	}
}

func TestInstrumentKey(t *testing.T) {
	inst := Instrument{Exchange: "NSE", Symbol: "NIFTY50"}
	if inst.Key() != "NSE:NIFTY50" {
		t.Errorf("unexpected instrument key: %s", inst.Key())
	}
	tick := Tick{Exchange: "NSE", Symbol: "NIFTY50"}
	if tick.Key() != inst.Key() {
		t.Errorf("tick and instrument keys must agree, got %s", tick.Key())
	}
}
