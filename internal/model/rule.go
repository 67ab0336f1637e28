package model

import (
	"errors"
	"fmt"
	"time"
)

// RuleKind identifies the predicate family of a rule.
type RuleKind string

const (
	RulePriceLevel      RuleKind = "price-level"
	RuleVolumeThreshold RuleKind = "volume-threshold"
	RuleTrend           RuleKind = "trend"
)

// Direction constrains price-level and trend rules.
type Direction string

const (
	DirectionRising  Direction = "rising"
	DirectionFalling Direction = "falling"
)

// Comparison operators for volume-threshold rules.
const (
	OpGT = ">"
	OpGE = ">="
	OpLT = "<"
	OpLE = "<="
)

// ErrInvalidRule marks a RuleDefinition rejected at load time. Invalid
// rules never reach evaluation.
var ErrInvalidRule = errors.New("invalid rule definition")

// RuleDefinition is a user-authored alert rule. Definitions are
// immutable during an evaluation pass; the active set per instrument is
// swapped atomically on reload.
type RuleDefinition struct {
	ID       string   `json:"id"`
	Symbol   string   `json:"symbol"`
	Exchange string   `json:"exchange"`
	Kind     RuleKind `json:"kind"`
	TF       int      `json:"tf"` // timeframe the rule evaluates on, seconds

	// price-level parameters
	Levels    []float64 `json:"levels,omitempty"`
	Direction Direction `json:"direction,omitempty"`

	// volume-threshold parameters
	Indicator string  `json:"indicator,omitempty"` // e.g. "vol_delta_20"
	Op        string  `json:"op,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`

	// trend parameters
	Lookback int `json:"lookback,omitempty"`

	Cooldown time.Duration `json:"cooldown"`
	Message  string        `json:"message,omitempty"`
}

// CooldownUnset marks a definition whose author left the cooldown out
// entirely; the engine substitutes its configured default at load. An
// explicit zero is a real choice and is honored as-is: the rule re-arms
// on the very next evaluation after triggering.
const CooldownUnset time.Duration = -1

// InstrumentKey returns the instrument this rule is bound to.
func (r *RuleDefinition) InstrumentKey() string {
	return r.Exchange + ":" + r.Symbol
}

// Validate rejects malformed definitions at the storage boundary.
func (r *RuleDefinition) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if r.Symbol == "" || r.Exchange == "" {
		return fmt.Errorf("%w: rule %s: missing instrument", ErrInvalidRule, r.ID)
	}
	if r.TF <= 0 {
		return fmt.Errorf("%w: rule %s: timeframe must be positive", ErrInvalidRule, r.ID)
	}
	if r.Cooldown < 0 && r.Cooldown != CooldownUnset {
		return fmt.Errorf("%w: rule %s: negative cooldown", ErrInvalidRule, r.ID)
	}
	switch r.Kind {
	case RulePriceLevel:
		if len(r.Levels) == 0 {
			return fmt.Errorf("%w: rule %s: price-level requires levels", ErrInvalidRule, r.ID)
		}
		if r.Direction != DirectionRising && r.Direction != DirectionFalling {
			return fmt.Errorf("%w: rule %s: price-level requires direction rising|falling", ErrInvalidRule, r.ID)
		}
	case RuleVolumeThreshold:
		if r.Indicator == "" {
			return fmt.Errorf("%w: rule %s: volume-threshold requires indicator", ErrInvalidRule, r.ID)
		}
		switch r.Op {
		case OpGT, OpGE, OpLT, OpLE:
		default:
			return fmt.Errorf("%w: rule %s: unsupported operator %q", ErrInvalidRule, r.ID, r.Op)
		}
	case RuleTrend:
		if r.Lookback <= 0 {
			return fmt.Errorf("%w: rule %s: trend requires positive lookback", ErrInvalidRule, r.ID)
		}
		if r.Direction != DirectionRising && r.Direction != DirectionFalling {
			return fmt.Errorf("%w: rule %s: trend requires direction rising|falling", ErrInvalidRule, r.ID)
		}
	default:
		return fmt.Errorf("%w: rule %s: unknown kind %q", ErrInvalidRule, r.ID, r.Kind)
	}
	return nil
}

// RuleStatus is the hysteresis state of a rule instance.
type RuleStatus string

const (
	StatusArmed     RuleStatus = "ARMED"
	StatusTriggered RuleStatus = "TRIGGERED"
	StatusCooldown  RuleStatus = "COOLDOWN"
)

// RuleState is the mutable per-rule trigger state, owned exclusively by
// the rule engine and persisted through the storage collaborator so
// restarts resume correct hysteresis.
//
// TRIGGERED is transient: a rule never remains TRIGGERED across
// evaluation cycles, so persisted states only ever read ARMED or COOLDOWN.
type RuleState struct {
	RuleID       string     `json:"rule_id"`
	Status       RuleStatus `json:"status"`
	LastTrigger  time.Time  `json:"last_trigger,omitempty"`
	LastValue    float64    `json:"last_value"`
	HasLastValue bool       `json:"has_last_value"`
}

// NewRuleState returns the initial state for a freshly loaded rule.
func NewRuleState(ruleID string) RuleState {
	return RuleState{RuleID: ruleID, Status: StatusArmed}
}
