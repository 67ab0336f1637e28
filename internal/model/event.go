package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// alertNamespace is the UUIDv5 namespace for alert event IDs.
var alertNamespace = uuid.MustParse("9f2c1a4e-6b7d-4e0a-8c3f-5d1e2b9a7c64")

// AlertEvent is created by the rule engine on an ARMED→TRIGGERED
// transition and consumed exactly once by the router. It is immutable.
type AlertEvent struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	TF          int       `json:"tf"`
	TriggeredAt time.Time `json:"triggered_at"`
	Condition   string    `json:"condition"`
	Observed    float64   `json:"observed"`
	Message     string    `json:"message,omitempty"`
}

// AlertEventID derives a deterministic event ID from the rule and the
// window that triggered it. A pipeline-level replay of the same closed
// candle therefore regenerates the same ID, letting the router suppress
// the duplicate.
//
// qualifier disambiguates multiple events from one evaluation cycle,
// e.g. each price level crossed by a single gap.
func AlertEventID(ruleID string, windowEnd time.Time, qualifier string) string {
	name := ruleID + ":" + strconv.FormatInt(windowEnd.Unix(), 10)
	if qualifier != "" {
		name += ":" + qualifier
	}
	return uuid.NewSHA1(alertNamespace, []byte(name)).String()
}

// Key returns the instrument key: "exchange:symbol".
func (e *AlertEvent) Key() string {
	return e.Exchange + ":" + e.Symbol
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *AlertEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
