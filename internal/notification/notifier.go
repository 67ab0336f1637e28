// Package notification provides alert delivery to external channels
// (Telegram, DingTalk, webhooks) for triggered rule events. The core
// pipeline hands each accepted event off exactly once; retry and
// backoff are each channel's own responsibility.
package notification

import (
	"context"
	"fmt"
	"log"

	"alert-systemv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	// Event carries the originating rule trigger for channels that
	// forward structured payloads.
	Event model.AlertEvent `json:"event"`
}

// FromEvent renders an alert event into a channel-ready Alert.
func FromEvent(e model.AlertEvent) Alert {
	msg := fmt.Sprintf("%s (observed %g)", e.Condition, e.Observed)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("[%s:%s] %s", e.Exchange, e.Symbol, e.RuleID),
		Message: msg,
		Event:   e,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
