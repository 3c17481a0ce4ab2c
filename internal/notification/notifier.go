// Package notification delivers enter and exit signals to external channels
// (webhooks, Telegram) and to the log.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signal-enginev1/internal/model"
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
	Level   AlertLevel       `json:"level"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Row     *model.SignalRow `json:"row,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Info("[notify] "+alert.Title, "level", string(alert.Level), "message", alert.Message)
	return nil
}

// SignalAlert builds the alert for a row. ok is false when the row carries no
// signal or is a preview.
func SignalAlert(row *model.SignalRow) (Alert, bool) {
	if row.Preview || (!row.Enter && !row.Exit) {
		return Alert{}, false
	}

	kind := "ENTER"
	level := AlertInfo
	switch {
	case row.Enter && row.Exit:
		kind = "ENTER+EXIT"
		level = AlertWarning
	case row.Exit:
		kind = "EXIT"
	}

	msg := fmt.Sprintf("%s close=%g at %s", row.Meta.Key(), row.Close, row.TS.UTC().Format(time.RFC3339))
	if row.RSI != nil {
		msg += fmt.Sprintf(" rsi=%.2f", *row.RSI)
	}
	if row.MACD != nil && row.MACDSignal != nil {
		msg += fmt.Sprintf(" macd=%.4f/%.4f", *row.MACD, *row.MACDSignal)
	}

	return Alert{
		Level:   level,
		Title:   kind + " " + row.Meta.Pair,
		Message: msg,
		Row:     row,
	}, true
}
