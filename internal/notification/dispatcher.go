package notification

import (
	"context"
	"log/slog"
	"time"

	"signal-enginev1/internal/model"
)

// Dispatcher sends an alert for every signal row to all notifiers.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration

	// OnError, when set, is called for each failed delivery.
	OnError func(n Notifier, err error)
}

// NewDispatcher creates a dispatcher over notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, timeout: 10 * time.Second}
}

// Notify sends the alert for row, if it carries a signal. Delivery errors
// are logged and do not stop the remaining notifiers.
func (d *Dispatcher) Notify(ctx context.Context, row *model.SignalRow) {
	alert, ok := SignalAlert(row)
	if !ok {
		return
	}
	for _, n := range d.notifiers {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sctx, alert)
		cancel()
		if err != nil {
			slog.Warn("[notify] delivery failed", "title", alert.Title, "error", err)
			if d.OnError != nil {
				d.OnError(n, err)
			}
		}
	}
}

// Run notifies for every row received until rows is closed.
func (d *Dispatcher) Run(ctx context.Context, rows <-chan model.SignalRow) {
	for row := range rows {
		d.Notify(ctx, &row)
	}
}
