// Package notify delivers user-visible notifications for events that
// exhausted local absorption: terminal orders, dead limit orders, and
// failed plan executions.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swapsmith/internal/core"
	"swapsmith/pkg/telemetry"
)

// Event is one notification to deliver.
type Event struct {
	UserID    string
	Title     string
	Message   string
	Timestamp time.Time
}

// Channel is one delivery transport.
type Channel interface {
	Send(ctx context.Context, e Event) error
	Name() string
}

// Notifier fans events out to every configured channel. Delivery is
// best-effort: a failing channel is logged and never blocks the caller.
type Notifier struct {
	mu       sync.RWMutex
	channels []Channel
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
}

// New builds a notifier with no channels; callers add them via AddChannel.
func New(logger core.ILogger) *Notifier {
	return &Notifier{
		logger:  logger.WithField("component", "notifier"),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// AddChannel registers a delivery transport.
func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
	n.logger.Info("Added notification channel", "name", ch.Name())
}

// Notify implements core.INotifier. Dispatch is asynchronous so slow
// transports never stall the monitor or worker loops.
func (n *Notifier) Notify(ctx context.Context, userID, title, message string) {
	e := Event{
		UserID:    userID,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}

	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	for _, ch := range channels {
		go func(c Channel) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()

			if err := c.Send(sendCtx, e); err != nil {
				n.logger.Error("Failed to deliver notification",
					"channel", c.Name(), "user_id", e.UserID, "error", err)
				return
			}
			n.metrics.RecordNotification(sendCtx, c.Name())
		}(ch)
	}
}

// OrderListener returns a monitor listener that notifies users when
// their orders reach a terminal status. Idempotent by construction: the
// same (orderID, newStatus) renders the same message and transports
// deduplicate on their side or tolerate repeats.
func (n *Notifier) OrderListener() core.Listener {
	return func(userID, orderID string, oldStatus, newStatus core.Status, snapshot *core.OrderSnapshot) {
		if !newStatus.IsTerminal() {
			return
		}
		title := "Swap " + string(newStatus)
		msg := fmt.Sprintf("Order %s moved from %s to %s.", orderID, oldStatus, newStatus)
		if newStatus == core.StatusSettled && snapshot != nil && snapshot.SettleHash != "" {
			msg += fmt.Sprintf(" Settlement hash: %s", snapshot.SettleHash)
		}
		n.Notify(context.Background(), userID, title, msg)
	}
}
