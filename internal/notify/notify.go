package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/taployalty/tapagent/internal/agent"
)

// Notification is one run result to deliver.
type Notification struct {
	MerchantID string    `json:"merchantId"`
	AgentID    string    `json:"agentId"`
	AgentName  string    `json:"agentName"`
	RunID      string    `json:"runId"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Notifier sends a notification to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	Health(ctx context.Context) error
}

// Dispatcher routes a notification to the merchant inbox per the agent's
// notification preferences and broadcasts to any configured operator
// channels. Delivery failures are logged, never returned; a run is not
// failed because a channel was down.
type Dispatcher struct {
	inbox    *InboxNotifier
	outbound []Notifier
}

func NewDispatcher(inbox *InboxNotifier, outbound ...Notifier) *Dispatcher {
	return &Dispatcher{inbox: inbox, outbound: outbound}
}

func (d *Dispatcher) Dispatch(ctx context.Context, prefs agent.Notifications, n Notification) {
	if prefs.SendToInbox && d.inbox != nil {
		if err := d.inbox.Send(ctx, n); err != nil {
			slog.Error("Inbox delivery failed", "merchant_id", n.MerchantID, "agent_id", n.AgentID, "error", err)
		}
	}

	// Email delivery happens upstream; the preference is stored with the
	// enrollment and read by the mailer function.

	for _, out := range d.outbound {
		if err := out.Send(ctx, n); err != nil {
			slog.Warn("Outbound delivery failed", "channel", out.Name(), "agent_id", n.AgentID, "error", err)
		}
	}
}
