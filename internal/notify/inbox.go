package notify

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"

	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/store"
)

// InboxNotifier writes notifications into the merchant's agentinbox
// collection.
type InboxNotifier struct {
	docs *store.Worker
}

func NewInboxNotifier(docs *store.Worker) *InboxNotifier {
	return &InboxNotifier{docs: docs}
}

type inboxDoc struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	RunID     string `json:"runId,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (i *InboxNotifier) Name() string { return "inbox" }

func (i *InboxNotifier) Send(ctx context.Context, n Notification) error {
	id := ulid.Make().String()
	doc := inboxDoc{
		ID:        id,
		AgentID:   n.AgentID,
		AgentName: n.AgentName,
		RunID:     n.RunID,
		Title:     n.Title,
		Body:      n.Body,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return tperrors.Wrap(err, "marshal inbox notification")
	}

	if _, err := i.docs.Put(store.InboxCollection(n.MerchantID), id, data, "createdAt"); err != nil {
		return tperrors.Wrap(err, "store inbox notification")
	}
	return nil
}

func (i *InboxNotifier) Health(ctx context.Context) error {
	if i.docs == nil || !i.docs.IsRunning() {
		return tperrors.Transient("document store not running")
	}
	return nil
}
