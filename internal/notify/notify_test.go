package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taployalty/tapagent/internal/agent"
	"github.com/taployalty/tapagent/internal/store"
)

func newTestWorker(t *testing.T) *store.Worker {
	t.Helper()
	w, err := store.NewWorker(t.TempDir(), store.RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

type failingNotifier struct {
	calls int
}

func (f *failingNotifier) Name() string { return "failing" }

func (f *failingNotifier) Send(ctx context.Context, n Notification) error {
	f.calls++
	return errors.New("channel down")
}

func (f *failingNotifier) Health(ctx context.Context) error { return nil }

func TestInboxNotifier_Send(t *testing.T) {
	w := newTestWorker(t)
	inbox := NewInboxNotifier(w)

	err := inbox.Send(context.Background(), Notification{
		MerchantID: "m1",
		AgentID:    "email-summary",
		AgentName:  "Email Summary",
		RunID:      "run1",
		Title:      "Daily summary ready",
		Body:       "You received 12 emails.",
	})
	require.NoError(t, err)

	docs, err := w.List(store.InboxCollection("m1"), 0, false)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var doc struct {
		AgentID   string    `json:"agentId"`
		Title     string    `json:"title"`
		Read      bool      `json:"read"`
		CreatedAt time.Time `json:"createdAt"`
	}
	require.NoError(t, json.Unmarshal(docs[0].Data, &doc))
	assert.Equal(t, "email-summary", doc.AgentID)
	assert.Equal(t, "Daily summary ready", doc.Title)
	assert.False(t, doc.Read)
	assert.False(t, doc.CreatedAt.IsZero(), "createdAt is server assigned")
}

func TestDispatcher_HonorsInboxPreference(t *testing.T) {
	w := newTestWorker(t)
	d := NewDispatcher(NewInboxNotifier(w))

	d.Dispatch(context.Background(), agent.Notifications{SendToInbox: false}, Notification{
		MerchantID: "m1", AgentID: "a1", Title: "skip",
	})
	d.Dispatch(context.Background(), agent.Notifications{SendToInbox: true}, Notification{
		MerchantID: "m1", AgentID: "a1", Title: "deliver",
	})

	docs, err := w.List(store.InboxCollection("m1"), 0, false)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "only the opted-in run reaches the inbox")
}

func TestDispatcher_OutboundFailureIsSwallowed(t *testing.T) {
	w := newTestWorker(t)
	failing := &failingNotifier{}
	d := NewDispatcher(NewInboxNotifier(w), failing)

	d.Dispatch(context.Background(), agent.Notifications{SendToInbox: true}, Notification{
		MerchantID: "m1", AgentID: "a1", Title: "hello",
	})

	assert.Equal(t, 1, failing.calls, "outbound channel was attempted")

	docs, err := w.List(store.InboxCollection("m1"), 0, false)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "inbox delivery unaffected by outbound failure")
}
