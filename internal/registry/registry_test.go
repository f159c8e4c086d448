package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taployalty/tapagent/internal/agent"
	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/store"
	"github.com/taployalty/tapagent/internal/upstream"
)

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) Register(ctx context.Context, merchantID string) (*upstream.TriggerResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.TriggerResult{TriggerID: "t-1", EntityID: "e-1", Status: "active"}, nil
}

type fakeCategorize struct {
	err   error
	calls int
}

func (f *fakeCategorize) Kickoff(ctx context.Context, merchantID string) error {
	f.calls++
	return f.err
}

func newTestRegistry(t *testing.T) (*Registry, *fakeTrigger, *fakeCategorize) {
	t.Helper()
	worker, err := store.NewWorker(t.TempDir(), store.RuntimeConfig{})
	require.NoError(t, err)
	worker.Start()
	t.Cleanup(worker.Stop)

	trigger := &fakeTrigger{}
	categorize := &fakeCategorize{}
	return New(worker, trigger, categorize), trigger, categorize
}

func TestConnect_NewEnrollment(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeEmailSummary,
		Settings:   json.RawMessage(`{"schedule":{"frequency":"daily","time":"12:00"},"notifications":{"sendToInbox":true}}`),
	})
	require.NoError(t, err)

	assert.Equal(t, agent.StatusActive, rec.Status)
	assert.NotEmpty(t, rec.ScheduleID)
	assert.False(t, rec.EnrolledAt.IsZero())

	proj, err := r.GetProjection(ctx, rec.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, proj, "schedule projection created on connect")
	assert.Equal(t, "daily", proj.Schedule.Frequency)
	assert.Equal(t, "12:00", proj.Schedule.Time)
	assert.True(t, proj.Enabled)
}

func TestConnect_Unauthenticated(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Connect(context.Background(), ConnectParams{AgentType: agent.TypeEmailSummary})
	assert.ErrorIs(t, err, tperrors.ErrUnauthenticated)
}

func TestConnect_AllOrNothingOnTriggerFailure(t *testing.T) {
	r, trigger, _ := newTestRegistry(t)
	ctx := context.Background()
	trigger.err = tperrors.UpstreamTrigger("watch registration failed")

	_, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeCustomerService,
	})
	require.ErrorIs(t, err, tperrors.ErrUpstreamTrigger)
	assert.Equal(t, 1, trigger.calls)

	// No record may exist after the failed connect
	_, err = r.Get(ctx, "m1", string(agent.TypeCustomerService))
	assert.ErrorIs(t, err, tperrors.ErrNotFound)
}

func TestConnect_ReconnectPreservesConfiguration(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeEmailSummary,
		Settings:   json.RawMessage(`{"schedule":{"frequency":"weekly","days":["monday"]},"emailFormat":"simple","notifications":{"sendToInbox":true}}`),
	})
	require.NoError(t, err)

	_, err = r.Disconnect(ctx, "m1", first.AgentID)
	require.NoError(t, err)

	second, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeEmailSummary,
	})
	require.NoError(t, err)

	assert.Equal(t, agent.StatusActive, second.Status)
	assert.Nil(t, second.DeactivatedAt)
	assert.Equal(t, first.ScheduleID, second.ScheduleID, "scheduleId is stable across reconnect")
	assert.Equal(t, first.Settings, second.Settings, "settings survive disconnect, not reset to defaults")
	assert.True(t, first.EnrolledAt.Equal(second.EnrolledAt), "enrolledAt set once")
}

func TestConnect_CategorizeKickoffFailureIsSwallowed(t *testing.T) {
	r, _, categorize := newTestRegistry(t)
	ctx := context.Background()
	categorize.err = tperrors.UpstreamFunction("functions endpoint down")

	rec, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeEmailCategorizer,
	})
	require.NoError(t, err, "kickoff failure must not abort the enrollment")
	assert.Equal(t, 1, categorize.calls)

	got, err := r.Get(ctx, "m1", rec.AgentID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusActive, got.Status)
}

func TestConnect_CustomRequiresPrompt(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeCustom,
		AgentName:  "Weekly digest",
		Settings:   json.RawMessage(`{"schedule":{"frequency":"weekly","days":["friday"]},"notifications":{"sendToInbox":true}}`),
	})
	assert.ErrorIs(t, err, tperrors.ErrValidation)

	rec, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeCustom,
		AgentName:  "Weekly digest",
		Prompt:     "Summarize sales and post to @Sheets Append",
		Settings:   json.RawMessage(`{"schedule":{"frequency":"weekly","days":["friday"]},"notifications":{"sendToInbox":true}}`),
	})
	require.NoError(t, err)
	assert.Contains(t, rec.AgentID, "custom_", "registry assigns the document id")
}

func TestConnect_RealtimeCategorizerHasNoProjection(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeEmailCategorizer,
		Settings:   json.RawMessage(`{"schedule":{"frequency":"realtime"}}`),
	})
	require.NoError(t, err)
	assert.Empty(t, rec.ScheduleID, "realtime enrollments allocate no schedule")
}

func TestDisconnect_Idempotent(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailSummary})
	require.NoError(t, err)

	once, err := r.Disconnect(ctx, "m1", rec.AgentID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusInactive, once.Status)
	require.NotNil(t, once.DeactivatedAt)

	twice, err := r.Disconnect(ctx, "m1", rec.AgentID)
	require.NoError(t, err)
	assert.Equal(t, once.Status, twice.Status)
	assert.Equal(t, once.DeactivatedAt, twice.DeactivatedAt)
	assert.Equal(t, once.LastUpdated, twice.LastUpdated, "second disconnect is a no-op")

	// Projection stays but is disabled
	proj, err := r.GetProjection(ctx, rec.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, proj)
	assert.False(t, proj.Enabled)
}

func TestDisconnect_NotFound(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Disconnect(context.Background(), "m1", "email-summary")
	assert.ErrorIs(t, err, tperrors.ErrNotFound)
}

func TestUpdateSettings_ProjectionConsistency(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailSummary})
	require.NoError(t, err)

	// replace mode
	updated, err := r.UpdateSettings(ctx, "m1", rec.AgentID, json.RawMessage(
		`{"enabled":true,"schedule":{"frequency":"weekly","days":["monday","thursday"]},"notifications":{"sendToInbox":true}}`,
	), ModeReplace)
	require.NoError(t, err)

	proj, err := r.GetProjection(ctx, updated.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, proj)
	assert.Equal(t, "weekly", proj.Schedule.Frequency)
	assert.Equal(t, []string{"monday", "thursday"}, proj.Schedule.Days)

	// merge mode
	updated, err = r.UpdateSettings(ctx, "m1", rec.AgentID, json.RawMessage(
		`{"schedule":{"frequency":"monthly","selectedDay":"3"}}`,
	), ModeMerge)
	require.NoError(t, err)

	proj, err = r.GetProjection(ctx, updated.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, proj)
	assert.Equal(t, "monthly", proj.Schedule.Frequency)
	assert.Equal(t, "3", proj.Schedule.SelectedDay)
}

func TestUpdateSettings_MergeKeepsOtherKeys(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentType:  agent.TypeEmailSummary,
		Settings:   json.RawMessage(`{"schedule":{"frequency":"daily","time":"12:00"}}`),
	})
	require.NoError(t, err)

	updated, err := r.UpdateSettings(ctx, "m1", rec.AgentID, json.RawMessage(`{"enabled":false}`), ModeMerge)
	require.NoError(t, err)

	sum := updated.Settings.(*agent.EmailSummarySettings)
	assert.False(t, sum.Enabled)
	assert.Equal(t, "daily", sum.Schedule.Frequency)
	assert.Equal(t, "12:00", sum.Schedule.Time)

	proj, err := r.GetProjection(ctx, updated.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, proj)
	assert.False(t, proj.Enabled, "projection mirrors settings.enabled")
	assert.Equal(t, "daily", proj.Schedule.Frequency, "schedule untouched by merge of other keys")
}

func TestUpdateSettings_ValidationBlocksWrite(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailCategorizer})
	require.NoError(t, err)
	before, err := r.Get(ctx, "m1", rec.AgentID)
	require.NoError(t, err)

	// Rule points at a category that is not enabled
	_, err = r.UpdateSettings(ctx, "m1", rec.AgentID, json.RawMessage(`{
		"enabled": true,
		"schedule": {"frequency": "daily"},
		"categories": [{"id": "Invoices", "name": "Invoices", "enabled": true}],
		"rules": [{"id": "r1", "match": "promo", "categoryId": "Promotions"}]
	}`), ModeReplace)
	require.ErrorIs(t, err, tperrors.ErrValidation)
	assert.True(t, tperrors.BlocksWrite(err))

	after, err := r.Get(ctx, "m1", rec.AgentID)
	require.NoError(t, err)
	assert.Equal(t, before.Settings, after.Settings, "failed validation writes nothing")
}

func TestUpdateSettings_CanonicalizesCategories(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailCategorizer})
	require.NoError(t, err)

	updated, err := r.UpdateSettings(ctx, "m1", rec.AgentID, json.RawMessage(`{
		"enabled": true,
		"schedule": {"frequency": "daily"},
		"categories": [{"id": "invoices", "name": "Invoices", "enabled": true}],
		"rules": [{"id": "r1", "match": "invoice attached", "categoryId": "invoices"}]
	}`), ModeReplace)
	require.NoError(t, err)

	cat := updated.Settings.(*agent.EmailCategorizerSettings)
	assert.Equal(t, "Invoices", cat.Categories[0].ID)
	assert.Equal(t, "Invoices", cat.Rules[0].CategoryID)
}

func TestUpdateSettings_SwitchToRealtimeDropsProjection(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailCategorizer})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ScheduleID)

	updated, err := r.UpdateSettings(ctx, "m1", rec.AgentID, json.RawMessage(`{"schedule":{"frequency":"realtime"}}`), ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, rec.ScheduleID, updated.ScheduleID, "scheduleId stays for the life of the record")

	proj, err := r.GetProjection(ctx, rec.ScheduleID)
	require.NoError(t, err)
	assert.Nil(t, proj, "realtime frequency removes the projection")
}

func TestUpdateSettings_NotFound(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.UpdateSettings(context.Background(), "m1", "email-summary", json.RawMessage(`{}`), ModeMerge)
	assert.ErrorIs(t, err, tperrors.ErrNotFound)
}

func TestDeleteAgent_CascadesAndIsIdempotent(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailSummary})
	require.NoError(t, err)

	require.NoError(t, r.DeleteAgent(ctx, "m1", rec.AgentID))

	_, err = r.Get(ctx, "m1", rec.AgentID)
	assert.ErrorIs(t, err, tperrors.ErrNotFound)

	proj, err := r.GetProjection(ctx, rec.ScheduleID)
	require.NoError(t, err)
	assert.Nil(t, proj, "delete cascades to the projection")

	require.NoError(t, r.DeleteAgent(ctx, "m1", rec.AgentID), "second delete is a no-op success")
}

func TestList(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailSummary})
	require.NoError(t, err)
	_, err = r.Connect(ctx, ConnectParams{MerchantID: "m1", AgentType: agent.TypeEmailCategorizer})
	require.NoError(t, err)
	_, err = r.Connect(ctx, ConnectParams{MerchantID: "m2", AgentType: agent.TypeEmailSummary})
	require.NoError(t, err)

	records, err := r.List(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestEndToEndScenario(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Connect(ctx, ConnectParams{
		MerchantID: "m1",
		AgentID:    "email-summary",
		AgentType:  agent.TypeEmailSummary,
		Settings:   json.RawMessage(`{"schedule":{"frequency":"daily","time":"12:00"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusActive, rec.Status)
	require.NotEmpty(t, rec.ScheduleID)

	proj, err := r.GetProjection(ctx, rec.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, proj)
	assert.Equal(t, "daily", proj.Schedule.Frequency)

	updated, err := r.UpdateSettings(ctx, "m1", "email-summary", json.RawMessage(`{"enabled":false}`), ModeMerge)
	require.NoError(t, err)

	proj, err = r.GetProjection(ctx, rec.ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, proj)
	assert.False(t, proj.Enabled)
	assert.Equal(t, "daily", updated.Settings.(*agent.EmailSummarySettings).Schedule.Frequency, "schedule unchanged")

	require.NoError(t, r.DeleteAgent(ctx, "m1", "email-summary"))

	_, err = r.Get(ctx, "m1", "email-summary")
	assert.ErrorIs(t, err, tperrors.ErrNotFound)

	proj, err = r.GetProjection(ctx, rec.ScheduleID)
	require.NoError(t, err)
	assert.Nil(t, proj)
}
