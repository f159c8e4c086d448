package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taployalty/tapagent/internal/agent"
	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/store"
	"github.com/taployalty/tapagent/internal/upstream"
)

// UpdateMode selects how UpdateSettings combines the incoming payload with
// the stored settings.
type UpdateMode string

const (
	// ModeReplace overwrites the settings wholesale. Used when the caller's
	// local state is the full source of truth.
	ModeReplace UpdateMode = "replace"

	// ModeMerge shallow-merges only the top-level keys present in the
	// payload. Used when toggling a single switch.
	ModeMerge UpdateMode = "merge"
)

// TriggerRegistrar registers the external trigger a trigger-based agent
// depends on.
type TriggerRegistrar interface {
	Register(ctx context.Context, merchantID string) (*upstream.TriggerResult, error)
}

// CategorizeStarter kicks off the first categorization pass.
type CategorizeStarter interface {
	Kickoff(ctx context.Context, merchantID string) error
}

// Registry owns the enrollment lifecycle and is the only writer of the
// schedule projection collection.
type Registry struct {
	store      *store.Worker
	trigger    TriggerRegistrar
	categorize CategorizeStarter
	now        func() time.Time
}

func New(worker *store.Worker, trigger TriggerRegistrar, categorize CategorizeStarter) *Registry {
	return &Registry{
		store:      worker,
		trigger:    trigger,
		categorize: categorize,
		now:        time.Now,
	}
}

// ConnectParams describes one connect request. AgentID may be empty for the
// custom type, in which case the registry assigns a document id.
type ConnectParams struct {
	MerchantID       string
	AgentID          string
	AgentType        agent.AgentType
	AgentName        string
	Settings         json.RawMessage
	Prompt           string
	AgentDescription string
}

// Connect enrolls an agent, or re-activates a previously disconnected one.
// Reconnection preserves the existing settings and scheduleId rather than
// resetting to defaults.
func (r *Registry) Connect(ctx context.Context, p ConnectParams) (*agent.EnrollmentRecord, error) {
	if p.MerchantID == "" {
		return nil, tperrors.Unauthenticated("no merchant identity")
	}
	if !p.AgentType.Known() {
		return nil, tperrors.Validation(fmt.Sprintf("unknown agent type %q", p.AgentType))
	}

	agentID := p.AgentID
	if agentID == "" {
		if p.AgentType != agent.TypeCustom {
			agentID = string(p.AgentType)
		} else {
			agentID = "custom_" + ulid.Make().String()
		}
	}

	existing, err := r.loadRecord(p.MerchantID, agentID)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	var rec *agent.EnrollmentRecord

	if existing != nil {
		rec = existing
		rec.Status = agent.StatusActive
		rec.DeactivatedAt = nil
		rec.LastUpdated = now
		if p.AgentName != "" {
			rec.AgentName = p.AgentName
		}
		if len(p.Settings) > 0 {
			// Explicit settings on reconnect merge over what was kept
			merged, err := agent.MergeSettings(rec.Settings, p.Settings)
			if err != nil {
				return nil, err
			}
			settings, err := agent.Normalize(rec.AgentType, merged)
			if err != nil {
				return nil, err
			}
			rec.Settings = settings
		}
	} else {
		raw, err := json.Marshal(agent.DefaultSettings(p.AgentType))
		if err != nil {
			return nil, tperrors.Wrap(err, "encode default settings")
		}
		if len(p.Settings) > 0 {
			raw, err = mergeRaw(raw, p.Settings)
			if err != nil {
				return nil, err
			}
		}
		settings, err := agent.Normalize(p.AgentType, raw)
		if err != nil {
			return nil, err
		}

		name := p.AgentName
		if name == "" {
			name = defaultAgentName(p.AgentType)
		}

		rec = &agent.EnrollmentRecord{
			MerchantID:       p.MerchantID,
			AgentID:          agentID,
			AgentName:        name,
			AgentType:        p.AgentType,
			Status:           agent.StatusActive,
			Settings:         settings,
			Prompt:           p.Prompt,
			AgentDescription: p.AgentDescription,
			EnrolledAt:       now,
			LastUpdated:      now,
		}
	}

	if err := r.validateActive(rec); err != nil {
		return nil, err
	}

	// External trigger registration happens before any write so a failure
	// leaves no record behind (all-or-nothing).
	if rec.AgentType.TriggerBased() {
		result, err := r.trigger.Register(ctx, p.MerchantID)
		if err != nil {
			return nil, err
		}
		slog.Info("Trigger registered",
			"merchant", p.MerchantID,
			"agent", agentID,
			"trigger_id", result.TriggerID,
		)
	}

	if rec.AgentType.ScheduleDriven() {
		if rec.ScheduleID == "" && !scheduleOf(rec).Realtime() {
			rec.ScheduleID = agent.NewScheduleID(p.MerchantID, agentID)
		}
	}

	if err := r.saveRecord(rec); err != nil {
		return nil, err
	}
	if err := r.syncProjection(rec); err != nil {
		return nil, err
	}

	// The kickoff is a convenience, not a correctness dependency. Failures
	// are logged and the enrollment stands.
	if rec.AgentType == agent.TypeEmailCategorizer && r.categorize != nil {
		if err := r.categorize.Kickoff(ctx, p.MerchantID); err != nil {
			slog.Warn("Categorize kickoff failed, enrollment kept",
				"merchant", p.MerchantID,
				"agent", agentID,
				"error", err,
			)
		}
	}

	return rec, nil
}

// Disconnect deactivates an enrollment. Settings and scheduleId are kept so
// a later reconnect restores the previous configuration. Idempotent.
func (r *Registry) Disconnect(ctx context.Context, merchantID, agentID string) (*agent.EnrollmentRecord, error) {
	if merchantID == "" {
		return nil, tperrors.Unauthenticated("no merchant identity")
	}

	rec, err := r.loadRecord(merchantID, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, tperrors.NotFound(fmt.Sprintf("agent %s is not enrolled", agentID))
	}

	if rec.Status == agent.StatusInactive {
		return rec, nil
	}

	now := r.now().UTC()
	rec.Status = agent.StatusInactive
	rec.DeactivatedAt = &now
	rec.LastUpdated = now

	if err := r.saveRecord(rec); err != nil {
		return nil, err
	}
	if err := r.syncProjection(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateSettings normalizes and persists new settings and keeps the schedule
// projection in step.
func (r *Registry) UpdateSettings(ctx context.Context, merchantID, agentID string, newSettings json.RawMessage, mode UpdateMode) (*agent.EnrollmentRecord, error) {
	if merchantID == "" {
		return nil, tperrors.Unauthenticated("no merchant identity")
	}

	rec, err := r.loadRecord(merchantID, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, tperrors.NotFound(fmt.Sprintf("agent %s is not enrolled", agentID))
	}

	var raw json.RawMessage
	switch mode {
	case ModeReplace:
		raw = newSettings
	case ModeMerge:
		raw, err = agent.MergeSettings(rec.Settings, newSettings)
		if err != nil {
			return nil, err
		}
	default:
		return nil, tperrors.Validation(fmt.Sprintf("unknown update mode %q", mode))
	}

	settings, err := agent.Normalize(rec.AgentType, raw)
	if err != nil {
		return nil, err
	}
	if err := agent.ValidateSettings(rec.AgentType, settings); err != nil {
		return nil, err
	}

	rec.Settings = settings
	rec.LastUpdated = r.now().UTC()

	// First save after connect may still need a schedule id
	if rec.AgentType.ScheduleDriven() && rec.ScheduleID == "" && !scheduleOf(rec).Realtime() {
		rec.ScheduleID = agent.NewScheduleID(merchantID, agentID)
	}

	if err := r.saveRecord(rec); err != nil {
		return nil, err
	}
	if err := r.syncProjection(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteAgent hard-deletes the enrollment and cascades to the schedule
// projection. Deleting an absent enrollment is a no-op success.
func (r *Registry) DeleteAgent(ctx context.Context, merchantID, agentID string) error {
	if merchantID == "" {
		return tperrors.Unauthenticated("no merchant identity")
	}

	rec, err := r.loadRecord(merchantID, agentID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if err := r.store.Delete(store.EnrollmentsCollection(merchantID), agentID); err != nil {
		return tperrors.Wrap(err, "delete enrollment")
	}

	if rec.ScheduleID != "" {
		// Cascade is best-effort, absence of the projection is fine
		if err := r.store.Delete(store.CollectionSchedules, rec.ScheduleID); err != nil {
			slog.Warn("Failed to delete schedule projection",
				"merchant", merchantID,
				"agent", agentID,
				"schedule", rec.ScheduleID,
				"error", err,
			)
		}
	}
	return nil
}

// Get returns one enrollment or ErrNotFound.
func (r *Registry) Get(ctx context.Context, merchantID, agentID string) (*agent.EnrollmentRecord, error) {
	if merchantID == "" {
		return nil, tperrors.Unauthenticated("no merchant identity")
	}
	rec, err := r.loadRecord(merchantID, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, tperrors.NotFound(fmt.Sprintf("agent %s is not enrolled", agentID))
	}
	return rec, nil
}

// List returns every enrollment for a merchant ordered by agent id.
func (r *Registry) List(ctx context.Context, merchantID string) ([]agent.EnrollmentRecord, error) {
	if merchantID == "" {
		return nil, tperrors.Unauthenticated("no merchant identity")
	}
	docs, err := r.store.List(store.EnrollmentsCollection(merchantID), 0, false)
	if err != nil {
		return nil, tperrors.Wrap(err, "list enrollments")
	}

	records := make([]agent.EnrollmentRecord, 0, len(docs))
	for _, doc := range docs {
		var rec agent.EnrollmentRecord
		if err := json.Unmarshal(doc.Data, &rec); err != nil {
			slog.Warn("Skipping unreadable enrollment", "merchant", merchantID, "doc", doc.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetProjection returns one schedule projection, nil when absent.
func (r *Registry) GetProjection(ctx context.Context, scheduleID string) (*agent.ScheduleProjection, error) {
	data, err := r.store.Get(store.CollectionSchedules, scheduleID)
	if err != nil {
		return nil, tperrors.Wrap(err, "read schedule projection")
	}
	if data == nil {
		return nil, nil
	}
	var proj agent.ScheduleProjection
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, tperrors.Wrap(err, "decode schedule projection")
	}
	return &proj, nil
}

func (r *Registry) loadRecord(merchantID, agentID string) (*agent.EnrollmentRecord, error) {
	data, err := r.store.Get(store.EnrollmentsCollection(merchantID), agentID)
	if err != nil {
		return nil, tperrors.Wrap(err, "read enrollment")
	}
	if data == nil {
		return nil, nil
	}
	var rec agent.EnrollmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, tperrors.Wrap(err, "decode enrollment")
	}
	return &rec, nil
}

func (r *Registry) saveRecord(rec *agent.EnrollmentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return tperrors.Wrap(err, "encode enrollment")
	}
	if _, err := r.store.Put(store.EnrollmentsCollection(rec.MerchantID), rec.AgentID, data); err != nil {
		return tperrors.Wrap(err, "write enrollment")
	}
	return nil
}

// syncProjection reconciles the agentschedule document with the enrollment.
// The projection exists iff the type is schedule-driven and the frequency is
// not realtime; its enabled flag is status==active && settings.enabled, so
// the scheduler never needs to understand enrollment status.
func (r *Registry) syncProjection(rec *agent.EnrollmentRecord) error {
	if !rec.AgentType.ScheduleDriven() || rec.ScheduleID == "" {
		return nil
	}

	schedule := scheduleOf(rec)
	if schedule.Realtime() {
		if err := r.store.Delete(store.CollectionSchedules, rec.ScheduleID); err != nil {
			return tperrors.Wrap(err, "delete schedule projection")
		}
		return nil
	}

	now := r.now().UTC()
	proj := agent.ScheduleProjection{
		ScheduleID:  rec.ScheduleID,
		MerchantID:  rec.MerchantID,
		AgentID:     rec.AgentID,
		AgentName:   rec.AgentName,
		AgentType:   rec.AgentType,
		Schedule:    schedule,
		Enabled:     rec.Status == agent.StatusActive && rec.Settings.IsEnabled(),
		CreatedAt:   now,
		LastUpdated: now,
	}

	if existing, err := r.GetProjection(context.Background(), rec.ScheduleID); err == nil && existing != nil {
		proj.CreatedAt = existing.CreatedAt
	}

	data, err := json.Marshal(proj)
	if err != nil {
		return tperrors.Wrap(err, "encode schedule projection")
	}
	if _, err := r.store.Put(store.CollectionSchedules, rec.ScheduleID, data); err != nil {
		return tperrors.Wrap(err, "write schedule projection")
	}
	return nil
}

func (r *Registry) validateActive(rec *agent.EnrollmentRecord) error {
	if err := agent.ValidateSettings(rec.AgentType, rec.Settings); err != nil {
		return err
	}
	if rec.AgentType == agent.TypeCustom {
		if rec.Prompt == "" {
			return tperrors.Validation("custom agent requires a prompt")
		}
		if rec.AgentName == "" {
			return tperrors.Validation("custom agent requires a name")
		}
	}
	return nil
}

func scheduleOf(rec *agent.EnrollmentRecord) agent.Schedule {
	if s := rec.Settings.ScheduleRef(); s != nil {
		return *s
	}
	return agent.Schedule{}
}

func defaultAgentName(t agent.AgentType) string {
	switch t {
	case agent.TypeCustomerService:
		return "Customer Service"
	case agent.TypeEmailSummary:
		return "Email Summary"
	case agent.TypeEmailCategorizer:
		return "Email Categorizer"
	default:
		return "Custom Agent"
	}
}

func mergeRaw(base, overlay json.RawMessage) (json.RawMessage, error) {
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, tperrors.Wrap(err, "decode base settings")
	}
	patch := map[string]json.RawMessage{}
	if err := json.Unmarshal(overlay, &patch); err != nil {
		return nil, tperrors.Validation("settings payload is not a JSON object")
	}
	for k, v := range patch {
		merged[k] = v
	}
	return json.Marshal(merged)
}
