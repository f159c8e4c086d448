package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// AgentType identifies one of the supported agent kinds.
type AgentType string

const (
	// TypeCustomerService answers incoming customer emails. Trigger based:
	// enrollment registers an external mailbox watch.
	TypeCustomerService AgentType = "customer-service"

	// TypeEmailSummary sends a scheduled digest of the mailbox.
	TypeEmailSummary AgentType = "email-summary"

	// TypeEmailCategorizer sorts incoming mail into merchant-defined
	// categories and optionally drafts replies. Supports a realtime mode.
	TypeEmailCategorizer AgentType = "email-categorizer"

	// TypeCustom is a merchant-authored multi-step agent built from a free
	// text prompt and a set of selected tools.
	TypeCustom AgentType = "custom"
)

// Known reports whether t is one of the supported agent types.
func (t AgentType) Known() bool {
	switch t {
	case TypeCustomerService, TypeEmailSummary, TypeEmailCategorizer, TypeCustom:
		return true
	}
	return false
}

// ScheduleDriven reports whether enrollments of this type carry a schedule
// and therefore a schedule projection.
func (t AgentType) ScheduleDriven() bool {
	switch t {
	case TypeEmailSummary, TypeEmailCategorizer, TypeCustom:
		return true
	}
	return false
}

// TriggerBased reports whether connect must register an external trigger
// before the enrollment is written.
func (t AgentType) TriggerBased() bool {
	return t == TypeCustomerService
}

// Status is the enrollment lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Schedule frequencies.
const (
	FrequencyRealtime = "realtime"
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"
	FrequencyMonthly  = "monthly"
)

// Schedule describes when a schedule-driven agent runs.
type Schedule struct {
	Frequency   string   `json:"frequency"`
	Time        string   `json:"time,omitempty"`        // "HH:MM"
	Days        []string `json:"days,omitempty"`        // weekly
	SelectedDay string   `json:"selectedDay,omitempty"` // monthly, "1".."28"
}

// Realtime reports whether the schedule opts out of projection-driven runs.
func (s Schedule) Realtime() bool {
	return s.Frequency == FrequencyRealtime
}

// Notifications controls where run results are delivered.
type Notifications struct {
	SendToInbox  bool   `json:"sendToInbox"`
	SendViaEmail bool   `json:"sendViaEmail"`
	EmailAddress string `json:"emailAddress,omitempty"`
	EmailFormat  string `json:"emailFormat,omitempty"`
}

// Category is one categorizer bucket.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Rule routes matching mail into a category. Rule ids are assigned once at
// creation and never reused after deletion.
type Rule struct {
	ID         string `json:"id"`
	Match      string `json:"match"`
	CategoryID string `json:"categoryId"`
}

// DraftSettings configures automatic reply drafting for the categorizer.
type DraftSettings struct {
	Enabled            bool     `json:"enabled"`
	SelectedCategories []string `json:"selectedCategories,omitempty"`
	Tone               string   `json:"tone,omitempty"`
}

// Settings is the closed set of per-type configuration variants. Concrete
// types are CustomerServiceSettings, EmailSummarySettings,
// EmailCategorizerSettings and CustomSettings.
type Settings interface {
	// Type reports which agent kind the settings belong to.
	Type() AgentType

	// IsEnabled reports the top-level enabled toggle.
	IsEnabled() bool

	// ScheduleRef returns the schedule sub-object, nil for types without one.
	ScheduleRef() *Schedule

	// Clone returns a deep copy.
	Clone() Settings
}

// CustomerServiceSettings configures the trigger-based responder.
type CustomerServiceSettings struct {
	Enabled   bool   `json:"enabled"`
	AutoReply bool   `json:"autoReply"`
	Tone      string `json:"tone,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (s *CustomerServiceSettings) Type() AgentType { return TypeCustomerService }
func (s *CustomerServiceSettings) IsEnabled() bool { return s.Enabled }
func (s *CustomerServiceSettings) ScheduleRef() *Schedule { return nil }

func (s *CustomerServiceSettings) Clone() Settings {
	dup := *s
	return &dup
}

// EmailSummarySettings configures the scheduled digest.
type EmailSummarySettings struct {
	Enabled       bool          `json:"enabled"`
	Schedule      Schedule      `json:"schedule"`
	EmailFormat   string        `json:"emailFormat,omitempty"`
	Notifications Notifications `json:"notifications"`
}

func (s *EmailSummarySettings) Type() AgentType { return TypeEmailSummary }
func (s *EmailSummarySettings) IsEnabled() bool { return s.Enabled }
func (s *EmailSummarySettings) ScheduleRef() *Schedule { return &s.Schedule }

func (s *EmailSummarySettings) Clone() Settings {
	dup := *s
	dup.Schedule.Days = append([]string(nil), s.Schedule.Days...)
	return &dup
}

// EmailCategorizerSettings configures the categorizer/drafter.
type EmailCategorizerSettings struct {
	Enabled       bool          `json:"enabled"`
	Schedule      Schedule      `json:"schedule"`
	Categories    []Category    `json:"categories"`
	Rules         []Rule        `json:"rules,omitempty"`
	DraftSettings DraftSettings `json:"draftSettings"`
}

func (s *EmailCategorizerSettings) Type() AgentType { return TypeEmailCategorizer }
func (s *EmailCategorizerSettings) IsEnabled() bool { return s.Enabled }
func (s *EmailCategorizerSettings) ScheduleRef() *Schedule { return &s.Schedule }

func (s *EmailCategorizerSettings) Clone() Settings {
	dup := *s
	dup.Schedule.Days = append([]string(nil), s.Schedule.Days...)
	dup.Categories = append([]Category(nil), s.Categories...)
	dup.Rules = append([]Rule(nil), s.Rules...)
	dup.DraftSettings.SelectedCategories = append([]string(nil), s.DraftSettings.SelectedCategories...)
	return &dup
}

// CustomSettings configures a merchant-authored multi-step agent.
type CustomSettings struct {
	Enabled       bool          `json:"enabled"`
	Schedule      Schedule      `json:"schedule"`
	SelectedTools []string      `json:"selectedTools,omitempty"`
	Notifications Notifications `json:"notifications"`
}

func (s *CustomSettings) Type() AgentType { return TypeCustom }
func (s *CustomSettings) IsEnabled() bool { return s.Enabled }
func (s *CustomSettings) ScheduleRef() *Schedule { return &s.Schedule }

func (s *CustomSettings) Clone() Settings {
	dup := *s
	dup.Schedule.Days = append([]string(nil), s.Schedule.Days...)
	dup.SelectedTools = append([]string(nil), s.SelectedTools...)
	return &dup
}

// DefaultSettings returns the initial configuration for an agent type.
func DefaultSettings(t AgentType) Settings {
	switch t {
	case TypeCustomerService:
		return &CustomerServiceSettings{Enabled: true, AutoReply: false, Tone: "professional"}
	case TypeEmailSummary:
		return &EmailSummarySettings{
			Enabled:       true,
			Schedule:      Schedule{Frequency: FrequencyDaily, Time: "09:00"},
			EmailFormat:   "professional",
			Notifications: Notifications{SendToInbox: true},
		}
	case TypeEmailCategorizer:
		return &EmailCategorizerSettings{
			Enabled:  true,
			Schedule: Schedule{Frequency: FrequencyDaily, Time: "09:00"},
			Categories: []Category{
				{ID: "Invoices", Name: "Invoices", Enabled: true},
				{ID: "Support", Name: "Support", Enabled: true},
				{ID: "Promotions", Name: "Promotions", Enabled: false},
			},
			DraftSettings: DraftSettings{Enabled: false, Tone: "professional"},
		}
	case TypeCustom:
		return &CustomSettings{
			Enabled:       true,
			Schedule:      Schedule{Frequency: FrequencyDaily, Time: "09:00"},
			Notifications: Notifications{SendToInbox: true},
		}
	}
	return nil
}

// EnrollmentRecord is the persisted state of one merchant/agent pair.
type EnrollmentRecord struct {
	MerchantID       string     `json:"merchantId"`
	AgentID          string     `json:"agentId"`
	AgentName        string     `json:"agentName"`
	AgentType        AgentType  `json:"agentType"`
	Status           Status     `json:"status"`
	Settings         Settings   `json:"settings"`
	Prompt           string     `json:"prompt,omitempty"`
	AgentDescription string     `json:"agentDescription,omitempty"`
	ScheduleID       string     `json:"scheduleId,omitempty"`
	EnrolledAt       time.Time  `json:"enrolledAt"`
	LastUpdated      time.Time  `json:"lastUpdated"`
	DeactivatedAt    *time.Time `json:"deactivatedAt,omitempty"`
}

// UnmarshalJSON decodes the settings payload into the variant named by
// agentType.
func (r *EnrollmentRecord) UnmarshalJSON(data []byte) error {
	type alias EnrollmentRecord
	aux := struct {
		*alias
		Settings json.RawMessage `json:"settings"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Settings) == 0 || string(aux.Settings) == "null" {
		r.Settings = nil
		return nil
	}

	settings, err := DecodeSettings(r.AgentType, aux.Settings)
	if err != nil {
		return err
	}
	r.Settings = settings
	return nil
}

// DecodeSettings parses a raw settings payload into the typed variant for t.
// Keys outside the variant's schema are dropped by construction.
func DecodeSettings(t AgentType, raw json.RawMessage) (Settings, error) {
	if !t.Known() {
		return nil, fmt.Errorf("unknown agent type %q", t)
	}

	var settings Settings
	switch t {
	case TypeCustomerService:
		settings = &CustomerServiceSettings{}
	case TypeEmailSummary:
		settings = &EmailSummarySettings{}
	case TypeEmailCategorizer:
		settings = &EmailCategorizerSettings{}
	case TypeCustom:
		settings = &CustomSettings{}
	}

	if err := json.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("decode %s settings: %w", t, err)
	}
	return settings, nil
}

// ScheduleProjection is the denormalized schedule copy kept in the global
// agentschedule collection for the scheduler. Only the registry writes it.
type ScheduleProjection struct {
	ScheduleID  string    `json:"scheduleId"`
	MerchantID  string    `json:"merchantId"`
	AgentID     string    `json:"agentId"`
	AgentName   string    `json:"agentName"`
	AgentType   AgentType `json:"agentType"`
	Schedule    Schedule  `json:"schedule"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NewScheduleID allocates a schedule document id. ULID suffix keeps ids
// unique and time ordered.
func NewScheduleID(merchantID, agentID string) string {
	return fmt.Sprintf("%s_%s_%s", merchantID, agentID, ulid.Make().String())
}

// NewRuleID allocates a categorization rule id.
func NewRuleID() string {
	return ulid.Make().String()
}
