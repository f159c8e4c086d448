package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tperrors "github.com/taployalty/tapagent/internal/errors"
)

func TestNormalize_CanonicalizesCategoryCasing(t *testing.T) {
	raw := json.RawMessage(`{
		"enabled": true,
		"schedule": {"frequency": "daily", "time": "09:00"},
		"categories": [{"id": "invoices", "name": "Invoices", "enabled": true}],
		"rules": [{"id": "r1", "match": "invoice attached", "categoryId": "invoices"}],
		"draftSettings": {"enabled": true, "selectedCategories": ["invoices"]}
	}`)

	settings, err := Normalize(TypeEmailCategorizer, raw)
	require.NoError(t, err)

	cat := settings.(*EmailCategorizerSettings)
	assert.Equal(t, "Invoices", cat.Categories[0].ID)
	assert.Equal(t, "Invoices", cat.Rules[0].CategoryID)
	assert.Equal(t, "Invoices", cat.DraftSettings.SelectedCategories[0])
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := json.RawMessage(`{
		"enabled": true,
		"schedule": {"frequency": "weekly", "days": ["monday"]},
		"categories": [
			{"id": "Support", "name": "Support", "enabled": true},
			{"id": "promotions", "name": "Promos", "enabled": false}
		],
		"rules": [{"id": "r1", "match": "help", "categoryId": "Support"}]
	}`)

	once, err := Normalize(TypeEmailCategorizer, raw)
	require.NoError(t, err)

	encoded, err := json.Marshal(once)
	require.NoError(t, err)

	twice, err := Normalize(TypeEmailCategorizer, encoded)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalize_DropsUnknownKeys(t *testing.T) {
	// Stray UI state such as search box text must not survive a write.
	raw := json.RawMessage(`{
		"enabled": true,
		"schedule": {"frequency": "daily"},
		"notifications": {"sendToInbox": true},
		"searchQuery": "inv",
		"dropdownOpen": true
	}`)

	settings, err := Normalize(TypeEmailSummary, raw)
	require.NoError(t, err)

	encoded, err := json.Marshal(settings)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "searchQuery")
	assert.NotContains(t, string(encoded), "dropdownOpen")
}

func TestNormalize_UnknownType(t *testing.T) {
	_, err := Normalize(AgentType("mystery"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "Invoices", Canonicalize("invoices"))
	assert.Equal(t, "Invoices", Canonicalize("Invoices"))
	assert.Equal(t, "", Canonicalize(""))
	assert.Equal(t, "Ärenden", Canonicalize("ärenden"))
}

func TestMergeSettings_TopLevelOnly(t *testing.T) {
	current := &EmailSummarySettings{
		Enabled:       true,
		Schedule:      Schedule{Frequency: FrequencyDaily, Time: "12:00"},
		Notifications: Notifications{SendToInbox: true},
	}

	merged, err := MergeSettings(current, json.RawMessage(`{"enabled": false}`))
	require.NoError(t, err)

	settings, err := Normalize(TypeEmailSummary, merged)
	require.NoError(t, err)

	sum := settings.(*EmailSummarySettings)
	assert.False(t, sum.Enabled)
	assert.Equal(t, FrequencyDaily, sum.Schedule.Frequency)
	assert.Equal(t, "12:00", sum.Schedule.Time)
	assert.True(t, sum.Notifications.SendToInbox)
}

func TestMergeSettings_RejectsNonObjectPatch(t *testing.T) {
	_, err := MergeSettings(DefaultSettings(TypeEmailSummary), json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, tperrors.ErrValidation)
}

func TestValidateSettings_Categorizer(t *testing.T) {
	base := func() *EmailCategorizerSettings {
		return &EmailCategorizerSettings{
			Enabled:  true,
			Schedule: Schedule{Frequency: FrequencyDaily},
			Categories: []Category{
				{ID: "Invoices", Name: "Invoices", Enabled: true},
				{ID: "Archive", Name: "Archive", Enabled: false},
			},
			Rules: []Rule{{ID: "r1", Match: "invoice", CategoryID: "Invoices"}},
		}
	}

	assert.NoError(t, ValidateSettings(TypeEmailCategorizer, base()))

	noEnabled := base()
	for i := range noEnabled.Categories {
		noEnabled.Categories[i].Enabled = false
	}
	assert.ErrorIs(t, ValidateSettings(TypeEmailCategorizer, noEnabled), tperrors.ErrValidation)

	disabledTarget := base()
	disabledTarget.Rules[0].CategoryID = "Archive"
	assert.ErrorIs(t, ValidateSettings(TypeEmailCategorizer, disabledTarget), tperrors.ErrValidation)

	unknownTarget := base()
	unknownTarget.Rules[0].CategoryID = "Nope"
	assert.ErrorIs(t, ValidateSettings(TypeEmailCategorizer, unknownTarget), tperrors.ErrValidation)

	realtime := base()
	realtime.Schedule = Schedule{Frequency: FrequencyRealtime}
	realtime.Rules = nil
	assert.NoError(t, ValidateSettings(TypeEmailCategorizer, realtime))
}

func TestValidateSettings_Notifications(t *testing.T) {
	s := &EmailSummarySettings{
		Enabled:  true,
		Schedule: Schedule{Frequency: FrequencyDaily},
	}
	assert.ErrorIs(t, ValidateSettings(TypeEmailSummary, s), tperrors.ErrValidation)

	s.Notifications.SendViaEmail = true
	assert.ErrorIs(t, ValidateSettings(TypeEmailSummary, s), tperrors.ErrValidation)

	s.Notifications.EmailAddress = "ops@merchant.example"
	assert.NoError(t, ValidateSettings(TypeEmailSummary, s))
}

func TestValidateSettings_ScheduleShapes(t *testing.T) {
	weekly := &CustomSettings{
		Enabled:       true,
		Schedule:      Schedule{Frequency: FrequencyWeekly},
		Notifications: Notifications{SendToInbox: true},
	}
	assert.ErrorIs(t, ValidateSettings(TypeCustom, weekly), tperrors.ErrValidation)

	weekly.Schedule.Days = []string{"friday"}
	assert.NoError(t, ValidateSettings(TypeCustom, weekly))

	monthly := weekly.Clone().(*CustomSettings)
	monthly.Schedule = Schedule{Frequency: FrequencyMonthly}
	assert.ErrorIs(t, ValidateSettings(TypeCustom, monthly), tperrors.ErrValidation)

	monthly.Schedule.SelectedDay = "15"
	assert.NoError(t, ValidateSettings(TypeCustom, monthly))

	realtimeCustom := weekly.Clone().(*CustomSettings)
	realtimeCustom.Schedule = Schedule{Frequency: FrequencyRealtime}
	assert.ErrorIs(t, ValidateSettings(TypeCustom, realtimeCustom), tperrors.ErrValidation)
}
