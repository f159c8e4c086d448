package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentRecord_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	rec := EnrollmentRecord{
		MerchantID: "m1",
		AgentID:    "email-categorizer",
		AgentName:  "Email Categorizer",
		AgentType:  TypeEmailCategorizer,
		Status:     StatusActive,
		Settings: &EmailCategorizerSettings{
			Enabled:    true,
			Schedule:   Schedule{Frequency: FrequencyDaily, Time: "08:30"},
			Categories: []Category{{ID: "Invoices", Name: "Invoices", Enabled: true}},
		},
		ScheduleID:  "m1_email-categorizer_01J0000000000000000000000",
		EnrolledAt:  now,
		LastUpdated: now,
	}

	encoded, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded EnrollmentRecord
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, rec.ScheduleID, decoded.ScheduleID)
	cat, ok := decoded.Settings.(*EmailCategorizerSettings)
	require.True(t, ok, "settings decoded into the wrong variant")
	assert.Equal(t, "Invoices", cat.Categories[0].ID)
}

func TestAgentTypePredicates(t *testing.T) {
	assert.True(t, TypeCustomerService.TriggerBased())
	assert.False(t, TypeCustomerService.ScheduleDriven())

	for _, typ := range []AgentType{TypeEmailSummary, TypeEmailCategorizer, TypeCustom} {
		assert.True(t, typ.ScheduleDriven(), string(typ))
		assert.False(t, typ.TriggerBased(), string(typ))
	}

	assert.False(t, AgentType("mystery").Known())
}

func TestDefaultSettings(t *testing.T) {
	for _, typ := range []AgentType{TypeCustomerService, TypeEmailSummary, TypeEmailCategorizer, TypeCustom} {
		s := DefaultSettings(typ)
		require.NotNil(t, s, string(typ))
		assert.Equal(t, typ, s.Type())
		assert.True(t, s.IsEnabled())
	}
	assert.Nil(t, DefaultSettings(AgentType("mystery")))
}

func TestNewScheduleID_Unique(t *testing.T) {
	a := NewScheduleID("m1", "email-summary")
	b := NewScheduleID("m1", "email-summary")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "m1_email-summary_")
}
