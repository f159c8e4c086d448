package agent

import (
	"encoding/json"
	"fmt"
	"unicode"
	"unicode/utf8"

	tperrors "github.com/taployalty/tapagent/internal/errors"
)

// Normalize decodes a raw settings payload into the typed variant for t and
// canonicalizes it. Unknown keys are dropped by the typed decode; categorizer
// category identifiers are rewritten to first-letter-upper casing so rule
// matching downstream never depends on input casing. Idempotent:
// Normalize(t, Normalize(t, s)) == Normalize(t, s).
func Normalize(t AgentType, raw json.RawMessage) (Settings, error) {
	settings, err := DecodeSettings(t, raw)
	if err != nil {
		return nil, tperrors.Wrap(err, "normalize settings")
	}
	NormalizeSettings(settings)
	return settings, nil
}

// NormalizeSettings canonicalizes an already-decoded settings value in place.
func NormalizeSettings(s Settings) {
	cat, ok := s.(*EmailCategorizerSettings)
	if !ok {
		return
	}

	for i := range cat.Categories {
		cat.Categories[i].ID = Canonicalize(cat.Categories[i].ID)
	}
	for i := range cat.Rules {
		cat.Rules[i].CategoryID = Canonicalize(cat.Rules[i].CategoryID)
	}
	for i := range cat.DraftSettings.SelectedCategories {
		cat.DraftSettings.SelectedCategories[i] = Canonicalize(cat.DraftSettings.SelectedCategories[i])
	}
}

// Canonicalize upper-cases the first rune of a category identifier.
func Canonicalize(id string) string {
	if id == "" {
		return id
	}
	r, size := utf8.DecodeRuneInString(id)
	if r == utf8.RuneError && size <= 1 {
		return id
	}
	upper := unicode.ToUpper(r)
	if upper == r {
		return id
	}
	return string(upper) + id[size:]
}

// MergeSettings shallow-merges the top-level keys present in patch over the
// current settings and returns the combined raw payload. Used by the merge
// update mode where the caller sends only the keys it changed.
func MergeSettings(current Settings, patch json.RawMessage) (json.RawMessage, error) {
	base := map[string]json.RawMessage{}
	if current != nil {
		encoded, err := json.Marshal(current)
		if err != nil {
			return nil, fmt.Errorf("encode current settings: %w", err)
		}
		if err := json.Unmarshal(encoded, &base); err != nil {
			return nil, fmt.Errorf("decode current settings: %w", err)
		}
	}

	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, tperrors.Validation("settings patch is not a JSON object")
	}
	for key, value := range overlay {
		base[key] = value
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode merged settings: %w", err)
	}
	return merged, nil
}

// ValidateSettings checks the per-type schema rules for settings that are
// about to be persisted on an active enrollment.
func ValidateSettings(t AgentType, s Settings) error {
	if s == nil {
		return tperrors.Validation("settings are required")
	}
	if s.Type() != t {
		return tperrors.Validation(fmt.Sprintf("settings are for type %s, record is %s", s.Type(), t))
	}

	switch v := s.(type) {
	case *EmailSummarySettings:
		if err := validateSchedule(v.Schedule, false); err != nil {
			return err
		}
		return validateNotifications(v.Notifications)

	case *EmailCategorizerSettings:
		if err := validateSchedule(v.Schedule, true); err != nil {
			return err
		}
		return validateCategorizer(v)

	case *CustomSettings:
		if err := validateSchedule(v.Schedule, false); err != nil {
			return err
		}
		return validateNotifications(v.Notifications)
	}

	return nil
}

func validateSchedule(s Schedule, allowRealtime bool) error {
	switch s.Frequency {
	case "":
		return tperrors.Validation("schedule.frequency is required")
	case FrequencyRealtime:
		if !allowRealtime {
			return tperrors.Validation("schedule.frequency realtime is not supported for this agent type")
		}
		return nil
	case FrequencyDaily:
		return nil
	case FrequencyWeekly:
		if len(s.Days) == 0 {
			return tperrors.Validation("weekly schedule requires at least one day")
		}
		return nil
	case FrequencyMonthly:
		if s.SelectedDay == "" {
			return tperrors.Validation("monthly schedule requires selectedDay")
		}
		return nil
	default:
		return tperrors.Validation(fmt.Sprintf("unknown schedule frequency %q", s.Frequency))
	}
}

func validateNotifications(n Notifications) error {
	if !n.SendToInbox && !n.SendViaEmail {
		return tperrors.Validation("at least one notification channel must be enabled")
	}
	if n.SendViaEmail && n.EmailAddress == "" {
		return tperrors.Validation("email notifications require an email address")
	}
	return nil
}

func validateCategorizer(s *EmailCategorizerSettings) error {
	enabled := map[string]bool{}
	known := map[string]bool{}
	enabledCount := 0
	for _, c := range s.Categories {
		if c.ID == "" {
			return tperrors.Validation("category id is required")
		}
		if known[c.ID] {
			return tperrors.Validation(fmt.Sprintf("duplicate category id %q", c.ID))
		}
		known[c.ID] = true
		if c.Enabled {
			enabled[c.ID] = true
			enabledCount++
		}
	}

	if enabledCount == 0 {
		return tperrors.Validation("categorizer requires at least one enabled category")
	}

	seen := map[string]bool{}
	for _, r := range s.Rules {
		if r.ID == "" {
			return tperrors.Validation("rule id is required")
		}
		if seen[r.ID] {
			return tperrors.Validation(fmt.Sprintf("duplicate rule id %q", r.ID))
		}
		seen[r.ID] = true
		if !known[r.CategoryID] {
			return tperrors.Validation(fmt.Sprintf("rule %s references unknown category %q", r.ID, r.CategoryID))
		}
		if !enabled[r.CategoryID] {
			return tperrors.Validation(fmt.Sprintf("rule %s references disabled category %q", r.ID, r.CategoryID))
		}
	}

	for _, id := range s.DraftSettings.SelectedCategories {
		if !known[id] {
			return tperrors.Validation(fmt.Sprintf("draft settings reference unknown category %q", id))
		}
	}

	return nil
}
