package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/taployalty/tapagent/internal/agent"
)

var cronDays = map[string]string{
	"sunday":    "SUN",
	"monday":    "MON",
	"tuesday":   "TUE",
	"wednesday": "WED",
	"thursday":  "THU",
	"friday":    "FRI",
	"saturday":  "SAT",
}

// CronSpec converts an agent schedule into a standard cron expression.
// Realtime schedules have no cron form and return an error.
func CronSpec(s agent.Schedule) (string, error) {
	if s.Realtime() {
		return "", fmt.Errorf("realtime schedule has no cron spec")
	}

	hour, minute, err := parseClock(s.Time)
	if err != nil {
		return "", err
	}

	switch s.Frequency {
	case agent.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil

	case agent.FrequencyWeekly:
		if len(s.Days) == 0 {
			return "", fmt.Errorf("weekly schedule has no days")
		}
		days := make([]string, 0, len(s.Days))
		for _, day := range s.Days {
			abbrev, ok := cronDays[strings.ToLower(day)]
			if !ok {
				return "", fmt.Errorf("unknown weekday %q", day)
			}
			days = append(days, abbrev)
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(days, ",")), nil

	case agent.FrequencyMonthly:
		day, err := strconv.Atoi(s.SelectedDay)
		if err != nil || day < 1 || day > 28 {
			return "", fmt.Errorf("invalid monthly day %q", s.SelectedDay)
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, day), nil

	default:
		return "", fmt.Errorf("unknown frequency %q", s.Frequency)
	}
}

// parseClock parses "HH:MM", defaulting to 09:00 when empty.
func parseClock(clock string) (hour, minute int, err error) {
	if clock == "" {
		return 9, 0, nil
	}
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q", clock)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", clock)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", clock)
	}
	return hour, minute, nil
}
