package scheduler

import (
	"testing"

	"github.com/robfig/cron/v3"

	"github.com/taployalty/tapagent/internal/agent"
)

func TestCronSpec(t *testing.T) {
	tests := []struct {
		name     string
		schedule agent.Schedule
		want     string
		wantErr  bool
	}{
		{
			name:     "daily",
			schedule: agent.Schedule{Frequency: agent.FrequencyDaily, Time: "08:30"},
			want:     "30 8 * * *",
		},
		{
			name:     "daily default time",
			schedule: agent.Schedule{Frequency: agent.FrequencyDaily},
			want:     "0 9 * * *",
		},
		{
			name:     "weekly",
			schedule: agent.Schedule{Frequency: agent.FrequencyWeekly, Time: "17:00", Days: []string{"Monday", "thursday"}},
			want:     "0 17 * * MON,THU",
		},
		{
			name:     "monthly",
			schedule: agent.Schedule{Frequency: agent.FrequencyMonthly, Time: "06:15", SelectedDay: "1"},
			want:     "15 6 1 * *",
		},
		{
			name:     "realtime has no spec",
			schedule: agent.Schedule{Frequency: agent.FrequencyRealtime},
			wantErr:  true,
		},
		{
			name:     "weekly without days",
			schedule: agent.Schedule{Frequency: agent.FrequencyWeekly, Time: "09:00"},
			wantErr:  true,
		},
		{
			name:     "weekly unknown day",
			schedule: agent.Schedule{Frequency: agent.FrequencyWeekly, Time: "09:00", Days: []string{"Caturday"}},
			wantErr:  true,
		},
		{
			name:     "monthly day out of range",
			schedule: agent.Schedule{Frequency: agent.FrequencyMonthly, Time: "09:00", SelectedDay: "31"},
			wantErr:  true,
		},
		{
			name:     "bad clock",
			schedule: agent.Schedule{Frequency: agent.FrequencyDaily, Time: "25:00"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CronSpec(tt.schedule)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got spec %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CronSpec failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("CronSpec = %q, want %q", got, tt.want)
			}
			if _, err := cron.ParseStandard(got); err != nil {
				t.Errorf("Generated spec %q does not parse: %v", got, err)
			}
		})
	}
}
