package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/taployalty/tapagent/internal/agent"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type agentTableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func newAgentTableFormatter() *agentTableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &agentTableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1).
			Width(24),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *agentTableFormatter) FormatAgents(records []agent.EnrollmentRecord) string {
	if len(records) == 0 {
		return "No agents enrolled"
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers("ID", "Name", "Type", "Status", "Schedule")

	for _, rec := range records {
		t.Row(
			truncateString(rec.AgentID, 30),
			truncateString(rec.AgentName, 20),
			string(rec.AgentType),
			string(rec.Status),
			scheduleSummary(&rec),
		)
	}

	return t.String()
}

func (f *agentTableFormatter) FormatAgent(rec *agent.EnrollmentRecord) string {
	if rec == nil {
		return "No agent found"
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})

	t.Row("ID", rec.AgentID)
	t.Row("Name", rec.AgentName)
	t.Row("Type", string(rec.AgentType))
	t.Row("Status", string(rec.Status))
	t.Row("Schedule", scheduleSummary(rec))
	if rec.ScheduleID != "" {
		t.Row("Schedule ID", rec.ScheduleID)
	}
	if rec.Prompt != "" {
		t.Row("Prompt", truncateString(rec.Prompt, 60))
	}
	t.Row("Enrolled", rec.EnrolledAt.Format("2006-01-02 15:04"))
	t.Row("Updated", rec.LastUpdated.Format("2006-01-02 15:04"))

	return t.String()
}

func scheduleSummary(rec *agent.EnrollmentRecord) string {
	if rec.Settings == nil {
		return "-"
	}
	sched := rec.Settings.ScheduleRef()
	if sched == nil {
		return "trigger"
	}

	switch sched.Frequency {
	case agent.FrequencyRealtime:
		return "realtime"
	case agent.FrequencyWeekly:
		return fmt.Sprintf("weekly %s %s", strings.Join(sched.Days, ","), sched.Time)
	case agent.FrequencyMonthly:
		return fmt.Sprintf("monthly day %s %s", sched.SelectedDay, sched.Time)
	default:
		return fmt.Sprintf("%s %s", sched.Frequency, sched.Time)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// renderOutput prints v in the format selected by -o; the table callback is
// used for the default format.
func renderOutput(cmd *cobra.Command, v interface{}, tableFn func() string) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "", "table":
		fmt.Println(tableFn())
		return nil
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
