package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/curation-progress/internal/api/routes/tasks"
	"github.com/ahrav/curation-progress/internal/domain/progress"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#6C6C6C")
	successColor   = lipgloss.Color("#73F59F")
	errorColor     = lipgloss.Color("#FF6B6B")
	runningColor   = lipgloss.Color("#F5C873")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	subtleStyle  = lipgloss.NewStyle().Foreground(secondaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	runningStyle = lipgloss.NewStyle().Foreground(runningColor)
)

// statusStyle colors a task or stage status; both share these names.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case progress.TaskStatusCompleted.String():
		return successStyle
	case progress.TaskStatusFailed.String():
		return errorStyle
	case progress.TaskStatusProcessing.String():
		return runningStyle
	default:
		return subtleStyle
	}
}

// writeStructured prints v as JSON or YAML. YAML goes through JSON first so
// both formats share the API's field names.
func writeStructured(w io.Writer, format string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if format == FormatJSON {
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func validFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func lastStage(t tasks.Task) string {
	if len(t.Stages) == 0 {
		return "-"
	}
	s := t.Stages[len(t.Stages)-1]
	return s.Stage + ":" + s.Status
}

func writeTaskTable(w io.Writer, list []tasks.Task, now time.Time) error {
	if len(list) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No tasks."))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("TASK ID")+"\tLABEL\tSTATUS\tSTAGE\tUPDATED\tRETRYABLE")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			t.TaskID,
			t.Label,
			statusStyle(t.Status).Render(t.Status),
			lastStage(t),
			formatAge(now, t.UpdatedAt),
			t.Retryable,
		)
	}
	return tw.Flush()
}

func writeTaskDetail(w io.Writer, t tasks.Task, now time.Time) error {
	fmt.Fprintln(w, titleStyle.Render(t.TaskID))
	fmt.Fprintf(w, "  label:     %s\n", t.Label)
	fmt.Fprintf(w, "  status:    %s\n", statusStyle(t.Status).Render(t.Status))
	fmt.Fprintf(w, "  created:   %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  updated:   %s (%s)\n", t.UpdatedAt.Format(time.RFC3339), formatAge(now, t.UpdatedAt))
	if t.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", errorStyle.Render(t.Error))
	}
	if t.InputExpiresAt != nil {
		fmt.Fprintf(w, "  input:     expires %s\n", t.InputExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  retryable: %t\n", t.Retryable)

	if len(t.Stages) == 0 {
		return nil
	}
	fmt.Fprintln(w, subtleStyle.Render("  stages:"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range t.Stages {
		fmt.Fprintf(tw, "    %s\t%s\t%s\t%s\n",
			s.Stage,
			statusStyle(s.Status).Render(s.Status),
			s.Timestamp.Format(time.RFC3339),
			s.Message,
		)
	}
	return tw.Flush()
}

func writeUpdateLine(w io.Writer, u progress.Update) {
	ts := subtleStyle.Render(u.Timestamp.Format(time.TimeOnly))
	switch u.Type {
	case progress.UpdateTaskProgress:
		fmt.Fprintf(w, "%s %s %s %s %s\n", ts, u.TaskID, u.Stage,
			statusStyle(u.Status.String()).Render(u.Status.String()), u.Message)
	case progress.UpdateTaskCompleted:
		fmt.Fprintf(w, "%s %s %s\n", ts, u.TaskID, successStyle.Render("completed"))
	case progress.UpdateTaskFailed:
		fmt.Fprintf(w, "%s %s %s %s\n", ts, u.TaskID, errorStyle.Render("failed"), u.Error)
	}
}

// formatAge returns a human-readable relative time string.
func formatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours())/24)
	}
}
