// Package inspect renders run reports from the tracking store for the
// CLI and the API.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/swage/internal/tracking"
)

// stderrTailLines bounds how much captured stderr the human report
// prints. Python runners put the traceback at the end, so the tail is
// the useful part.
const stderrTailLines = 20

// Report is the structured JSON representation of a run report.
type Report struct {
	GroupID     string       `json:"group_id"`
	Project     string       `json:"project"`
	Experiment  string       `json:"experiment"`
	Selection   string       `json:"selection"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	DurationMS  *int64       `json:"duration_ms,omitempty"`
	FailedStep  string       `json:"failed_step,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	Steps       []StepReport `json:"steps"`
}

// StepReport is one step run within a report.
type StepReport struct {
	Position    int        `json:"position"`
	Step        string     `json:"step"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Stderr      string     `json:"stderr,omitempty"`
}

// BuildReport renders a terminal-friendly report for one run group.
func BuildReport(ctx context.Context, store *tracking.Store, groupID string) (string, error) {
	report, err := gatherReportData(ctx, store, groupID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Group ID    : %s\n", report.GroupID)
	fmt.Fprintf(&out, "Project     : %s\n", report.Project)
	fmt.Fprintf(&out, "Experiment  : %s\n", report.Experiment)
	fmt.Fprintf(&out, "Selection   : %s\n", report.Selection)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %s\n", renderDuration(report.DurationMS))
	if report.FailedStep != "" {
		fmt.Fprintf(&out, "Failed step : %s\n", report.FailedStep)
	}
	if report.LastError != "" {
		fmt.Fprintf(&out, "Error       : %s\n", report.LastError)
	}
	fmt.Fprintf(&out, "Steps       : %d\n", len(report.Steps))
	fmt.Fprintf(&out, "\n")

	for _, sr := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s (%s)\n", sr.Position+1, sr.Step, sr.Status)
		fmt.Fprintf(&out, "    started    : %s\n", sr.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(&out, "    duration   : %s\n", renderDuration(sr.DurationMS))
		if sr.ExitCode != nil {
			fmt.Fprintf(&out, "    exit code  : %d\n", *sr.ExitCode)
		}
		if sr.LastError != "" {
			fmt.Fprintf(&out, "    error      : %s\n", sr.LastError)
		}
		if sr.Stderr != "" {
			fmt.Fprintf(&out, "    stderr     :\n")
			for _, line := range stderrTail(sr.Stderr, stderrTailLines) {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON run report.
func BuildJSONReport(ctx context.Context, store *tracking.Store, groupID string) (string, error) {
	report, err := gatherReportData(ctx, store, groupID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store *tracking.Store, groupID string) (*Report, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("group id is required")
	}

	group, err := store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	stepRuns, err := store.StepsForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GroupID:     group.ID,
		Project:     group.Project,
		Experiment:  group.Experiment,
		Selection:   group.Selection,
		Status:      string(group.Status),
		StartedAt:   group.StartedAt,
		CompletedAt: group.CompletedAt,
		DurationMS:  durationMS(group.StartedAt, group.CompletedAt),
		Steps:       make([]StepReport, 0, len(stepRuns)),
	}
	if group.FailedStep != nil {
		report.FailedStep = *group.FailedStep
	}
	if group.LastError != nil {
		report.LastError = *group.LastError
	}

	for _, sr := range stepRuns {
		entry := StepReport{
			Position:    sr.Position,
			Step:        sr.Step,
			Status:      string(sr.Status),
			StartedAt:   sr.StartedAt,
			CompletedAt: sr.CompletedAt,
			DurationMS:  durationMS(sr.StartedAt, sr.CompletedAt),
			ExitCode:    sr.ExitCode,
		}
		if sr.LastError != nil {
			entry.LastError = *sr.LastError
		}
		if sr.Stderr != nil {
			entry.Stderr = *sr.Stderr
		}
		report.Steps = append(report.Steps, entry)
	}

	return report, nil
}

func durationMS(started time.Time, completed *time.Time) *int64 {
	if completed == nil {
		return nil
	}
	ms := completed.Sub(started).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}

func renderDuration(ms *int64) string {
	if ms == nil {
		return "<still running>"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

// stderrTail returns the last n lines of captured stderr, with a
// marker when earlier lines were dropped.
func stderrTail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return lines
	}
	trimmed := len(lines) - n
	out := make([]string, 0, n+1)
	out = append(out, fmt.Sprintf("(%d earlier lines trimmed)", trimmed))
	out = append(out, lines[trimmed:]...)
	return out
}
