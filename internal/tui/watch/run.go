package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/swage/internal/events"
)

// RunState is the pipeline run currently shown in the watch TUI,
// reconstructed from lifecycle events.
type RunState struct {
	GroupID    string
	Project    string
	Experiment string
	Selection  string
	Status     string // running, succeeded, failed
	StartedAt  time.Time
	EndedAt    time.Time
	FailedStep string
	LastError  string
	Steps      []*StepState
}

// StepState tracks one step of the displayed run.
type StepState struct {
	Name      string
	Status    string // pending, running, succeeded, failed
	StartedAt time.Time
	Duration  time.Duration
	Err       string
}

// updateRunState folds one lifecycle event into the run view. A new
// pipeline.started replaces the previous run; step events for a group we
// never saw start (watcher attached mid-run, replay buffer rolled over)
// synthesize a partial run so the display is never blank.
func updateRunState(run *RunState, e events.Event) *RunState {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	groupID, _ := data["group_id"].(string)
	if groupID == "" {
		return run
	}

	if e.Type == "pipeline.started" {
		next := &RunState{
			GroupID:   groupID,
			Status:    "running",
			StartedAt: time.Now(),
			Selection: "all",
		}
		next.Project, _ = data["project"].(string)
		next.Experiment, _ = data["experiment"].(string)
		if sel, ok := data["selection"].(string); ok && sel != "" {
			next.Selection = sel
		}
		if names, ok := data["steps"].([]any); ok {
			for _, n := range names {
				if name, ok := n.(string); ok {
					next.Steps = append(next.Steps, &StepState{Name: name, Status: "pending"})
				}
			}
		}
		return next
	}

	if run == nil || run.GroupID != groupID {
		run = &RunState{GroupID: groupID, Status: "running", StartedAt: time.Now()}
	}

	switch e.Type {
	case "step.started":
		if st := findStep(run, data); st != nil {
			st.Status = "running"
			st.StartedAt = time.Now()
		}

	case "step.completed":
		if st := findStep(run, data); st != nil {
			st.Status = "succeeded"
			if ms, ok := data["duration_ms"].(float64); ok {
				st.Duration = time.Duration(ms) * time.Millisecond
			} else if !st.StartedAt.IsZero() {
				st.Duration = time.Since(st.StartedAt)
			}
		}

	case "step.failed":
		if st := findStep(run, data); st != nil {
			st.Status = "failed"
			st.Err, _ = data["error"].(string)
			if !st.StartedAt.IsZero() {
				st.Duration = time.Since(st.StartedAt)
			}
		}

	case "pipeline.completed":
		run.Status = "succeeded"
		run.EndedAt = time.Now()

	case "pipeline.failed":
		run.Status = "failed"
		run.EndedAt = time.Now()
		run.FailedStep, _ = data["failed_step"].(string)
		run.LastError, _ = data["error"].(string)
	}

	return run
}

func findStep(run *RunState, data map[string]any) *StepState {
	name, _ := data["step"].(string)
	if name == "" {
		return nil
	}
	for _, st := range run.Steps {
		if st.Name == name {
			return st
		}
	}
	st := &StepState{Name: name, Status: "pending"}
	run.Steps = append(run.Steps, st)
	return st
}

func renderRun(run *RunState, theme Theme, width int) string {
	innerWidth := width - 4

	if run == nil {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("CURRENT RUN"),
			theme.Dim.Render("  No runs observed yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var badge string
	switch run.Status {
	case "running":
		badge = theme.StatusRunning.Render("[running]")
	case "succeeded":
		badge = theme.StatusOK.Render("[succeeded]")
	case "failed":
		badge = theme.StatusFailed.Render("[failed]")
	default:
		badge = theme.Dim.Render("[" + run.Status + "]")
	}

	name := run.Project
	if run.Experiment != "" {
		name += "/" + run.Experiment
	}

	infoLine := fmt.Sprintf(" %s  %s  %s  %s",
		theme.Highlight.Render(shortID(run.GroupID)),
		name,
		badge,
		theme.Dim.Render(fmt.Sprintf("steps=%s  started %s", run.Selection, formatAgo(time.Since(run.StartedAt)))),
	)

	lines := []string{infoLine}
	for i, st := range run.Steps {
		lines = append(lines, renderStepRow(i+1, st, theme))
	}

	if run.Status == "failed" && run.LastError != "" {
		lines = append(lines, theme.StatusFailed.Render("    "+truncate(run.LastError, innerWidth-8)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("CURRENT RUN")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderStepRow(num int, st *StepState, theme Theme) string {
	var icon, detail string
	switch st.Status {
	case "running":
		icon = theme.StatusRunning.Render("▶")
		detail = theme.Dim.Render(time.Since(st.StartedAt).Round(time.Second).String())
	case "succeeded":
		icon = theme.StatusOK.Render("✅")
		detail = theme.Dim.Render(st.Duration.Round(time.Millisecond).String())
	case "failed":
		icon = theme.StatusFailed.Render("❌")
		detail = theme.StatusFailed.Render(truncate(st.Err, 48))
	default:
		icon = theme.StatusPending.Render("○")
	}

	return fmt.Sprintf(" %d. %s %-24s %s", num, icon, st.Name, detail)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
