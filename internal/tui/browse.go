// Package tui holds the interactive terminal surfaces: the runs browser
// here and the live watch view under watch/.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

type runSummary struct {
	GroupID     string     `json:"group_id"`
	Project     string     `json:"project"`
	Experiment  string     `json:"experiment"`
	Selection   string     `json:"selection"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	FailedStep  string     `json:"failed_step"`
}

type stepRun struct {
	Step        string     `json:"step"`
	Position    int        `json:"position"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ExitCode    *int       `json:"exit_code"`
	Error       string     `json:"error"`
}

type runDetail struct {
	GroupID string    `json:"group_id"`
	Status  string    `json:"status"`
	Error   string    `json:"error"`
	Steps   []stepRun `json:"steps"`
}

type runsMsg []runSummary
type detailMsg runDetail
type refreshMsg time.Time
type errMsg error

// Browser is a BubbleTea model that lists recent pipeline runs from the
// API and shows the step breakdown of the selected run.
type Browser struct {
	apiURL string
	apiKey string

	width  int
	height int

	runs   []runSummary
	detail *runDetail

	runTable table.Model

	lastError string
}

func NewBrowser(apiURL, apiKey string) Browser {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Run", Width: 10},
			{Title: "Project", Width: 20},
			{Title: "Steps", Width: 28},
			{Title: "Started", Width: 19},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Browser{
		apiURL:   apiURL,
		apiKey:   apiKey,
		runTable: t,
	}
}

func (m Browser) Init() tea.Cmd {
	return tea.Batch(
		fetchRuns(m.apiURL, m.apiKey),
		tea.EnterAltScreen,
	)
}

func (m Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchRuns(m.apiURL, m.apiKey)
		case "enter":
			if id := m.selectedGroupID(); id != "" {
				return m, fetchRunDetail(m.apiURL, m.apiKey, id)
			}
		case "esc":
			m.detail = nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runTable.SetWidth(m.width - 6)

	case runsMsg:
		m.runs = msg
		m.lastError = ""
		m.updateTable()
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg { return refreshMsg(t) })

	case refreshMsg:
		return m, fetchRuns(m.apiURL, m.apiKey)

	case detailMsg:
		d := runDetail(msg)
		m.detail = &d

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg { return refreshMsg(t) })
	}

	m.runTable, cmd = m.runTable.Update(msg)
	return m, cmd
}

func (m Browser) selectedGroupID() string {
	idx := m.runTable.Cursor()
	if idx < 0 || idx >= len(m.runs) {
		return ""
	}
	return m.runs[idx].GroupID
}

func (m *Browser) updateTable() {
	rows := make([]table.Row, 0, len(m.runs))
	for _, r := range m.runs {
		rows = append(rows, table.Row{
			statusSymbol(r.Status),
			shortGroupID(r.GroupID),
			r.Project + "/" + r.Experiment,
			r.Selection,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(r),
		})
	}
	m.runTable.SetRows(rows)
}

func statusSymbol(status string) string {
	switch status {
	case "running":
		return statusRunning.Render("◉")
	case "succeeded":
		return statusOK.Render("●")
	case "failed":
		return statusFailed.Render("∅")
	default:
		return dimStyle.Render("○")
	}
}

func runDuration(r runSummary) string {
	switch {
	case r.CompletedAt != nil:
		return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
	case r.Status == "running":
		return time.Since(r.StartedAt).Round(time.Second).String()
	default:
		return "-"
	}
}

func shortGroupID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- View ---

func (m Browser) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	runsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("RUNS"),
			m.runTable.View(),
		),
	)

	parts := []string{runsView}

	if m.detail != nil {
		parts = append(parts, borderStyle.Width(m.width-4).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				titleStyle.Render(fmt.Sprintf("RUN %s (%s)", shortGroupID(m.detail.GroupID), m.detail.Status)),
				m.renderDetail(),
			),
		))
	}

	if m.lastError != "" {
		parts = append(parts, statusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select • [enter] Inspect • [esc] Close • [r] Refresh")
	parts = append(parts, help)

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Browser) renderDetail() string {
	if len(m.detail.Steps) == 0 {
		return dimStyle.Render("  No step executions recorded.")
	}

	lines := make([]string, 0, len(m.detail.Steps)+1)
	for _, st := range m.detail.Steps {
		duration := "-"
		if st.CompletedAt != nil {
			duration = st.CompletedAt.Sub(st.StartedAt).Round(time.Millisecond).String()
		}

		line := fmt.Sprintf("  %d. %s %-24s %s", st.Position+1, statusSymbol(st.Status), st.Step, dimStyle.Render(duration))
		if st.ExitCode != nil && *st.ExitCode != 0 {
			line += statusFailed.Render(fmt.Sprintf("  exit %d", *st.ExitCode))
		}
		lines = append(lines, line)
		if st.Error != "" {
			lines = append(lines, statusFailed.Render("       "+st.Error))
		}
	}
	if m.detail.Error != "" {
		lines = append(lines, statusFailed.Render("  "+m.detail.Error))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// --- Commands ---

func fetchRuns(apiURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 5 * time.Second}
		req, err := http.NewRequest("GET", apiURL+"/api/v1/runs?limit=50", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("list runs: %s", resp.Status))
		}

		var payload struct {
			Runs []runSummary `json:"runs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return errMsg(err)
		}
		return runsMsg(payload.Runs)
	}
}

func fetchRunDetail(apiURL, apiKey, groupID string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 5 * time.Second}
		req, err := http.NewRequest("GET", apiURL+"/api/v1/runs/"+groupID, nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("run detail: %s", resp.Status))
		}

		var d runDetail
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return errMsg(err)
		}
		return detailMsg(d)
	}
}
