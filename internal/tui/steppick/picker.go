// Package steppick is an interactive checklist for choosing which
// pipeline steps to run.
package steppick

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/swage/internal/step"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

type item struct {
	name     string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.name)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.name }

type model struct {
	list     list.Model
	quitting bool
	done     bool
	names    []string
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case " ": // Space to toggle
			i, ok := m.list.SelectedItem().(item)
			if ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			var names []string
			for _, li := range m.list.Items() {
				if it, ok := li.(item); ok && it.selected {
					names = append(names, it.name)
				}
			}
			m.names = names
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render(fmt.Sprintf("Selected steps: %s", strings.Join(m.names, ", ")))
	}
	return "\n" + m.list.View()
}

// newModel builds the picker. Steps are listed in execution order; the
// ones a default run would include start checked.
func newModel(steps []step.Step) model {
	items := make([]list.Item, 0, len(steps))
	for _, s := range steps {
		desc := s.Description
		if desc == "" {
			desc = sourceLabel(s.Source)
		}
		items = append(items, item{
			name:     s.Name,
			desc:     desc,
			selected: s.IncludedByDefault,
		})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select steps (Space to toggle, Enter to run)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return model{list: l}
}

func sourceLabel(src step.Source) string {
	if src.Kind == step.SourceCatalog {
		return "catalog component " + src.Component
	}
	return "local step " + src.Dir
}

// Pick runs the checklist and returns the chosen step names in order.
// An empty slice means the user cancelled or deselected everything;
// either way there is nothing to run.
func Pick(steps []step.Step) ([]string, error) {
	final, err := tea.NewProgram(newModel(steps)).Run()
	if err != nil {
		return nil, err
	}
	if m, ok := final.(model); ok && m.done {
		return m.names, nil
	}
	return nil, nil
}
