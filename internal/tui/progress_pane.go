package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/cosched/internal/events"
)

// ProgressPaneModel sums the latest progress of every scheduler.
type ProgressPaneModel struct {
	sources map[string]events.BatchProgressEvent
	width   int
	height  int
	focused bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{sources: make(map[string]events.BatchProgressEvent)}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	if e, ok := msg.(events.BatchProgressEvent); ok {
		m.sources[e.Source] = e
	}
	return m, nil
}

// Totals returns the summed counts across schedulers.
func (m ProgressPaneModel) Totals() events.BatchProgressEvent {
	var sum events.BatchProgressEvent
	for _, e := range m.sources {
		sum.Total += e.Total
		sum.Completed += e.Completed
		sum.Running += e.Running
		sum.Failed += e.Failed
		sum.Pending += e.Pending
	}
	return sum
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	t := m.Totals()
	b.WriteString(fmt.Sprintf("Total:     %d\n", t.Total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", t.Completed))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", t.Running))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", t.Failed))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", t.Pending))))
	b.WriteString("\n")

	if t.Total > 0 {
		b.WriteString(progressBar(t, min(m.width-4, 40)))
		b.WriteString("\n")
	}

	if len(m.sources) > 1 {
		names := make([]string, 0, len(m.sources))
		for name := range m.sources {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\n")
		for _, name := range names {
			e := m.sources[name]
			b.WriteString(fmt.Sprintf("%-10s %d/%d\n", name, e.Completed+e.Failed, e.Total))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func progressBar(t events.BatchProgressEvent, width int) string {
	completed := (t.Completed * width) / t.Total
	failed := (t.Failed * width) / t.Total
	running := (t.Running * width) / t.Total
	pending := width - completed - failed - running

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completed)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failed)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, running)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pending)))
	return fmt.Sprintf("[%s]  %d/%d", bar, t.Completed+t.Failed, t.Total)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
