package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/cosched/internal/events"
)

// Job states shown in the list.
const (
	statePending   = "pending"
	stateRunning   = "running"
	stateRetrying  = "retrying"
	stateCompleted = "completed"
	stateFailed    = "failed"
)

// JobState is the view of one job assembled from events.
type JobState struct {
	JobID    string
	Name     string
	Status   string
	Attempts int
	Log      []string
	Started  time.Time
	Duration time.Duration
}

// JobPaneModel is the job list plus a scrollable log of the selected job.
type JobPaneModel struct {
	jobs        map[string]*JobState
	order       []string // Admission order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int
}

// NewJobPaneModel creates a new job pane model.
func NewJobPaneModel() JobPaneModel {
	return JobPaneModel{
		jobs:     make(map[string]*JobState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg debounces viewport refreshes while events stream in.
type tickMsg struct {
	tag int
}

const listWidth = 28

// Update handles messages for the job pane.
func (m JobPaneModel) Update(msg tea.Msg) (JobPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.JobAdmittedEvent:
		js := m.track(msg.ID, msg.Name)
		js.logf(msg.Timestamp, "admitted")

	case events.JobStartedEvent:
		js := m.track(msg.ID, msg.Name)
		js.Status = stateRunning
		js.Started = msg.Timestamp
		js.logf(msg.Timestamp, "started")

	case events.JobAttemptFailedEvent:
		if js, ok := m.jobs[msg.ID]; ok {
			js.Status = stateRetrying
			js.Attempts = msg.Attempt
			js.logf(msg.Timestamp, "attempt %d failed: %v", msg.Attempt, msg.Err)
		}

	case events.JobCompletedEvent:
		js := m.track(msg.ID, msg.Name)
		js.Status = stateCompleted
		js.Attempts = msg.Attempts
		js.Duration = msg.Duration
		js.logf(msg.Timestamp, "completed in %s: %v", msg.Duration.Round(time.Millisecond), msg.Result)

	case events.JobFailedEvent:
		js := m.track(msg.ID, msg.Name)
		js.Status = stateFailed
		js.Attempts = msg.Attempts
		js.Duration = msg.Duration
		js.logf(msg.Timestamp, "failed: %v", msg.Err)

	case events.JobEvictedEvent:
		if js, ok := m.jobs[msg.ID]; ok {
			js.logf(msg.Timestamp, "evicted")
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
		return m, nil
	}

	if ev, ok := msg.(events.Event); ok && ev.JobID() == m.selectedJobID() {
		m.updateTag++
		tag := m.updateTag
		return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
			return tickMsg{tag: tag}
		})
	}
	return m, cmd
}

// track returns the state for id, adding it to the list on first sight.
func (m *JobPaneModel) track(id, name string) *JobState {
	if js, ok := m.jobs[id]; ok {
		return js
	}
	js := &JobState{JobID: id, Name: name, Status: statePending}
	m.jobs[id] = js
	m.order = append(m.order, id)
	if len(m.order) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
	return js
}

func (js *JobState) logf(at time.Time, format string, args ...any) {
	js.Log = append(js.Log, at.Format("15:04:05.000")+" "+fmt.Sprintf(format, args...))
}

// View renders the job pane.
func (m JobPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderJobList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m JobPaneModel) renderJobList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Jobs")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		js := m.jobs[id]
		name := js.Name
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(js.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case stateRunning:
		return StyleStatusRunning.Render("●")
	case stateRetrying:
		return StyleStatusRunning.Render("↻")
	case stateCompleted:
		return StyleStatusComplete.Render("✓")
	case stateFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// Job returns the tracked state of a job.
func (m JobPaneModel) Job(id string) (JobState, bool) {
	js, ok := m.jobs[id]
	if !ok {
		return JobState{}, false
	}
	return *js, true
}

func (m JobPaneModel) selectedJobID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

func (m *JobPaneModel) updateViewportContent() {
	js, ok := m.jobs[m.selectedJobID()]
	if !ok {
		m.viewport.SetContent("Waiting for jobs...")
		return
	}
	header := fmt.Sprintf("%s (%s)\nstatus: %s  attempts: %d\n\n", js.Name, js.JobID, js.Status, js.Attempts)
	m.viewport.SetContent(header + strings.Join(js.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *JobPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *JobPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *JobPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
