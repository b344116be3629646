package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/cosched/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneJobs PaneID = iota
	PaneProgress
	paneCount
)

// RunFinishedMsg tells the model the scheduler run is over.
type RunFinishedMsg struct {
	Jobs int
	Err  error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	jobPane      JobPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	finished     *RunFinishedMsg
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(eventBus *events.EventBus) Model {
	m := Model{
		jobPane:      NewJobPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneJobs,
		eventSub:     eventBus.SubscribeAll(1024),
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.NextPane):
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()
		case key.Matches(msg, keys.PrevPane):
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()
		case key.Matches(msg, keys.Jobs):
			m.focusedPane = PaneJobs
			m.updateFocusStates()
		case key.Matches(msg, keys.Progress):
			m.focusedPane = PaneProgress
			m.updateFocusStates()
		default:
			if m.focusedPane == PaneJobs {
				var cmd tea.Cmd
				m.jobPane, cmd = m.jobPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.jobPane, cmd = m.jobPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.BatchProgressEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.Event:
		var cmd tea.Cmd
		m.jobPane, cmd = m.jobPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case RunFinishedMsg:
		m.finished = &msg
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.jobPane.View(), m.progressPane.View())

	footer := HelpView()
	if m.finished != nil {
		banner := fmt.Sprintf("Run finished: %d jobs settled. Press q to exit.", m.finished.Jobs)
		if m.finished.Err != nil {
			banner = fmt.Sprintf("Run stopped: %v. Press q to exit.", m.finished.Err)
		}
		footer = StyleBanner.Render(banner) + "  " + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar

	m.jobPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.jobPane.SetFocused(m.focusedPane == PaneJobs)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
