package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds the TUI keybindings.
type keyMap struct {
	NextPane key.Binding
	PrevPane key.Binding
	Jobs     key.Binding
	Progress key.Binding
	Up       key.Binding
	Down     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	NextPane: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "cycle focus")),
	PrevPane: key.NewBinding(key.WithKeys("shift+tab")),
	Jobs:     key.NewBinding(key.WithKeys("1"), key.WithHelp("1/2", "jump to pane")),
	Progress: key.NewBinding(key.WithKeys("2")),
	Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("j/k", "select job")),
	Down:     key.NewBinding(key.WithKeys("j", "down")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// ShortHelp lists only bindings that carry help text.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextPane, k.Jobs, k.Up, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// HelpView returns a one-line help bar.
func HelpView() string {
	h := help.New()
	h.ShortSeparator = " | "
	return StyleHelp.Render(h.View(keys))
}
