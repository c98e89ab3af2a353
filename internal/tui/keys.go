package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit         key.Binding
	NextTab      key.Binding
	PrevTab      key.Binding
	Up           key.Binding
	Down         key.Binding
	Refresh      key.Binding
	Recategorize key.Binding
	Running      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		NextTab:      key.NewBinding(key.WithKeys("tab", "l"), key.WithHelp("tab", "next view")),
		PrevTab:      key.NewBinding(key.WithKeys("shift+tab", "h"), key.WithHelp("shift+tab", "prev view")),
		Up:           key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:         key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Refresh:      key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "refresh")),
		Recategorize: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "recategorize")),
		Running:      key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "running balances")),
	}
}

func (k keyMap) footer() []key.Binding {
	return []key.Binding{k.NextTab, k.Up, k.Recategorize, k.Running, k.Refresh, k.Quit}
}
