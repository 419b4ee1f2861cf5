package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap 定义进度视图的快捷键
// KeyMap defines the run view keybindings
type KeyMap struct {
	// Detach stops following the run; the run itself keeps going.
	Detach key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Detach: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("ctrl+c", "stop waiting"),
		),
	}
}
