package tui

import (
	"fmt"
	"net"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mnikolakis/flowtrace/internal/traceroute"
)

// Run starts the TUI for a traceroute sweep against dst.
func Run(target string, dst net.IP, cfg traceroute.Config) error {
	model, err := New(target, dst, cfg)
	if err != nil {
		return fmt.Errorf("failed to create TUI model: %w", err)
	}
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	if m, ok := finalModel.(Model); ok {
		if m.state == StateError && m.err != nil {
			return m.err
		}
	}

	return nil
}
