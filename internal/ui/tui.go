// ABOUTME: TUI initialization
// ABOUTME: Wraps the bubbletea program for the push-to-talk UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run creates the TUI program. The caller starts it with p.Run() and feeds
// it SnapshotMsg, LevelMsg, PulseMsg and NoticeMsg through p.Send.
func Run(ctrl Controller) *tea.Program {
	return tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
}
