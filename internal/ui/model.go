// ABOUTME: Bubbletea model for the push-to-talk TUI
// ABOUTME: Renders session snapshots and level meters, turns keys into controller intents
package ui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/walkie-go/internal/protocol"
	"github.com/Resonate-Protocol/walkie-go/internal/session"
	"github.com/Resonate-Protocol/walkie-go/internal/transport"
	"github.com/Resonate-Protocol/walkie-go/internal/version"
)

// Controller receives user intents. Implementations must not block.
type Controller interface {
	PressTalk()
	ReleaseTalk()
	Reconnect()
	ToggleBufferAll()
	ToggleAutoExport()
	ExportNow()
	SetContext(text string)
	Quit()
}

// SnapshotMsg carries a new session view
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// LevelMsg updates the meters. Negative values leave a meter unchanged.
type LevelMsg struct {
	Input  float64
	Output float64
}

// PulseMsg shows the haptic indicator for Duration
type PulseMsg struct {
	Duration time.Duration
}

type pulseEndMsg struct {
	seq int
}

// NoticeMsg shows a one-line notice such as an export path
type NoticeMsg string

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pulseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	stateStyles = map[session.State]lipgloss.Style{
		session.StateIdle:       lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		session.StateRecording:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		session.StateProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		session.StatePlaying:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		session.StateError:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// Model represents the TUI state
type Model struct {
	ctrl Controller
	snap session.Snapshot

	inputLevel  float64
	outputLevel float64

	pulsing  bool
	pulseSeq int

	editing bool
	draft   []rune

	notice string

	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel(ctrl Controller) Model {
	return Model{ctrl: ctrl}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.handleEditKey(msg)
		}
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case SnapshotMsg:
		m.snap = msg.Snapshot
	case LevelMsg:
		if msg.Input >= 0 {
			m.inputLevel = msg.Input
		}
		if msg.Output >= 0 {
			m.outputLevel = msg.Output
		}
	case PulseMsg:
		m.pulsing = true
		m.pulseSeq++
		seq := m.pulseSeq
		return m, tea.Tick(msg.Duration, func(time.Time) tea.Msg { return pulseEndMsg{seq: seq} })
	case pulseEndMsg:
		if msg.seq == m.pulseSeq {
			m.pulsing = false
		}
	case NoticeMsg:
		m.notice = string(msg)
	}

	return m, nil
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.ctrl == nil {
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.ctrl.Quit()
		return m, tea.Quit
	case " ":
		if m.snap.State == session.StateRecording {
			m.ctrl.ReleaseTalk()
		} else {
			m.ctrl.PressTalk()
		}
	case "r":
		m.ctrl.Reconnect()
	case "b":
		m.ctrl.ToggleBufferAll()
	case "e":
		m.ctrl.ToggleAutoExport()
	case "w":
		m.ctrl.ExportNow()
	case "c":
		m.editing = true
		m.draft = []rune(m.snap.Context)
	}

	return m, nil
}

// handleEditKey edits the mission context on a single line
func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.editing = false
		if m.ctrl != nil {
			m.ctrl.SetContext(string(m.draft))
		}
		m.draft = nil
	case tea.KeyEsc:
		m.editing = false
		m.draft = nil
	case tea.KeyBackspace:
		if len(m.draft) > 0 {
			m.draft = m.draft[:len(m.draft)-1]
		}
	case tea.KeyCtrlU:
		m.draft = m.draft[:0]
	case tea.KeySpace:
		m.draft = appendLimited(m.draft, ' ')
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			m.draft = appendLimited(m.draft, r)
		}
	case tea.KeyCtrlC:
		if m.ctrl != nil {
			m.ctrl.Quit()
		}
		return m, tea.Quit
	}
	return m, nil
}

func appendLimited(draft []rune, r rune) []rune {
	if len(draft) >= protocol.MaxContextLength {
		return draft
	}
	return append(draft, r)
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(version.String()))
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus())
	b.WriteString(m.renderLevels())
	b.WriteString(m.renderSubtitles())
	b.WriteString(m.renderContext())
	b.WriteString(m.renderOptions())
	if m.notice != "" {
		b.WriteString(dimStyle.Render(m.notice) + "\n")
	}
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m Model) renderStatus() string {
	state := stateStyles[m.snap.State].Render(strings.ToUpper(m.snap.State.String()))

	pulse := "  "
	if m.pulsing {
		pulse = pulseStyle.Render("● ")
	}

	s := fmt.Sprintf("%sConnection: %-12s State: %s\n", pulse, connectionLabel(m.snap.Connection), state)
	if m.snap.Error != "" {
		s += errorStyle.Render("Error: "+m.snap.Error) + "\n"
	}
	return s + "\n"
}

func (m Model) renderLevels() string {
	return fmt.Sprintf("Mic     [%s]\nSpeaker [%s]\n\n",
		renderBar(m.inputLevel, 20), renderBar(m.outputLevel, 20))
}

func (m Model) renderSubtitles() string {
	var b strings.Builder

	header := "Subtitles"
	if m.snap.Speaking {
		header += "  " + pulseStyle.Render("▶ AI speaking")
	}
	b.WriteString(header + "\n")

	if len(m.snap.Subtitles) == 0 {
		b.WriteString(dimStyle.Render("  (none yet)") + "\n")
	}
	for _, line := range m.snap.Subtitles {
		b.WriteString("  " + truncate(line, m.lineWidth()-2) + "\n")
	}
	return b.String() + "\n"
}

func (m Model) renderContext() string {
	if m.editing {
		return fmt.Sprintf("Context> %s█  %s\n",
			string(m.draft), dimStyle.Render(fmt.Sprintf("%d/%d enter:save esc:cancel", len(m.draft), protocol.MaxContextLength)))
	}
	if m.snap.Context == "" {
		return dimStyle.Render("Context: (none)") + "\n"
	}
	return "Context: " + truncate(m.snap.Context, m.lineWidth()-9) + "\n"
}

func (m Model) renderOptions() string {
	s := fmt.Sprintf("Buffer whole turn: %s   Auto export: %s\n", onOff(m.snap.BufferAll), onOff(m.snap.AutoExport))
	if m.snap.TurnChunks > 0 {
		s += dimStyle.Render(fmt.Sprintf("Last turn: %d chunks, %d bytes", m.snap.TurnChunks, m.snap.TurnBytes)) + "\n"
	}
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return dimStyle.Render("\nspace:Talk  r:Reconnect  b:Buffer  e:AutoExport  w:Export  c:Context  q:Quit") + "\n"
}

func (m Model) lineWidth() int {
	if m.width <= 0 {
		return 80
	}
	return m.width
}

func connectionLabel(s transport.Status) string {
	return strings.ToUpper(s.String()[:1]) + s.String()[1:]
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// Utility functions
func renderBar(level float64, width int) string {
	filled := int(level * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if length < 4 || utf8.RuneCountInString(s) <= length {
		return s
	}
	runes := []rune(s)
	return string(runes[:length-3]) + "..."
}
