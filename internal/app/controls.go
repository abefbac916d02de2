// ABOUTME: User intents for the walkie client
// ABOUTME: Queues TUI and headless commands for the dispatch loop, plus haptic outputs
package app

import (
	"bufio"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/walkie-go/internal/event"
	"github.com/Resonate-Protocol/walkie-go/internal/ui"
)

type intentKind int

const (
	intentPress intentKind = iota
	intentRelease
	intentToggleTalk
	intentReconnect
	intentToggleBufferAll
	intentToggleAutoExport
	intentExport
	intentSetContext
	intentQuit
)

type intent struct {
	kind intentKind
	text string
}

// Controls queues intents. Every method returns immediately.
type Controls struct {
	q *event.Queue[intent]
}

var _ ui.Controller = Controls{}

// Controls returns the intent queue front end
func (a *App) Controls() Controls {
	return Controls{q: a.intents}
}

func (c Controls) PressTalk()             { c.q.Push(intent{kind: intentPress}) }
func (c Controls) ReleaseTalk()           { c.q.Push(intent{kind: intentRelease}) }
func (c Controls) ToggleTalk()            { c.q.Push(intent{kind: intentToggleTalk}) }
func (c Controls) Reconnect()             { c.q.Push(intent{kind: intentReconnect}) }
func (c Controls) ToggleBufferAll()       { c.q.Push(intent{kind: intentToggleBufferAll}) }
func (c Controls) ToggleAutoExport()      { c.q.Push(intent{kind: intentToggleAutoExport}) }
func (c Controls) ExportNow()             { c.q.Push(intent{kind: intentExport}) }
func (c Controls) SetContext(text string) { c.q.Push(intent{kind: intentSetContext, text: text}) }
func (c Controls) Quit()                  { c.q.Push(intent{kind: intentQuit}) }

// readCommands drives the client from text lines in headless mode:
// an empty line or "t" toggles talking, "c <text>" sets the context and
// the single letters r, b, e, w and q match the TUI keys.
func (a *App) readCommands(r io.Reader) {
	ctrl := a.Controls()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")

		switch cmd {
		case "", "t":
			ctrl.ToggleTalk()
		case "r":
			ctrl.Reconnect()
		case "b":
			ctrl.ToggleBufferAll()
		case "e":
			ctrl.ToggleAutoExport()
		case "w":
			ctrl.ExportNow()
		case "c":
			ctrl.SetContext(arg)
		case "q":
			ctrl.Quit()
			return
		default:
			a.logger.Warn().Str("command", line).Msg("unknown command")
		}
	}
}

// bellHaptics rings the terminal bell
type bellHaptics struct {
	w io.Writer
}

func (h bellHaptics) Pulse(time.Duration) {
	if h.w != nil {
		_, _ = io.WriteString(h.w, "\a")
	}
}

// viewHaptics lights the TUI pulse indicator
type viewHaptics struct {
	view *event.Queue[tea.Msg]
}

func (h viewHaptics) Pulse(d time.Duration) {
	h.view.Push(ui.PulseMsg{Duration: d})
}
