// ABOUTME: Tests for client orchestration
// ABOUTME: Runs whole turns against the development bridge with null audio devices
package app

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/walkie-go/internal/bridge"
	"github.com/Resonate-Protocol/walkie-go/internal/config"
	"github.com/Resonate-Protocol/walkie-go/internal/playback"
	"github.com/Resonate-Protocol/walkie-go/internal/session"
	"github.com/Resonate-Protocol/walkie-go/internal/transport"
	"github.com/Resonate-Protocol/walkie-go/internal/ui"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ts := httptest.NewServer(bridge.New(bridge.Config{}).Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Endpoint = "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	cfg.Audio.Output = "null"
	cfg.Audio.Capture = "null"
	cfg.Export.Dir = t.TempDir()
	cfg.Reconnect.BaseDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond
	return cfg
}

func start(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()

	a, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return")
		}
	})
	return a
}

func waitFor(t *testing.T, a *App, what string, cond func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap := a.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, last snapshot %+v", what, a.Snapshot())
	return session.Snapshot{}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint = "http://example.com"

	if _, err := New(cfg, Options{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNewRejectsUnknownCapture(t *testing.T) {
	if _, err := newSource("tape"); err == nil {
		t.Fatal("expected error for unknown capture backend")
	}
}

func TestFullTurn(t *testing.T) {
	bell := &syncBuffer{}
	a := start(t, testConfig(t), Options{Bell: bell})
	ctrl := a.Controls()

	waitFor(t, a, "ready", func(s session.Snapshot) bool { return s.Connection == transport.StatusReady })

	ctrl.SetContext("  Mission Alpha  ")
	ctrl.PressTalk()
	waitFor(t, a, "recording", func(s session.Snapshot) bool { return s.State == session.StateRecording })

	ctrl.ReleaseTalk()
	snap := waitFor(t, a, "turn complete", func(s session.Snapshot) bool {
		return s.State == session.StateIdle && len(s.Subtitles) == 1
	})

	if snap.Context != "Mission Alpha" {
		t.Errorf("context = %q, want normalized", snap.Context)
	}
	if !strings.Contains(snap.Subtitles[0], "Mission Alpha") {
		t.Errorf("subtitle = %q, want context echoed", snap.Subtitles[0])
	}
	if snap.TurnChunks == 0 {
		t.Error("expected reply audio in turn history")
	}
	if snap.Speaking {
		t.Error("expected speaking cleared")
	}
	if got := strings.Count(bell.String(), "\a"); got != 2 {
		t.Errorf("bell rang %d times, want 2", got)
	}

	ctrl.ExportNow()
	snap = waitFor(t, a, "export", func(s session.Snapshot) bool { return s.LastExport != "" })
	if _, err := os.Stat(snap.LastExport); err != nil {
		t.Errorf("exported file: %v", err)
	}
}

func TestToggles(t *testing.T) {
	a := start(t, testConfig(t), Options{})
	ctrl := a.Controls()

	ctrl.ToggleBufferAll()
	ctrl.ToggleAutoExport()
	waitFor(t, a, "toggles", func(s session.Snapshot) bool { return s.BufferAll && s.AutoExport })

	ctrl.ToggleBufferAll()
	waitFor(t, a, "buffer off", func(s session.Snapshot) bool { return !s.BufferAll && s.AutoExport })
}

func TestBufferedTurnAutoExports(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experimental.BufferAllAudio = true
	cfg.Experimental.AutoExport = true
	a := start(t, cfg, Options{})
	ctrl := a.Controls()

	waitFor(t, a, "ready", func(s session.Snapshot) bool { return s.Connection == transport.StatusReady })
	ctrl.ToggleTalk()
	waitFor(t, a, "recording", func(s session.Snapshot) bool { return s.State == session.StateRecording })
	ctrl.ToggleTalk()

	snap := waitFor(t, a, "auto export", func(s session.Snapshot) bool { return s.LastExport != "" })
	if snap.State != session.StateIdle {
		t.Errorf("state = %v, want idle", snap.State)
	}
}

func TestHeadlessCommands(t *testing.T) {
	a := start(t, testConfig(t), Options{Commands: strings.NewReader("c Bravo team\nb\ne\n")})

	waitFor(t, a, "commands applied", func(s session.Snapshot) bool {
		return s.Context == "Bravo team" && s.BufferAll && s.AutoExport
	})
}

func TestQuitStopsRun(t *testing.T) {
	a, err := New(testConfig(t), Options{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	a.Controls().Quit()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("quit did not stop Run")
	}
}

func TestManualReconnect(t *testing.T) {
	a, err := New(testConfig(t), Options{})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seen []transport.Status
	a.machine.Subscribe(func(s session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 || seen[len(seen)-1] != s.Connection {
			seen = append(seen, s.Connection)
		}
	})
	readyCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, st := range seen {
			if st == transport.StatusReady {
				n++
			}
		}
		return n
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, a, "ready", func(session.Snapshot) bool { return readyCount() == 1 })
	a.Controls().Reconnect()
	waitFor(t, a, "ready again", func(session.Snapshot) bool { return readyCount() == 2 })

	mu.Lock()
	defer mu.Unlock()
	if seen[len(seen)-1] != transport.StatusReady {
		t.Errorf("statuses = %v, want to end ready", seen)
	}
}

func TestHardwareErrorShownAsNotice(t *testing.T) {
	a, err := New(testConfig(t), Options{UseTUI: true})
	if err != nil {
		t.Fatal(err)
	}

	a.handlePlayback(playback.Event{Kind: playback.EventHardwareError, Err: errors.New("device lost")})

	select {
	case msg := <-a.view.C():
		notice, ok := msg.(ui.NoticeMsg)
		if !ok || !strings.Contains(string(notice), "device lost") {
			t.Errorf("view message = %#v, want notice with the device error", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no notice shown")
	}
}
