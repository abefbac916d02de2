// ABOUTME: Tests for the output mixer
// ABOUTME: Covers clock advance, placement, completion and cancellation
package output

import (
	"testing"
	"time"

	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
)

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func render(m *Mixer, frames int) []float32 {
	out := make([]byte, frames*pcm.BytesPerSample)
	m.Render(out)
	samples, _ := pcm.DecodePCM16(out)
	return samples
}

func waitEnded(t *testing.T, m *Mixer) uint64 {
	t.Helper()
	select {
	case id := <-m.Ended():
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for end notification")
		return 0
	}
}

func TestMixerClockAdvances(t *testing.T) {
	m := NewMixer(1000)
	defer m.Close()

	if m.Now() != 0 {
		t.Fatalf("expected clock at 0, got %v", m.Now())
	}
	render(m, 250)
	if m.Now() != 0.25 {
		t.Errorf("expected clock at 0.25, got %v", m.Now())
	}
}

func TestMixerPlacesUnitAtStart(t *testing.T) {
	m := NewMixer(1000)
	defer m.Close()

	if err := m.Schedule(1, 0.010, constant(5, 0.5)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	out := render(m, 20)
	for i, s := range out {
		want := i >= 10 && i < 15
		if want && s < 0.49 {
			t.Errorf("frame %d: expected audio, got %v", i, s)
		}
		if !want && s != 0 {
			t.Errorf("frame %d: expected silence, got %v", i, s)
		}
	}

	if id := waitEnded(t, m); id != 1 {
		t.Errorf("expected unit 1 ended, got %d", id)
	}
	if m.Active() != 0 {
		t.Errorf("expected no active units, got %d", m.Active())
	}
}

func TestMixerSpansBlocks(t *testing.T) {
	m := NewMixer(1000)
	defer m.Close()

	_ = m.Schedule(7, 0, constant(30, 0.25))
	render(m, 20)
	if m.Active() != 1 {
		t.Fatalf("unit should still be active after first block")
	}
	if m.Level() == 0 {
		t.Errorf("expected nonzero level while playing")
	}

	out := render(m, 20)
	if out[9] == 0 || out[10] != 0 {
		t.Errorf("unit should end at frame 30: got %v, %v", out[9], out[10])
	}
	if id := waitEnded(t, m); id != 7 {
		t.Errorf("expected unit 7 ended, got %d", id)
	}
}

func TestMixerPastStartPlaysNow(t *testing.T) {
	m := NewMixer(1000)
	defer m.Close()

	render(m, 100)
	_ = m.Schedule(1, 0.01, constant(5, 0.5))
	out := render(m, 10)
	if out[0] == 0 {
		t.Errorf("unit scheduled in the past should start immediately")
	}
}

func TestMixerCancel(t *testing.T) {
	m := NewMixer(1000)
	defer m.Close()

	_ = m.Schedule(1, 0, constant(50, 0.5))
	_ = m.Schedule(2, 0, constant(50, 0.5))
	m.Cancel(1)
	if m.Active() != 1 {
		t.Fatalf("expected 1 active unit, got %d", m.Active())
	}

	m.CancelAll()
	if m.Active() != 0 {
		t.Fatalf("expected no active units, got %d", m.Active())
	}
	out := render(m, 50)
	for _, s := range out {
		if s != 0 {
			t.Fatal("cancelled units should not render")
		}
	}

	select {
	case id := <-m.Ended():
		t.Errorf("cancelled unit %d should not report an end", id)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMixerRejectsEmptyUnit(t *testing.T) {
	m := NewMixer(1000)
	defer m.Close()

	if err := m.Schedule(1, 0, nil); err == nil {
		t.Error("expected error for empty unit")
	}
}

func TestNewBackend(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{BackendMalgo, false},
		{BackendOto, false},
		{BackendNull, false},
		{"", false},
		{"alsa", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestNullDeviceAdvancesClock(t *testing.T) {
	m := NewMixer(24000)
	defer m.Close()

	d := NewNull()
	if err := d.Start(m); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if m.Now() <= 0 {
		t.Error("expected clock to advance while the null device runs")
	}
}
