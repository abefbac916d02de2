// ABOUTME: Tests for the playback scheduler
// ABOUTME: Tests non-overlap, drift resync, buffered contiguity, completion and stop
package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
)

type scheduled struct {
	id    uint64
	start float64
	n     int
}

type fakeOutput struct {
	mu        sync.Mutex
	now       float64
	calls     []scheduled
	cancelled int
	level     float64
	failWith  error
	ended     chan uint64
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{ended: make(chan uint64, 16)}
}

func (f *fakeOutput) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutput) setNow(t float64) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *fakeOutput) Schedule(id uint64, start float64, samples []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.calls = append(f.calls, scheduled{id: id, start: start, n: len(samples)})
	return nil
}

func (f *fakeOutput) Cancel(uint64) {}

func (f *fakeOutput) CancelAll() {
	f.mu.Lock()
	f.cancelled++
	f.mu.Unlock()
}

func (f *fakeOutput) Ended() <-chan uint64 { return f.ended }

func (f *fakeOutput) Level() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// chunk returns n samples of PCM16 at a constant amplitude
func chunk(n int) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return pcm.EncodePCM16(samples)
}

// 2400 samples at 24kHz is 100ms
const unitSamples = 2400

func newTestScheduler(out *fakeOutput) *Scheduler {
	return NewScheduler(out, Config{SampleRate: pcm.OutputSampleRate, MeterInterval: 5 * time.Millisecond})
}

func waitPlaying(t *testing.T, s *Scheduler, want bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventPlaying && ev.Playing == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for playing=%v", want)
		}
	}
}

func TestStreamingNonOverlap(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)

	for i := 0; i < 8; i++ {
		// Clock creeps forward but never past the schedule
		out.setNow(float64(i) * 0.02)
		if err := s.QueueAudio(chunk(unitSamples)); err != nil {
			t.Fatalf("queue %d: %v", i, err)
		}
	}

	units := s.Units()
	if len(units) != 8 {
		t.Fatalf("expected 8 units, got %d", len(units))
	}
	for i := 1; i < len(units); i++ {
		if units[i].Start < units[i-1].End() {
			t.Errorf("unit %d starts at %v before unit %d ends at %v",
				i, units[i].Start, i-1, units[i-1].End())
		}
	}
	if s.Stats().Resyncs != 0 {
		t.Errorf("expected no resyncs, got %d", s.Stats().Resyncs)
	}
	if !s.IsPlaying() {
		t.Error("expected playing after scheduling")
	}
}

func TestFirstUnitStartsNow(t *testing.T) {
	out := newFakeOutput()
	out.setNow(3.5)
	s := newTestScheduler(out)

	_ = s.QueueAudio(chunk(unitSamples))
	if got := s.Units()[0].Start; got != 3.5 {
		t.Errorf("first unit start = %v, want 3.5", got)
	}
}

func TestDriftResync(t *testing.T) {
	tests := []struct {
		name      string
		now       float64
		wantStart float64
		resync    bool
	}{
		{"on schedule", 0.05, 0.1, false},
		{"slightly late", 0.13, 0.13, false},
		{"beyond threshold", 0.2, 0.2, true},
		{"far behind", 5.0, 5.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newFakeOutput()
			s := newTestScheduler(out)

			_ = s.QueueAudio(chunk(unitSamples))
			out.setNow(tt.now)
			_ = s.QueueAudio(chunk(unitSamples))

			units := s.Units()
			if got := units[len(units)-1].Start; got != tt.wantStart {
				t.Errorf("start = %v, want %v", got, tt.wantStart)
			}
			if got := s.Stats().Resyncs == 1; got != tt.resync {
				t.Errorf("resynced = %v, want %v", got, tt.resync)
			}
		})
	}
}

func TestBufferedContiguity(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)
	if err := s.SetBufferAll(true); err != nil {
		t.Fatal(err)
	}

	sizes := []int{2400, 480, 1000, 2400, 7}
	for _, n := range sizes {
		_ = s.QueueAudio(chunk(n))
	}
	if len(out.calls) != 0 {
		t.Fatalf("buffered mode should not schedule, got %d calls", len(out.calls))
	}
	if s.Pending() != len(sizes) {
		t.Fatalf("expected %d pending, got %d", len(sizes), s.Pending())
	}

	out.setNow(1.0)
	if err := s.FlushAllBuffered(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	units := s.Units()
	if len(units) != len(sizes) {
		t.Fatalf("expected %d units, got %d", len(sizes), len(units))
	}
	if units[0].Start != 1.0+FlushCushion {
		t.Errorf("first flushed unit start = %v, want %v", units[0].Start, 1.0+FlushCushion)
	}
	for k := 0; k+1 < len(units); k++ {
		if units[k+1].Start != units[k].Start+units[k].Duration {
			t.Errorf("unit %d not contiguous: %v != %v", k+1, units[k+1].Start, units[k].End())
		}
	}
	if s.Pending() != 0 {
		t.Error("flush should clear the accumulation buffer")
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)
	_ = s.SetBufferAll(true)

	if err := s.FlushAllBuffered(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if s.IsPlaying() {
		t.Error("empty flush should not start playback")
	}
}

func TestMalformedChunkSkipped(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)

	_ = s.QueueAudio(chunk(unitSamples))
	end := s.Units()[0].End()

	err := s.QueueAudio([]byte{1, 2, 3})
	if !errors.Is(err, pcm.ErrMalformedBuffer) {
		t.Fatalf("expected malformed buffer error, got %v", err)
	}

	_ = s.QueueAudio(chunk(unitSamples))
	units := s.Units()
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[1].Start != end {
		t.Errorf("malformed chunk moved the clock: start %v, want %v", units[1].Start, end)
	}

	stats := s.Stats()
	if stats.Received != 3 || stats.Dropped != 1 || stats.Scheduled != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestStopIdempotent(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)

	s.Stop()
	s.Stop()
	if s.Level() != 0 {
		t.Errorf("level = %v, want 0", s.Level())
	}

	_ = s.QueueAudio(chunk(unitSamples))
	s.Stop()
	s.Stop()

	if s.IsPlaying() {
		t.Error("expected not playing after stop")
	}
	if len(s.Units()) != 0 {
		t.Error("expected no active units after stop")
	}
	if s.Level() != 0 {
		t.Errorf("level = %v, want 0", s.Level())
	}

	// Clock is unset, so the next unit starts at now without a resync
	out.setNow(10)
	_ = s.QueueAudio(chunk(unitSamples))
	if got := s.Units()[0].Start; got != 10 {
		t.Errorf("start after stop = %v, want 10", got)
	}
	if s.Stats().Resyncs != 0 {
		t.Error("restart after stop should not count as a resync")
	}
}

func TestStopClearsBuffered(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)
	_ = s.SetBufferAll(true)
	_ = s.QueueAudio(chunk(unitSamples))

	s.Stop()
	if s.Pending() != 0 {
		t.Error("stop should clear the accumulation buffer")
	}
}

func TestCompletion(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_ = s.QueueAudio(chunk(unitSamples))
	_ = s.QueueAudio(chunk(unitSamples))
	waitPlaying(t, s, true)

	out.setNow(0.1)
	out.ended <- 1
	out.setNow(0.2)
	out.ended <- 2
	waitPlaying(t, s, false)

	if s.IsPlaying() {
		t.Error("expected not playing after all units ended")
	}
	if s.Level() != 0 {
		t.Errorf("level = %v, want 0", s.Level())
	}

	// Streaming mode unset the clock
	out.setNow(4)
	_ = s.QueueAudio(chunk(unitSamples))
	if s.Stats().Resyncs != 0 {
		t.Error("new turn after completion should start clean")
	}
}

func TestLevelMetering(t *testing.T) {
	out := newFakeOutput()
	out.level = 0.4
	s := newTestScheduler(out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	_ = s.QueueAudio(chunk(unitSamples))

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventLevel && ev.Level == 0.4 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for level event")
		}
	}
}

func TestHardwareError(t *testing.T) {
	out := newFakeOutput()
	out.failWith = errors.New("device lost")
	s := newTestScheduler(out)

	err := s.QueueAudio(chunk(unitSamples))
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("expected hardware error, got %v", err)
	}
	if s.IsPlaying() {
		t.Error("failed schedule should not start playback")
	}

	select {
	case ev := <-s.Events():
		if ev.Kind != EventHardwareError {
			t.Errorf("expected hardware error event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hardware error event")
	}
}

func TestDisableBufferAllFlushes(t *testing.T) {
	out := newFakeOutput()
	s := newTestScheduler(out)
	_ = s.SetBufferAll(true)
	_ = s.QueueAudio(chunk(unitSamples))

	if err := s.SetBufferAll(false); err != nil {
		t.Fatal(err)
	}
	if s.BufferAll() {
		t.Error("expected buffer-all off")
	}
	if len(s.Units()) != 1 {
		t.Error("disabling buffered mode should schedule pending chunks")
	}
}
