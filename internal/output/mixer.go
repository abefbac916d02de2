// ABOUTME: Output-clock mixer for scheduled PCM units
// ABOUTME: Renders units at absolute frame positions and reports when each finishes
package output

import (
	"fmt"
	"math"
	"sync"

	"github.com/Resonate-Protocol/walkie-go/internal/event"
	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
)

// Mixer owns the output audio clock. The clock is the number of frames the
// device has pulled through Render, so it only advances while a device runs.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	frame      int64
	voices     []*voice
	scratch    []float32
	level      float64
	ended      *event.Queue[uint64]
}

type voice struct {
	id      uint64
	start   int64
	samples []float32
}

func (v *voice) end() int64 {
	return v.start + int64(len(v.samples))
}

// NewMixer creates a mixer clocked at sampleRate
func NewMixer(sampleRate int) *Mixer {
	return &Mixer{
		sampleRate: sampleRate,
		ended:      event.NewQueue[uint64](),
	}
}

// SampleRate returns the clock rate in Hz
func (m *Mixer) SampleRate() int {
	return m.sampleRate
}

// Now returns the output clock in seconds
func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frame) / float64(m.sampleRate)
}

// Schedule places samples to start at the given clock time. Times in the
// past start at the next rendered frame.
func (m *Mixer) Schedule(id uint64, start float64, samples []float32) error {
	if len(samples) == 0 {
		return fmt.Errorf("unit %d has no samples", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	startFrame := int64(math.Round(start * float64(m.sampleRate)))
	if startFrame < m.frame {
		startFrame = m.frame
	}

	m.voices = append(m.voices, &voice{id: id, start: startFrame, samples: samples})
	return nil
}

// Cancel halts one unit without an end notification
func (m *Mixer) Cancel(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, v := range m.voices {
		if v.id == id {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// CancelAll halts every unit without end notifications
func (m *Mixer) CancelAll() {
	m.mu.Lock()
	m.voices = nil
	m.level = 0
	m.mu.Unlock()
}

// Ended delivers the IDs of units that finished playing
func (m *Mixer) Ended() <-chan uint64 {
	return m.ended.C()
}

// Level returns the RMS level of the most recently rendered block
func (m *Mixer) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Active returns the number of units not yet finished
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Render fills out with mono PCM16 and advances the clock. It is called
// from the device thread.
func (m *Mixer) Render(out []byte) {
	n := len(out) / pcm.BytesPerSample
	if n == 0 {
		return
	}

	var finished []uint64

	m.mu.Lock()
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	buf := m.scratch[:n]
	for i := range buf {
		buf[i] = 0
	}

	blockStart := m.frame
	blockEnd := m.frame + int64(n)

	kept := m.voices[:0]
	for _, v := range m.voices {
		from := max(v.start, blockStart)
		to := min(v.end(), blockEnd)
		for f := from; f < to; f++ {
			buf[f-blockStart] += v.samples[f-v.start]
		}

		if v.end() <= blockEnd {
			finished = append(finished, v.id)
		} else {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept

	m.level = pcm.RMSLevel(buf)
	m.frame = blockEnd
	pcm.PutPCM16(out, buf)
	m.mu.Unlock()

	for _, id := range finished {
		m.ended.Push(id)
	}
}

// Close stops end notifications
func (m *Mixer) Close() {
	m.ended.Close()
}
