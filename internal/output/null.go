// ABOUTME: Wall-clock playback device without audio hardware
// ABOUTME: Renders and discards mixer output in real time
package output

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
)

// Null advances the mixer clock at real-time rate and discards the audio.
// Used for headless runs and machines without an output device.
type Null struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	tick time.Duration
}

// NewNull creates a null device ticking every 10ms
func NewNull() Device {
	return &Null{tick: 10 * time.Millisecond}
}

// Start begins rendering in a goroutine
func (d *Null) Start(m *Mixer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(m, d.stop, d.done)
	return nil
}

func (d *Null) run(m *Mixer, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	started := time.Now()
	var rendered int64
	var buf []byte

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			due := int64(time.Since(started).Seconds() * float64(m.SampleRate()))
			n := int(due - rendered)
			if n <= 0 {
				continue
			}
			if cap(buf) < n*pcm.BytesPerSample {
				buf = make([]byte, n*pcm.BytesPerSample)
			}
			m.Render(buf[:n*pcm.BytesPerSample])
			rendered = due
		}
	}
}

// Close stops rendering and waits for the goroutine
func (d *Null) Close() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
