// ABOUTME: Silent microphone source for headless runs
// ABOUTME: Emits zero samples in real time so the turn flow works without hardware
package capture

import (
	"sync"
	"time"
)

// NullSource produces silence at the requested rate
type NullSource struct {
	Interval time.Duration
}

// Open starts a ticker goroutine that emits silent blocks
func (s NullSource) Open(c Constraints, onSamples func([]float32)) (Stream, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	block := int(float64(c.SampleRate) * interval.Seconds())
	if block < 1 {
		block = 1
	}

	st := &nullStream{stop: make(chan struct{})}
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-st.stop:
				return
			case <-ticker.C:
				onSamples(make([]float32, block))
			}
		}
	}()
	return st, nil
}

type nullStream struct {
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *nullStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}
