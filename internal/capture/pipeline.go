// ABOUTME: Microphone capture pipeline
// ABOUTME: Accumulates device samples into fixed frames, meters them and hands PCM16 to a sink
package capture

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/walkie-go/internal/event"
	"github.com/Resonate-Protocol/walkie-go/internal/metrics"
	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
)

// FrameSize is the number of samples per emitted frame (256ms at 16kHz)
const FrameSize = 4096

// Constraints describe the requested input stream
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints requests 16kHz mono with voice processing
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       pcm.InputSampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Stream is an open input stream
type Stream interface {
	Close() error
}

// Source acquires microphone input. onSamples is called from the device
// thread with normalized mono samples.
type Source interface {
	Open(c Constraints, onSamples func([]float32)) (Stream, error)
}

// Event reports the input level of the latest frame
type Event struct {
	Level float64
}

// Pipeline owns one capture session at a time
type Pipeline struct {
	source      Source
	constraints Constraints
	sink        func([]byte)
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	mu       sync.Mutex
	stream   Stream
	gen      uint64
	active   bool
	starting bool
	buf      []float32
	level    float64

	frames *event.Queue[delivery]
	events *event.Queue[Event]
	done   chan struct{}
}

// NewPipeline creates a pipeline delivering frames to sink. The sink runs
// on the pipeline's own goroutine, never on the device thread.
func NewPipeline(source Source, constraints Constraints, sink func([]byte), m *metrics.Metrics) *Pipeline {
	p := &Pipeline{
		source:      source,
		constraints: constraints,
		sink:        sink,
		metrics:     m,
		logger:      log.With().Str("component", "capture").Logger(),
		buf:         make([]float32, 0, FrameSize*2),
		frames:      event.NewQueue[delivery](),
		events:      event.NewQueue[Event](),
		done:        make(chan struct{}),
	}
	go p.deliver()
	return p
}

// delivery is one queued frame, or a flush marker when flushed is set
type delivery struct {
	frame   []byte
	flushed chan struct{}
}

func (p *Pipeline) deliver() {
	for {
		select {
		case <-p.done:
			return
		case d := <-p.frames.C():
			if d.flushed != nil {
				close(d.flushed)
				continue
			}
			p.sink(d.frame)
			p.metrics.FrameSent(len(d.frame))
		}
	}
}

// flush waits until every frame queued so far has reached the sink
func (p *Pipeline) flush() {
	flushed := make(chan struct{})
	p.frames.Push(delivery{flushed: flushed})
	select {
	case <-flushed:
	case <-p.done:
	}
}

// Start acquires the microphone. Starting while active is a no-op.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.active || p.starting {
		p.mu.Unlock()
		return nil
	}
	p.starting = true
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	stream, err := p.source.Open(p.constraints, func(samples []float32) {
		p.onSamples(gen, samples)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.starting = false

	if err != nil {
		ce := classify(err)
		p.logger.Error().Err(ce).Stringer("kind", ce.Kind).Msg("failed to acquire microphone")
		return ce
	}

	// Stopped while the device was opening
	if gen != p.gen {
		go p.closeStream(stream)
		return nil
	}

	p.stream = stream
	p.active = true
	p.buf = p.buf[:0]
	p.logger.Info().Int("sample_rate", p.constraints.SampleRate).Msg("capture started")
	return nil
}

// Stop releases the input stream. Safe to call repeatedly or before Start.
// Every complete frame has reached the sink when Stop returns; a partial
// trailing frame is discarded.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.active && !p.starting {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.active = false
	stream := p.stream
	p.stream = nil
	p.buf = p.buf[:0]
	if p.level != 0 {
		p.level = 0
		p.events.Push(Event{Level: 0})
	}
	p.mu.Unlock()

	if stream != nil {
		p.closeStream(stream)
	}
	p.flush()
	p.logger.Info().Msg("capture stopped")
}

func (p *Pipeline) closeStream(stream Stream) {
	if err := stream.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("error closing input stream")
	}
}

func (p *Pipeline) onSamples(gen uint64, samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Callbacks from a stopped session
	if gen != p.gen || !p.active {
		return
	}

	p.buf = append(p.buf, samples...)
	for len(p.buf) >= FrameSize {
		frame := p.buf[:FrameSize]
		p.level = pcm.RMSLevel(frame)
		p.events.Push(Event{Level: p.level})
		p.frames.Push(delivery{frame: pcm.EncodePCM16(frame)})

		n := copy(p.buf, p.buf[FrameSize:])
		p.buf = p.buf[:n]
	}
}

// Active reports whether a capture session is running
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Level returns the level of the most recent frame
func (p *Pipeline) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Events returns the level event channel
func (p *Pipeline) Events() <-chan Event {
	return p.events.C()
}

// Close stops capture and the delivery goroutine
func (p *Pipeline) Close() {
	p.Stop()
	close(p.done)
	p.frames.Close()
	p.events.Close()
}
