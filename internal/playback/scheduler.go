// ABOUTME: Gap-free playback scheduler for streamed PCM chunks
// ABOUTME: Places units back to back on the output clock with drift resync and buffered-turn mode
package playback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/walkie-go/internal/event"
	"github.com/Resonate-Protocol/walkie-go/internal/metrics"
	"github.com/Resonate-Protocol/walkie-go/internal/pcm"
)

const (
	// DriftThreshold is how far the scheduler may fall behind the clock
	// before it discards the lag
	DriftThreshold = 0.050

	// FlushCushion is the lead time before a flushed turn starts
	FlushCushion = 0.050

	// DefaultMeterInterval samples the output level at display rate
	DefaultMeterInterval = time.Second / 60
)

// ErrHardware marks failures at the audio device boundary
var ErrHardware = errors.New("audio hardware error")

// Output is the audio clock and device graph the scheduler places units on
type Output interface {
	// Now returns the output clock in seconds
	Now() float64

	// Schedule plays samples starting at the given clock time
	Schedule(id uint64, start float64, samples []float32) error

	// Cancel halts one unit
	Cancel(id uint64)

	// CancelAll halts every unit
	CancelAll()

	// Ended delivers the IDs of finished units
	Ended() <-chan uint64

	// Level returns the current output RMS level
	Level() float64
}

// Unit is one decoded chunk bound to the output clock
type Unit struct {
	ID       uint64
	Start    float64
	Duration float64
	Samples  []float32
}

// End returns the clock time the unit finishes
func (u Unit) End() float64 {
	return u.Start + u.Duration
}

// EventKind identifies a scheduler event
type EventKind int

const (
	EventPlaying EventKind = iota
	EventLevel
	EventResync
	EventHardwareError
)

// Event is published by the scheduler
type Event struct {
	Kind    EventKind
	Playing bool
	Level   float64
	Lag     float64
	Err     error
}

// Config holds scheduler settings
type Config struct {
	SampleRate    int
	BufferAll     bool
	MeterInterval time.Duration
	Metrics       *metrics.Metrics
}

// Scheduler manages playback timing
type Scheduler struct {
	mu         sync.Mutex
	out        Output
	sampleRate int
	bufferAll  bool

	pending   [][]float32
	active    map[uint64]Unit
	nextStart float64
	hasNext   bool
	nextID    uint64
	playing   bool
	level     float64

	meterInterval time.Duration
	events        *event.Queue[Event]
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	stats SchedulerStats
}

// SchedulerStats tracks scheduler metrics
type SchedulerStats struct {
	Received  int64
	Scheduled int64
	Dropped   int64
	Resyncs   int64
}

// NewScheduler creates a playback scheduler on out
func NewScheduler(out Output, cfg Config) *Scheduler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = pcm.OutputSampleRate
	}
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = DefaultMeterInterval
	}

	return &Scheduler{
		out:           out,
		sampleRate:    cfg.SampleRate,
		bufferAll:     cfg.BufferAll,
		active:        make(map[uint64]Unit),
		meterInterval: cfg.MeterInterval,
		events:        event.NewQueue[Event](),
		metrics:       cfg.Metrics,
		logger:        log.With().Str("component", "playback").Logger(),
	}
}

// QueueAudio decodes a chunk and schedules it, or accumulates it in
// buffered mode. A malformed chunk is skipped and leaves the clock alone.
func (s *Scheduler) QueueAudio(chunk []byte) error {
	samples, err := pcm.DecodePCM16(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Received++
	s.metrics.ChunkReceived()

	if err != nil {
		s.stats.Dropped++
		s.metrics.ChunkDropped()
		s.logger.Warn().Err(err).Msg("skipping malformed audio chunk")
		return fmt.Errorf("queue audio: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	if s.bufferAll {
		s.pending = append(s.pending, samples)
		return nil
	}

	now := s.out.Now()
	start := now
	if s.hasNext {
		if lag := now - s.nextStart; lag > DriftThreshold {
			s.stats.Resyncs++
			s.metrics.Resync()
			s.logger.Info().Float64("lag_ms", lag*1000).Msg("playback fell behind, resynchronizing")
			s.events.Push(Event{Kind: EventResync, Lag: lag})
		} else {
			start = max(now, s.nextStart)
		}
	}

	return s.placeLocked(start, samples)
}

// FlushAllBuffered schedules every accumulated chunk contiguously,
// starting FlushCushion after the current clock time
func (s *Scheduler) FlushAllBuffered() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Scheduler) flushLocked() error {
	if len(s.pending) == 0 {
		return nil
	}

	pending := s.pending
	s.pending = nil

	s.nextStart = s.out.Now() + FlushCushion
	s.hasNext = true

	s.logger.Debug().Int("chunks", len(pending)).Msg("flushing buffered turn")
	for _, samples := range pending {
		if err := s.placeLocked(s.nextStart, samples); err != nil {
			return err
		}
	}
	return nil
}

// placeLocked puts samples on the output at start and advances the clock.
// A device failure leaves the clock untouched.
func (s *Scheduler) placeLocked(start float64, samples []float32) error {
	s.nextID++
	id := s.nextID

	if err := s.out.Schedule(id, start, samples); err != nil {
		hwErr := fmt.Errorf("%w: %v", ErrHardware, err)
		s.logger.Error().Err(err).Msg("failed to schedule audio unit")
		s.events.Push(Event{Kind: EventHardwareError, Err: hwErr})
		return hwErr
	}

	unit := Unit{
		ID:       id,
		Start:    start,
		Duration: pcm.Duration(len(samples), s.sampleRate),
		Samples:  samples,
	}
	s.active[id] = unit
	s.nextStart = unit.End()
	s.hasNext = true

	s.stats.Scheduled++
	s.metrics.UnitScheduled()

	if s.stats.Scheduled <= 3 {
		s.logger.Debug().
			Uint64("unit", id).
			Float64("start", start).
			Float64("duration", unit.Duration).
			Msg("scheduled unit")
	}

	if !s.playing {
		s.playing = true
		s.metrics.SetPlaying(true)
		s.events.Push(Event{Kind: EventPlaying, Playing: true})
	}
	return nil
}

// Stop halts all scheduled audio and clears the accumulation buffer and
// clock. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.out.CancelAll()
	clear(s.active)
	s.pending = nil
	s.hasNext = false
	s.nextStart = 0

	if s.level != 0 {
		s.level = 0
		s.events.Push(Event{Kind: EventLevel, Level: 0})
	}
	if s.playing {
		s.playing = false
		s.metrics.SetPlaying(false)
		s.events.Push(Event{Kind: EventPlaying, Playing: false})
	}
}

// SetBufferAll switches between streaming and buffered-turn mode.
// Disabling buffered mode flushes anything accumulated.
func (s *Scheduler) SetBufferAll(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferAll == on {
		return nil
	}
	s.bufferAll = on
	s.logger.Info().Bool("buffer_all", on).Msg("playback mode changed")

	if !on {
		return s.flushLocked()
	}
	return nil
}

// BufferAll reports whether buffered-turn mode is on
func (s *Scheduler) BufferAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferAll
}

// IsPlaying reports whether any unit is scheduled or playing
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Level returns the last metered output level
func (s *Scheduler) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Pending returns the number of chunks waiting for a flush
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Units returns the active units ordered by start time
func (s *Scheduler) Units() []Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]Unit, 0, len(s.active))
	for _, u := range s.active {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Start < units[j].Start })
	return units
}

// Events returns the scheduler event channel
func (s *Scheduler) Events() <-chan Event {
	return s.events.C()
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run consumes end notifications and meters the output level until ctx
// is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.meterInterval)
	defer ticker.Stop()
	defer s.events.Close()

	ended := s.out.Ended()
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-ended:
			if !ok {
				ended = nil
				continue
			}
			s.unitEnded(id)
		case <-ticker.C:
			s.meter()
		}
	}
}

func (s *Scheduler) unitEnded(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Units cancelled by Stop are already gone
	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)
	s.checkCompleteLocked()
}

func (s *Scheduler) meter() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) > 0 {
		if level := s.out.Level(); level != s.level {
			s.level = level
			s.events.Push(Event{Kind: EventLevel, Level: level})
		}
	}
	s.checkCompleteLocked()
}

// checkCompleteLocked ends playback once no unit remains and the clock
// has reached nextStart. One frame of slack absorbs start rounding.
func (s *Scheduler) checkCompleteLocked() {
	if !s.playing || len(s.active) > 0 {
		return
	}
	if s.hasNext && s.out.Now()+1/float64(s.sampleRate) < s.nextStart {
		return
	}

	s.playing = false
	s.metrics.SetPlaying(false)
	s.events.Push(Event{Kind: EventPlaying, Playing: false})

	if s.level != 0 {
		s.level = 0
		s.events.Push(Event{Kind: EventLevel, Level: 0})
	}
	if !s.bufferAll {
		s.hasNext = false
	}
	s.logger.Debug().Msg("playback complete")
}
