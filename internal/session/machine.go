// ABOUTME: Session state machine coordinating capture, transport and playback
// ABOUTME: Turns user intent, connection status and server messages into one session state
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/walkie-go/internal/metrics"
	"github.com/Resonate-Protocol/walkie-go/internal/protocol"
	"github.com/Resonate-Protocol/walkie-go/internal/transport"
)

// State is the session state shown to the user
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StatePlaying
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var stateNames = []string{"idle", "recording", "processing", "playing", "error"}

// Transport sends control messages to the service
type Transport interface {
	SendMessage(msg protocol.ClientMessage) error
	Reconnect()
}

// Capture controls the microphone
type Capture interface {
	Start() error
	Stop()
}

// Playback controls the speaker
type Playback interface {
	QueueAudio(chunk []byte) error
	FlushAllBuffered() error
	BufferAll() bool
	SetBufferAll(on bool) error
	Stop()
}

// Haptics gives tactile or visual feedback on press and release
type Haptics interface {
	Pulse(d time.Duration)
}

// Exporter writes a turn's audio somewhere and returns its location
type Exporter interface {
	Export(chunks [][]byte) (string, error)
}

// Snapshot is the observable session view
type Snapshot struct {
	State      State
	Connection transport.Status
	Error      string
	Subtitles  []string
	Speaking   bool
	Context    string
	BufferAll  bool
	AutoExport bool
	TurnID     string
	TurnChunks int
	TurnBytes  int
	LastExport string
}

// Config holds machine settings
type Config struct {
	SubtitleCap int
	HapticPulse time.Duration
	AutoExport  bool
	Context     string
	Metrics     *metrics.Metrics
}

// Machine is the single authority over session state. It is not safe for
// concurrent use; one dispatch goroutine drives it.
type Machine struct {
	config    Config
	transport Transport
	capture   Capture
	playback  Playback
	haptics   Haptics
	exporter  Exporter
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	state          State
	conn           transport.Status
	err            string
	errFromCapture bool
	speaking       bool
	context        string
	autoExport     bool
	turnID         string
	releasedAt     time.Time
	lastExport     string

	history   TurnHistory
	subtitles *Subtitles
	observers []func(Snapshot)
	now       func() time.Time
}

// NewMachine creates a machine in idle with the connection disconnected
func NewMachine(cfg Config, tr Transport, capture Capture, playback Playback, haptics Haptics, exporter Exporter) *Machine {
	if cfg.HapticPulse <= 0 {
		cfg.HapticPulse = 50 * time.Millisecond
	}

	m := &Machine{
		config:     cfg,
		transport:  tr,
		capture:    capture,
		playback:   playback,
		haptics:    haptics,
		exporter:   exporter,
		metrics:    cfg.Metrics,
		logger:     log.With().Str("component", "session").Logger(),
		context:    NormalizeContext(cfg.Context),
		autoExport: cfg.AutoExport,
		subtitles:  NewSubtitles(cfg.SubtitleCap),
		now:        time.Now,
	}
	m.metrics.SetState(m.state.String(), stateNames)
	return m
}

// Subscribe registers fn to receive a snapshot after every handled event
func (m *Machine) Subscribe(fn func(Snapshot)) {
	m.observers = append(m.observers, fn)
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Snapshot returns the current view
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:      m.state,
		Connection: m.conn,
		Error:      m.err,
		Subtitles:  m.subtitles.Items(),
		Speaking:   m.speaking,
		Context:    m.context,
		BufferAll:  m.playback.BufferAll(),
		AutoExport: m.autoExport,
		TurnID:     m.turnID,
		TurnChunks: m.history.Len(),
		TurnBytes:  m.history.Bytes(),
		LastExport: m.lastExport,
	}
}

func (m *Machine) notify() {
	if len(m.observers) == 0 {
		return
	}
	snap := m.Snapshot()
	for _, fn := range m.observers {
		fn(snap)
	}
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Info().Stringer("from", m.state).Stringer("to", s).Msg("state change")

	// Capture runs only while recording
	if m.state == StateRecording {
		m.capture.Stop()
	}
	m.state = s
	m.metrics.SetState(s.String(), stateNames)
}

func (m *Machine) fail(text string, fromCapture bool) {
	m.setState(StateError)
	m.err = text
	m.errFromCapture = fromCapture
	if fromCapture {
		m.metrics.ErrorSurfaced("capture")
	} else {
		m.metrics.ErrorSurfaced("service")
	}
}

func (m *Machine) send(msg protocol.ClientMessage) {
	if err := m.transport.SendMessage(msg); err != nil {
		m.logger.Debug().Err(err).Str("type", msg.Type).Msg("message not sent")
	}
}

func (m *Machine) canPress() bool {
	if m.conn != transport.StatusReady {
		return false
	}
	return m.state == StateIdle || (m.state == StateError && m.errFromCapture)
}

// PressTalk starts a talk turn when the connection is ready
func (m *Machine) PressTalk() {
	defer m.notify()

	if !m.canPress() {
		m.logger.Debug().Stringer("state", m.state).Stringer("connection", m.conn).Msg("press ignored")
		return
	}

	m.haptics.Pulse(m.config.HapticPulse)
	m.playback.Stop()
	m.history.Reset()
	m.speaking = false
	m.turnID = uuid.NewString()

	if m.context != "" {
		m.send(protocol.SetContext(m.context))
	}

	if err := m.capture.Start(); err != nil {
		m.logger.Error().Err(err).Str("turn", m.turnID).Msg("capture failed")
		m.fail(err.Error(), true)
		return
	}

	m.err = ""
	m.errFromCapture = false
	m.state = StateRecording
	m.metrics.SetState(m.state.String(), stateNames)
	m.logger.Info().Str("turn", m.turnID).Msg("recording")

	m.send(protocol.StartTalking())
}

// ReleaseTalk ends the talk turn
func (m *Machine) ReleaseTalk() {
	defer m.notify()

	if m.state != StateRecording {
		return
	}

	m.haptics.Pulse(m.config.HapticPulse)
	m.setState(StateProcessing)
	m.releasedAt = m.now()
	m.send(protocol.StopTalking())
}

// HandleStatus applies a connection status change
func (m *Machine) HandleStatus(status transport.Status) {
	defer m.notify()

	m.conn = status
	switch status {
	case transport.StatusReady:
		m.setState(StateIdle)
		m.err = ""
		m.errFromCapture = false
	case transport.StatusDisconnected:
		m.speaking = false
		m.setState(StateIdle)
	}
}

// HandleMessage applies a server message
func (m *Machine) HandleMessage(msg protocol.ServerMessage) {
	defer m.notify()

	switch msg.Type {
	case protocol.TypeSpeaking:
		m.speaking = msg.Speaking()
		if m.speaking && m.state == StateProcessing {
			m.setState(StatePlaying)
		}

	case protocol.TypeSubtitle:
		m.subtitles.Add(msg.Text)

	case protocol.TypeTurnComplete:
		m.completeTurn()

	case protocol.TypeError:
		m.logger.Warn().Str("message", msg.Message).Msg("service error")
		m.fail(msg.Message, false)

	case protocol.TypeReady, protocol.TypeConnected:
		// Readiness arrives as a status change

	default:
		m.logger.Debug().Str("type", msg.Type).Msg("ignoring unknown message")
	}
}

func (m *Machine) completeTurn() {
	m.speaking = false

	switch m.state {
	case StatePlaying, StateProcessing, StateRecording:
		if !m.releasedAt.IsZero() {
			m.metrics.ObserveTurn(m.now().Sub(m.releasedAt))
			m.releasedAt = time.Time{}
		}
		m.setState(StateIdle)
	}

	if m.playback.BufferAll() {
		if err := m.playback.FlushAllBuffered(); err != nil {
			m.logger.Error().Err(err).Msg("failed to flush buffered turn")
		}
	}

	if m.autoExport && m.history.Len() > 0 {
		if _, err := m.export(); err != nil {
			m.logger.Error().Err(err).Msg("automatic export failed")
		}
	}
}

// HandleAudio forwards an inbound chunk to playback regardless of state
func (m *Machine) HandleAudio(chunk []byte) {
	m.history.Append(chunk)
	if err := m.playback.QueueAudio(chunk); err != nil {
		m.logger.Debug().Err(err).Msg("chunk not queued")
	}
	m.notify()
}

// HandlePlaying applies a playback state change
func (m *Machine) HandlePlaying(playing bool) {
	defer m.notify()

	if playing && m.state == StateProcessing {
		m.setState(StatePlaying)
	}
}

// Reconnect resets to idle, clears the error and reconnects the transport
func (m *Machine) Reconnect() {
	m.setState(StateIdle)
	m.err = ""
	m.errFromCapture = false
	m.speaking = false
	m.notify()

	m.transport.Reconnect()
}

// SetContext replaces the mission context sent at the start of each turn
func (m *Machine) SetContext(text string) {
	m.context = NormalizeContext(text)
	m.notify()
}

// SetBufferAll toggles whole-turn buffering. Turning it off plays anything
// already held.
func (m *Machine) SetBufferAll(on bool) error {
	defer m.notify()
	return m.playback.SetBufferAll(on)
}

// SetAutoExport toggles WAV export at every turn_complete
func (m *Machine) SetAutoExport(on bool) {
	m.autoExport = on
	m.notify()
}

// ErrNothingToExport is returned when the last turn has no audio
var ErrNothingToExport = errors.New("no audio in the last turn")

// ExportNow writes the last turn's audio immediately
func (m *Machine) ExportNow() (string, error) {
	defer m.notify()

	if m.history.Len() == 0 {
		return "", ErrNothingToExport
	}
	return m.export()
}

func (m *Machine) export() (string, error) {
	path, err := m.exporter.Export(m.history.Chunks())
	if err != nil {
		return "", err
	}
	m.lastExport = path
	m.logger.Info().Str("path", path).Int("bytes", m.history.Bytes()).Msg("exported turn audio")
	return path, nil
}
