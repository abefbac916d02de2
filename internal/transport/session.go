// ABOUTME: WebSocket transport session to the voice service
// ABOUTME: Handles connect, readiness, message routing and automatic reconnect with backoff
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/walkie-go/internal/event"
	"github.com/Resonate-Protocol/walkie-go/internal/metrics"
	"github.com/Resonate-Protocol/walkie-go/internal/protocol"
)

// ErrNotConnected is returned when sending without an open socket
var ErrNotConnected = errors.New("not connected")

// Status is the connection status
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReady:
		return "ready"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var statusNames = []string{"disconnected", "connecting", "connected", "ready"}

// EventKind identifies a transport event
type EventKind int

const (
	EventStatus EventKind = iota
	EventAudio
	EventMessage
)

// Event is published by the session
type Event struct {
	Kind    EventKind
	Status  Status
	Audio   []byte
	Message protocol.ServerMessage
}

// Timer is a pending reconnect
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config holds session configuration
type Config struct {
	URL          string
	Backoff      Backoff
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	AfterFunc    AfterFunc
	Metrics      *metrics.Metrics
}

// Session maintains one logical connection to the service
type Session struct {
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	attempt    int
	gen        uint64
	timer      Timer
	cancelDial context.CancelFunc
	closed     bool

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	events *event.Queue[Event]
}

// New creates a session. Nothing connects until Start.
func New(config Config) *Session {
	if config.Backoff == (Backoff{}) {
		config.Backoff = DefaultBackoff()
	}
	if config.Dialer == nil {
		config.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.AfterFunc == nil {
		config.AfterFunc = realAfterFunc
	}

	return &Session{
		config: config,
		logger: log.With().Str("component", "transport").Str("url", config.URL).Logger(),
		events: event.NewQueue[Event](),
	}
}

// Events returns the session event channel
func (s *Session) Events() <-chan Event {
	return s.events.C()
}

// Status returns the current connection status
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Attempt returns the reconnect attempt counter
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Start begins connecting
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.status != StatusDisconnected || s.timer != nil {
		return
	}
	s.beginLocked()
}

// Reconnect drops any pending reconnect and current socket, resets the
// attempt counter and connects immediately
func (s *Session) Reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.logger.Info().Msg("manual reconnect")
	s.stopTimerLocked()
	s.attempt = 0
	old := s.conn
	s.conn = nil
	if s.status != StatusDisconnected {
		s.setStatusLocked(StatusDisconnected)
	}
	s.beginLocked()
	s.mu.Unlock()

	if old != nil {
		s.closeConn(old)
	}
}

// Close tears the session down without reconnecting
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	s.stopTimerLocked()
	conn := s.conn
	s.conn = nil
	if s.status != StatusDisconnected {
		s.setStatusLocked(StatusDisconnected)
	}
	s.mu.Unlock()

	if conn != nil {
		s.closeConn(conn)
	}
	s.logger.Info().Msg("connection closed")
	return nil
}

// SendMessage sends a control message as a text frame
func (s *Session) SendMessage(msg protocol.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}
	if err := s.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// SendAudio sends PCM as a binary frame
func (s *Session) SendAudio(chunk []byte) error {
	if err := s.write(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

func (s *Session) write(messageType int, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.logger.Warn().Int("frame_type", messageType).Msg("socket not open, dropping frame")
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

func (s *Session) closeConn(conn *websocket.Conn) {
	s.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	_ = conn.Close()
}

func (s *Session) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	s.status = status
	s.config.Metrics.SetStatus(status.String(), statusNames)
	s.logger.Debug().Stringer("status", status).Msg("connection status")
	s.events.Push(Event{Kind: EventStatus, Status: status})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
}

// beginLocked starts a new connection generation. Goroutines of older
// generations discard their results.
func (s *Session) beginLocked() {
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	s.setStatusLocked(StatusConnecting)

	go s.run(ctx, gen)
}

func (s *Session) run(ctx context.Context, gen uint64) {
	s.logger.Info().Msg("connecting")
	conn, _, err := s.config.Dialer.DialContext(ctx, s.config.URL, nil)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.cancelDial = nil

	if err != nil {
		s.logger.Warn().Err(err).Msg("dial failed")
		s.reconnectLaterLocked()
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.attempt = 0
	s.setStatusLocked(StatusConnected)
	s.mu.Unlock()

	s.logger.Info().Msg("connected")
	s.readMessages(gen, conn)
}

// readMessages reads and routes incoming frames until the socket fails
func (s *Session) readMessages(gen uint64, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleBinary(gen, data)
		case websocket.TextMessage:
			s.handleText(gen, data)
		}
	}
}

func (s *Session) handleBinary(gen uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Trailing frame from a replaced socket
	if gen != s.gen {
		return
	}
	s.events.Push(Event{Kind: EventAudio, Audio: data})
}

func (s *Session) handleText(gen uint64, data []byte) {
	msg, err := protocol.ParseServer(data)
	if err != nil {
		s.config.Metrics.MalformedMessage()
		s.logger.Warn().Err(err).Int("size", len(data)).Msg("dropping malformed message")
		return
	}
	s.config.Metrics.MessageReceived(msg.Type)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	s.events.Push(Event{Kind: EventMessage, Message: msg})
	if msg.Type == protocol.TypeReady {
		s.setStatusLocked(StatusReady)
	}
}

// handleClose treats every close not caused by Close or Reconnect as
// abnormal and schedules a reconnect
func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}

	s.logger.Warn().Err(err).Msg("connection lost")
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.reconnectLaterLocked()
}

func (s *Session) reconnectLaterLocked() {
	s.setStatusLocked(StatusDisconnected)
	if s.closed {
		return
	}

	delay := s.config.Backoff.Delay(s.attempt)
	s.attempt++
	s.config.Metrics.ReconnectScheduled()
	s.logger.Info().Dur("delay", delay).Int("attempt", s.attempt).Msg("scheduling reconnect")

	gen := s.gen
	s.timer = s.config.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed || gen != s.gen {
			return
		}
		s.timer = nil
		s.beginLocked()
	})
}
