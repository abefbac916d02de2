// ABOUTME: Loopback voice service for local development
// ABOUTME: Speaks the walkie protocol and replies to each turn with audio and a subtitle
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/walkie-go/internal/discovery"
)

const (
	// ChunkDuration is the length of each reply audio frame
	ChunkDuration = 100 * time.Millisecond

	// ToneFrequency is used when a turn carried no audio
	ToneFrequency = 440.0

	// ToneDuration is the length of the fallback tone
	ToneDuration = time.Second
)

// Config holds bridge configuration
type Config struct {
	Addr string
	Path string

	// Realtime paces reply chunks at their playback duration
	Realtime bool

	// EnableMDNS advertises the bridge for client discovery
	EnableMDNS  bool
	ServiceName string
}

// Server is the development bridge
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
}

// New creates a bridge
func New(config Config) *Server {
	if config.Path == "" {
		config.Path = "/"
	}
	if config.ServiceName == "" {
		config.ServiceName = "walkie-bridge"
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			// Local development only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With().Str("component", "bridge").Logger(),
		conns:  make(map[string]*conn),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)
	return mux
}

// Connections returns the number of connected clients
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	if s.config.EnableMDNS {
		mgr := discovery.NewManager(discovery.Config{
			ServiceName: s.config.ServiceName,
			Port:        ln.Addr().(*net.TCPAddr).Port,
			Path:        s.config.Path,
		})
		if err := mgr.Advertise(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to start mDNS advertisement")
		} else {
			defer mgr.Stop()
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.config.Path).Msg("bridge listening")
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("bridge server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("bridge shutdown error")
	}
	s.closeAll()
	s.wg.Wait()

	return serveErr
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.ws.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	c := &conn{
		id:     uuid.New().String(),
		ws:     ws,
		server: s,
	}
	c.logger = s.logger.With().Str("conn", c.id).Logger()
	c.logger.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		c.cancelReply()
		_ = ws.Close()
		c.logger.Info().Msg("client disconnected")
	}()

	c.serve()
}
