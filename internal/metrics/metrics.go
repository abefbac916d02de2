// ABOUTME: Prometheus metrics for the voice client
// ABOUTME: Counters and gauges for playback, capture, transport and session state
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics contains all Prometheus metrics for the client. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Playback
	ChunksReceived prometheus.Counter
	UnitsScheduled prometheus.Counter
	ChunksDropped  prometheus.Counter
	Resyncs        prometheus.Counter
	PlaybackActive prometheus.Gauge

	// Capture
	FramesCaptured prometheus.Counter
	BytesSent      prometheus.Counter

	// Transport
	ConnectionStatus *prometheus.GaugeVec
	Reconnects       prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	MalformedFrames  prometheus.Counter

	// Session
	SessionState  *prometheus.GaugeVec
	TurnDuration  prometheus.Histogram
	ErrorsSurface *prometheus.CounterVec
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_playback_chunks_received_total",
			Help: "Total number of inbound audio chunks handed to the scheduler",
		}),
		UnitsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_playback_units_scheduled_total",
			Help: "Total number of audio units placed on the output clock",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_playback_chunks_dropped_total",
			Help: "Total number of malformed audio chunks skipped",
		}),
		Resyncs: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_playback_resyncs_total",
			Help: "Total number of drift resynchronizations",
		}),
		PlaybackActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "walkie_playback_active",
			Help: "1 while audio is playing",
		}),

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_capture_frames_total",
			Help: "Total number of microphone frames sent",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_capture_bytes_sent_total",
			Help: "Total number of PCM bytes sent to the service",
		}),

		ConnectionStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "walkie_connection_status",
			Help: "Current connection status (1 for the active status)",
		}, []string{"status"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_reconnects_scheduled_total",
			Help: "Total number of automatic reconnects scheduled",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walkie_messages_received_total",
			Help: "Total number of server messages by type",
		}, []string{"type"}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "walkie_malformed_messages_total",
			Help: "Total number of text frames that failed to parse",
		}),

		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "walkie_session_state",
			Help: "Current session state (1 for the active state)",
		}, []string{"state"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "walkie_turn_duration_seconds",
			Help:    "Time from release of talk to turn_complete",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		ErrorsSurface: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walkie_errors_total",
			Help: "Errors surfaced to the user by source",
		}, []string{"source"}),
	}
}

// ChunkReceived counts an inbound chunk
func (m *Metrics) ChunkReceived() {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
}

// UnitScheduled counts a unit placed on the clock
func (m *Metrics) UnitScheduled() {
	if m == nil {
		return
	}
	m.UnitsScheduled.Inc()
}

// ChunkDropped counts a skipped chunk
func (m *Metrics) ChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

// Resync counts a drift resynchronization
func (m *Metrics) Resync() {
	if m == nil {
		return
	}
	m.Resyncs.Inc()
}

// SetPlaying records the playing flag
func (m *Metrics) SetPlaying(playing bool) {
	if m == nil {
		return
	}
	if playing {
		m.PlaybackActive.Set(1)
	} else {
		m.PlaybackActive.Set(0)
	}
}

// FrameSent counts a captured frame of n bytes
func (m *Metrics) FrameSent(n int) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	m.BytesSent.Add(float64(n))
}

// SetStatus marks current as the active connection status
func (m *Metrics) SetStatus(current string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.ConnectionStatus, current, all)
}

// ReconnectScheduled counts an automatic reconnect
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// MessageReceived counts a server message by type
func (m *Metrics) MessageReceived(typ string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(typ).Inc()
}

// MalformedMessage counts an unparseable text frame
func (m *Metrics) MalformedMessage() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

// SetState marks current as the active session state
func (m *Metrics) SetState(current string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.SessionState, current, all)
}

// ObserveTurn records the processing time of one turn
func (m *Metrics) ObserveTurn(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnDuration.Observe(d.Seconds())
}

// ErrorSurfaced counts an error shown to the user
func (m *Metrics) ErrorSurfaced(source string) {
	if m == nil {
		return
	}
	m.ErrorsSurface.WithLabelValues(source).Inc()
}

func setOneHot(g *prometheus.GaugeVec, current string, all []string) {
	for _, v := range all {
		if v == current {
			g.WithLabelValues(v).Set(1)
		} else {
			g.WithLabelValues(v).Set(0)
		}
	}
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
