// ABOUTME: Walkie client orchestration
// ABOUTME: Wires audio, transport and the session machine and runs the dispatch loop
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/walkie-go/internal/capture"
	"github.com/Resonate-Protocol/walkie-go/internal/config"
	"github.com/Resonate-Protocol/walkie-go/internal/event"
	"github.com/Resonate-Protocol/walkie-go/internal/export"
	"github.com/Resonate-Protocol/walkie-go/internal/metrics"
	"github.com/Resonate-Protocol/walkie-go/internal/output"
	"github.com/Resonate-Protocol/walkie-go/internal/playback"
	"github.com/Resonate-Protocol/walkie-go/internal/session"
	"github.com/Resonate-Protocol/walkie-go/internal/transport"
	"github.com/Resonate-Protocol/walkie-go/internal/ui"
)

// Capture backends
const (
	CaptureMalgo = "malgo"
	CaptureNull  = "null"
)

// Options holds settings that do not come from the config file
type Options struct {
	// UseTUI runs the bubbletea front end. Otherwise commands are read
	// line by line from Commands.
	UseTUI bool

	// Commands feeds headless mode. Nil disables command input.
	Commands io.Reader

	// Bell receives the terminal bell in headless mode
	Bell io.Writer

	// Registry collects metrics. Nil creates a private registry.
	Registry *prometheus.Registry
}

// App is the walkie client
type App struct {
	config *config.Config
	opts   Options
	logger zerolog.Logger

	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	mixer     *output.Mixer
	device    output.Device
	scheduler *playback.Scheduler
	capture   *capture.Pipeline
	transport *transport.Session
	machine   *session.Machine

	intents *event.Queue[intent]
	view    *event.Queue[tea.Msg]
	program *tea.Program

	mu   sync.Mutex
	snap session.Snapshot
}

// New builds every component. Nothing touches a device or the network
// until Run.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		opts:     opts,
		logger:   log.With().Str("component", "app").Logger(),
		registry: opts.Registry,
		intents:  event.NewQueue[intent](),
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.metrics = metrics.New(a.registry)

	device, err := output.New(cfg.Audio.Output)
	if err != nil {
		return nil, err
	}
	a.device = device
	a.mixer = output.NewMixer(cfg.Audio.OutputSampleRate)

	a.scheduler = playback.NewScheduler(a.mixer, playback.Config{
		SampleRate: cfg.Audio.OutputSampleRate,
		BufferAll:  cfg.Experimental.BufferAllAudio,
		Metrics:    a.metrics,
	})

	a.transport = transport.New(transport.Config{
		URL: cfg.Endpoint,
		Backoff: transport.Backoff{
			Base:       cfg.Reconnect.BaseDelay,
			Max:        cfg.Reconnect.MaxDelay,
			Multiplier: cfg.Reconnect.Multiplier,
		},
		Metrics: a.metrics,
	})

	source, err := newSource(cfg.Audio.Capture)
	if err != nil {
		return nil, err
	}
	constraints := capture.DefaultConstraints()
	constraints.SampleRate = cfg.Audio.InputSampleRate
	a.capture = capture.NewPipeline(source, constraints, a.sendAudio, a.metrics)

	exporter, err := export.NewWriter(cfg.Export.Dir, cfg.Audio.OutputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare export directory: %w", err)
	}

	var haptics session.Haptics = bellHaptics{w: opts.Bell}
	if opts.UseTUI {
		a.view = event.NewQueue[tea.Msg]()
		a.program = ui.Run(a.Controls())
		haptics = viewHaptics{view: a.view}
	}

	a.machine = session.NewMachine(session.Config{
		SubtitleCap: cfg.Session.SubtitleCap,
		HapticPulse: cfg.Session.HapticPulse,
		AutoExport:  cfg.Experimental.AutoExport,
		Context:     cfg.Session.Context,
		Metrics:     a.metrics,
	}, a.transport, a.capture, a.scheduler, haptics, exporter)
	a.machine.Subscribe(a.observe)
	a.snap = a.machine.Snapshot()

	return a, nil
}

func newSource(backend string) (capture.Source, error) {
	switch backend {
	case CaptureMalgo, "":
		return capture.NewMalgoSource(), nil
	case CaptureNull:
		return capture.NullSource{}, nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}
}

// Registry returns the metrics registry
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Snapshot returns the most recent session view
func (a *App) Snapshot() session.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

func (a *App) observe(s session.Snapshot) {
	a.mu.Lock()
	a.snap = s
	a.mu.Unlock()

	a.show(ui.SnapshotMsg{Snapshot: s})
}

func (a *App) show(msg tea.Msg) {
	if a.view != nil {
		a.view.Push(msg)
	}
}

// sendAudio runs on the capture delivery goroutine
func (a *App) sendAudio(frame []byte) {
	if err := a.transport.SendAudio(frame); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		a.logger.Warn().Err(err).Msg("failed to send audio frame")
	}
}

// Run starts the devices and the connection and blocks until ctx is
// cancelled or the user quits
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.device.Start(a.mixer); err != nil {
		return fmt.Errorf("failed to start audio output: %w", err)
	}
	defer a.shutdown()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error {
		a.dispatch(gctx, cancel)
		return nil
	})

	if addr := a.config.Metrics.Address; addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, addr, a.registry) })
	}

	if a.program != nil {
		g.Go(func() error {
			defer cancel()
			if _, err := a.program.Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			a.forwardView(gctx)
			a.program.Quit()
			return nil
		})
	} else if a.opts.Commands != nil {
		// Blocking reads cannot be interrupted, so this stays out of the group
		go a.readCommands(a.opts.Commands)
	}

	a.logger.Info().Str("endpoint", a.config.Endpoint).Msg("starting walkie client")
	a.transport.Start()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) shutdown() {
	if err := a.transport.Close(); err != nil {
		a.logger.Debug().Err(err).Msg("transport close")
	}
	a.capture.Close()
	a.scheduler.Stop()
	if err := a.device.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close audio output")
	}
	a.mixer.Close()
	a.intents.Close()
	if a.view != nil {
		a.view.Close()
	}
	a.logger.Info().Msg("walkie client stopped")
}

// dispatch is the only caller of the session machine
func (a *App) dispatch(ctx context.Context, quit context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-a.transport.Events():
			switch ev.Kind {
			case transport.EventStatus:
				a.machine.HandleStatus(ev.Status)
			case transport.EventAudio:
				a.machine.HandleAudio(ev.Audio)
			case transport.EventMessage:
				a.machine.HandleMessage(ev.Message)
			}

		case ev := <-a.scheduler.Events():
			a.handlePlayback(ev)

		case ev := <-a.capture.Events():
			a.show(ui.LevelMsg{Input: ev.Level, Output: -1})

		case in := <-a.intents.C():
			if in.kind == intentQuit {
				quit()
				return
			}
			a.apply(in)
		}
	}
}

func (a *App) handlePlayback(ev playback.Event) {
	switch ev.Kind {
	case playback.EventPlaying:
		a.machine.HandlePlaying(ev.Playing)
	case playback.EventLevel:
		a.show(ui.LevelMsg{Input: -1, Output: ev.Level})
	case playback.EventResync:
		a.logger.Debug().Float64("lag", ev.Lag).Msg("playback resynced")
	case playback.EventHardwareError:
		a.logger.Error().Err(ev.Err).Msg("audio output failure")
		a.metrics.ErrorSurfaced("playback")
		a.show(ui.NoticeMsg("Audio output failed: " + ev.Err.Error()))
	}
}

func (a *App) apply(in intent) {
	switch in.kind {
	case intentPress:
		a.machine.PressTalk()
	case intentRelease:
		a.machine.ReleaseTalk()
	case intentToggleTalk:
		if a.machine.State() == session.StateRecording {
			a.machine.ReleaseTalk()
		} else {
			a.machine.PressTalk()
		}
	case intentReconnect:
		a.machine.Reconnect()
	case intentToggleBufferAll:
		on := !a.scheduler.BufferAll()
		if err := a.machine.SetBufferAll(on); err != nil {
			a.logger.Error().Err(err).Msg("failed to change buffering")
		}
		a.logger.Info().Bool("buffer_all", on).Msg("buffer whole turn")
	case intentToggleAutoExport:
		on := !a.machine.Snapshot().AutoExport
		a.machine.SetAutoExport(on)
		a.logger.Info().Bool("auto_export", on).Msg("auto export")
	case intentExport:
		path, err := a.machine.ExportNow()
		if err != nil {
			a.logger.Warn().Err(err).Msg("export failed")
			a.show(ui.NoticeMsg("Export failed: " + err.Error()))
			return
		}
		a.show(ui.NoticeMsg("Saved " + path))
	case intentSetContext:
		a.machine.SetContext(in.text)
	}
}

func (a *App) forwardView(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.view.C():
			a.program.Send(msg)
		}
	}
}
