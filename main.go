// ABOUTME: Entry point for the walkie push-to-talk client
// ABOUTME: Parses CLI flags, loads configuration and runs the client application
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/walkie-go/internal/app"
	"github.com/Resonate-Protocol/walkie-go/internal/config"
	"github.com/Resonate-Protocol/walkie-go/internal/discovery"
	"github.com/Resonate-Protocol/walkie-go/internal/logging"
	"github.com/Resonate-Protocol/walkie-go/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a YAML config file")
	endpoint    = flag.String("endpoint", "", "Voice service WebSocket URL (overrides config)")
	discover    = flag.Bool("discover", false, "Find a local bridge with mDNS instead of using the endpoint")
	outputName  = flag.String("output", "", "Audio output backend: malgo, oto or null")
	captureName = flag.String("capture", "", "Audio capture backend: malgo or null")
	bufferAll   = flag.Bool("buffer-all", false, "Hold each reply until turn_complete, then play it in one piece")
	autoExport  = flag.Bool("auto-export", false, "Save every reply as a WAV file")
	missionCtx  = flag.String("context", "", "Mission context sent at the start of each turn")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	logFile     = flag.String("log-file", "", "Log file path (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level (overrides config)")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, read commands from stdin and stream logs")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner())
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	useTUI := !*noTUI

	// TUI mode logs only to the file
	closer, err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Stdout: !useTUI,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	log.Info().Str("version", version.Version).Bool("tui", useTUI).Msg("starting " + version.Product)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Discovery.Enabled {
		bridge, err := discovery.Lookup(ctx, cfg.Discovery.Timeout)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Endpoint).Msg("bridge discovery failed, using configured endpoint")
		} else {
			cfg.Endpoint = bridge.URL()
		}
	}

	opts := app.Options{UseTUI: useTUI}
	if !useTUI {
		opts.Commands = os.Stdin
		opts.Bell = os.Stdout
		fmt.Println("Commands: <enter> talk/stop, c <text> context, b buffer, e auto-export, w export, r reconnect, q quit")
	}

	client, err := app.New(cfg, opts)
	if err != nil {
		log.Error().Err(err).Msg("failed to create client")
		os.Exit(1)
	}

	if err := client.Run(ctx); err != nil {
		log.Error().Err(err).Msg("client error")
		os.Exit(1)
	}
}

// applyFlags overrides config values with flags set on the command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Endpoint = *endpoint
		case "discover":
			cfg.Discovery.Enabled = *discover
		case "output":
			cfg.Audio.Output = *outputName
		case "capture":
			cfg.Audio.Capture = *captureName
		case "buffer-all":
			cfg.Experimental.BufferAllAudio = *bufferAll
		case "auto-export":
			cfg.Experimental.AutoExport = *autoExport
		case "context":
			cfg.Session.Context = *missionCtx
		case "metrics-addr":
			cfg.Metrics.Address = *metricsAddr
		case "log-file":
			cfg.Logging.File = *logFile
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})
}
