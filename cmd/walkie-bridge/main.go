// ABOUTME: Entry point for the walkie development bridge
// ABOUTME: Parses CLI flags and serves the loopback voice service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/walkie-go/internal/bridge"
	"github.com/Resonate-Protocol/walkie-go/internal/logging"
)

var (
	port     = flag.Int("port", 8765, "WebSocket listen port")
	path     = flag.String("path", "/", "WebSocket endpoint path")
	name     = flag.String("name", "", "mDNS service name (default: hostname-walkie-bridge)")
	noMDNS   = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	fast     = flag.Bool("fast", false, "Send reply audio as fast as possible instead of in real time")
	logFile  = flag.String("log-file", "walkie-bridge.log", "Log file path")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	closer, err := logging.Setup(logging.Options{
		Level:  *logLevel,
		File:   *logFile,
		Stdout: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	serviceName := *name
	if serviceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serviceName = fmt.Sprintf("%s-walkie-bridge", hostname)
	}

	srv := bridge.New(bridge.Config{
		Addr:        fmt.Sprintf(":%d", *port),
		Path:        *path,
		Realtime:    !*fast,
		EnableMDNS:  !*noMDNS,
		ServiceName: serviceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down bridge")
		return nil
	})

	log.Info().Str("name", serviceName).Int("port", *port).Msg("starting walkie bridge, press Ctrl-C to stop")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bridge error")
		os.Exit(1)
	}
}
