package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/webrtc-core/internal/auth"
	"github.com/ethan/webrtc-core/internal/icepipe"
	"github.com/ethan/webrtc-core/internal/session"
	"github.com/ethan/webrtc-core/pkg/config"
	"github.com/ethan/webrtc-core/pkg/logger"
	"github.com/ethan/webrtc-core/pkg/transport"
	"github.com/ethan/webrtc-core/plugins/echotest"
)

func main() {
	fs := flag.NewFlagSet("webrtc-core", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	configPath := fs.String("config", "webrtc-core.ini", "path to the INI configuration file")
	listenAddr := fs.String("listen", ":8088", "address the signaling transport listens on")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Per-session WebRTC media engine\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info().Str("log_config", logFlags.String()).Msg("starting webrtc-core")

	snapshot, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("path", *configPath).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := snapshot.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	store := config.NewStore(snapshot)
	log.Info().Msg("configuration loaded")

	cert, err := icepipe.GenerateSelfSignedCertificate()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate DTLS identity certificate")
		os.Exit(1)
	}

	table := auth.NewTable(snapshot.Auth.TokenAuth, snapshot.Auth.TokenSecret)

	engine := session.NewEngine(store, table, cert, log)

	if err := engine.RegisterPlugin(echotest.New()); err != nil {
		log.Error().Err(err).Msg("failed to register echotest plugin")
		os.Exit(1)
	}

	srv := transport.NewServer(engine, log, *listenAddr)
	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start transport server")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Str("address", *listenAddr).Msg("ready")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during transport shutdown")
	}

	log.Info().Msg("webrtc-core stopped")
}
