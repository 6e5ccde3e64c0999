package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/go-customer-registry/pkg/config"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func main() {
	configFile := flag.String("config", "", "Path to the YAML config file (defaults are used when empty)")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configFile).Msg("Failed to load config")
		}
		cfg = loaded
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("Invalid log level")
	}
	logger = logger.Level(level).With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, clockwork.NewRealClock(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build customer registry")
	}
	if err := a.server.Start(); err != nil {
		a.Close()
		logger.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
	logger.Info().Str("port", a.server.GetHTTPPort()).Msg("Customer registry running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Unclean shutdown.")
		os.Exit(1)
	}
}
