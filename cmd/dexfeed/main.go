package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/logging"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/service"
)

func main() {
	bootLogger := logging.New(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	stats := metrics.New()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
	svc, err := service.New(dialCtx, cfg, stats, logger)
	dialCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize service")
	}

	if err := svc.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start service")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-svc.Fatal():
		logger.Error().Err(err).Msg("Chain connection permanently lost")
	}

	svc.Shutdown()
	logger.Info().Msg("Exited cleanly")
}
