package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yoko36/public-AI-APP/internal/config"
	"github.com/yoko36/public-AI-APP/internal/mockapi"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	sc := mockapi.DefaultScenario()
	if cfg.MockScenarioPath != "" {
		sc, err = mockapi.LoadScenario(cfg.MockScenarioPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.MockScenarioPath).Msg("failed to load scenario")
		}
	}

	srv := mockapi.NewServer(sc, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.MockListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.MockListenAddr).
		Str("scenario", cfg.MockScenarioPath).
		Msg("mock chat backend started")

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}
}
