package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kepler-vision-go/internal/api"
	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/services"
)

func serveCommand(loaded func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API and run submitted jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(loaded())
		},
	}
}

func serve(cfg *config.Config) error {
	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Int("workers", cfg.Workers).
		Bool("api_keys", len(cfg.APIKeys) > 0).
		Msg("Starting Kepler Vision")

	container, err := services.NewServiceContainer(cfg)
	if err != nil {
		return err
	}

	if err := container.Start(context.Background()); err != nil {
		shutdownContainer(cfg, container)
		return err
	}

	server := api.NewServer(cfg, container.Jobs, container.Metrics)
	if err := server.Setup(); err != nil {
		shutdownContainer(cfg, container)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("Server stopped unexpectedly")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	shutdownContainer(cfg, container)
	return serveErr
}

func shutdownContainer(cfg *config.Config, container *services.ServiceContainer) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := container.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Service shutdown incomplete")
		return
	}
	log.Info().Msg("Shutdown complete")
}
