package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/metrics"
	"kepler-vision-go/internal/services/detection"
	"kepler-vision-go/internal/services/jobs"
	"kepler-vision-go/internal/services/messaging"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config    *config.Config
	Metrics   *metrics.Metrics
	Publisher messaging.Publisher
	Store     *jobs.Store
	Jobs      *jobs.Service
	Inference *detection.Client
}

// NewServiceContainer creates a new service container
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	m := metrics.New()

	publisher, err := messaging.NewPublisher(cfg)
	if err != nil {
		// Notifications are best effort; the control plane runs without them.
		log.Warn().Err(err).Str("backend", cfg.NotifyBackend).Msg("Notification backend unavailable, continuing without it")
		publisher = messaging.Noop{}
	}

	store, err := jobs.OpenStore(cfg.DBPath)
	if err != nil {
		publisher.Shutdown(context.Background())
		return nil, err
	}

	inference := detection.NewClient(cfg.AIGRPCURL, cfg.AITimeout, cfg.DetectionMinScore)
	factory, err := NewPipelineFactory(cfg, inference)
	if err != nil {
		store.Close()
		publisher.Shutdown(context.Background())
		return nil, err
	}

	opts := []jobs.Option{jobs.WithMetrics(m)}
	if _, noop := publisher.(messaging.Noop); !noop {
		opts = append(opts, jobs.WithNotifier(publisher))
	}
	jobSvc, err := jobs.New(store, factory, jobs.Options{
		UploadsDir:     cfg.UploadsDir,
		OutputsDir:     cfg.OutputsDir,
		Workers:        cfg.Workers,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		EventsCacheTTL: cfg.EventsCacheTTL,
		NotifyPrefix:   cfg.NotifyPrefix,
		WorkerID:       cfg.WorkerID,
	}, opts...)
	if err != nil {
		store.Close()
		publisher.Shutdown(context.Background())
		return nil, err
	}

	log.Info().
		Str("db", cfg.DBPath).
		Str("runtime_dir", filepath.Clean(cfg.RuntimeDir)).
		Int("workers", cfg.Workers).
		Str("notify_backend", cfg.NotifyBackend).
		Msg("Service container initialized")

	return &ServiceContainer{
		Config:    cfg,
		Metrics:   m,
		Publisher: publisher,
		Store:     store,
		Jobs:      jobSvc,
		Inference: inference,
	}, nil
}

// Start resumes jobs left by a previous process.
func (sc *ServiceContainer) Start(ctx context.Context) error {
	return sc.Jobs.Start(ctx)
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	var errs []error
	if sc.Jobs != nil {
		if err := sc.Jobs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Inference != nil {
		if err := sc.Inference.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close inference client: %w", err))
		}
	}
	if sc.Publisher != nil {
		if err := sc.Publisher.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Store != nil {
		if err := sc.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job store: %w", err))
		}
	}
	return errors.Join(errs...)
}
