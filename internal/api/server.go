package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"kepler-vision-go/internal/api/handlers"
	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/metrics"
)

type Server struct {
	config  *config.Config
	router  *gin.Engine
	server  *http.Server
	metrics *metrics.Metrics

	healthHandler *handlers.HealthHandler
	jobsHandler   *handlers.JobsHandler
	systemHandler *handlers.SystemHandler
}

func NewServer(cfg *config.Config, jobSvc handlers.JobService, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.MaxMultipartMemory = 32 << 20

	return &Server{
		config:        cfg,
		router:        router,
		metrics:       m,
		healthHandler: handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, cfg.RuntimeDir),
		jobsHandler:   handlers.NewJobsHandler(jobSvc, int64(cfg.MaxUploadMB)<<20),
		systemHandler: handlers.NewSystemHandler(cfg.WorkerID, cfg.Workers),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.setupSwagger()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// Start blocks until the server stops. It returns nil after Shutdown.
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting pipeline API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping pipeline API")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
