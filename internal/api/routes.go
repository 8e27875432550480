package api

import (
	"github.com/gin-gonic/gin"

	"kepler-vision-go/internal/api/middleware"
)

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestContext())
	s.router.Use(middleware.Logger(s.metrics))
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	keys := s.config.APIKeys
	read := middleware.APIKey(keys, middleware.PermJobsRead)
	write := middleware.APIKey(keys, middleware.PermJobsWrite)
	artifacts := middleware.APIKey(keys, middleware.PermArtifactsRead)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	v1.GET("/health", s.healthHandler.HealthCheck)

	jobs := v1.Group("/jobs")
	{
		jobs.POST("", write, s.jobsHandler.CreateJob)
		jobs.GET("", read, s.jobsHandler.ListJobs)
		jobs.GET("/:id", read, s.jobsHandler.GetJob)
		jobs.POST("/:id/cancel", write, s.jobsHandler.CancelJob)
		jobs.POST("/:id/retry", write, s.jobsHandler.RetryJob)
		jobs.GET("/:id/events", read, s.jobsHandler.GetJobEvents)
		jobs.GET("/:id/artifacts/video", artifacts, s.jobsHandler.DownloadVideo)
		jobs.GET("/:id/artifacts/analytics", artifacts, s.jobsHandler.DownloadAnalytics)
	}

	v1.GET("/metrics/jobs", read, s.jobsHandler.GetMetrics)

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}
}
