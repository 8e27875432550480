package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewServiceLogger tags the global logger with the worker and service names.
func NewServiceLogger(workerID, service string) zerolog.Logger {
	ctx := log.With().Str("service", service)
	if workerID != "" {
		ctx = ctx.Str("worker_id", workerID)
	}
	return ctx.Logger()
}

func WithJob(base zerolog.Logger, jobID string) zerolog.Logger {
	return base.With().Str("job_id", jobID).Logger()
}
