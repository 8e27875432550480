package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/logging"
	"kepler-vision-go/internal/metrics"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/frameprocessing"
	"kepler-vision-go/internal/services/publisher"
)

// dispatch runs id on the pool once a worker slot is free. After Shutdown the job is
// left queued for the next Start.
func (s *Service) dispatch(id string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Info().Str("job_id", id).Msg("Job left queued, service is stopping")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.slots.Acquire(s.queueCtx, 1); err != nil {
			s.logger.Debug().Str("job_id", id).Msg("Job left queued, service is stopping")
			return
		}
		defer s.slots.Release(1)
		if s.stopping() {
			s.logger.Debug().Str("job_id", id).Msg("Job left queued, service is stopping")
			return
		}
		if err := s.Run(s.baseCtx, id); err != nil && !errors.Is(err, apperr.ErrConflict) {
			s.logger.Error().Err(err).Str("job_id", id).Msg("Job dispatch failed")
		}
	}()
}

// Run claims a queued job and executes it. Pipeline failures are recorded on the job and
// do not surface as errors; a job that is no longer queued is skipped (cancelled) or
// reported as a Conflict.
func (s *Service) Run(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusCancelled {
		s.logger.Info().Str("job_id", id).Msg("Skipping cancelled job")
		return nil
	}

	claimed, err := s.store.MarkRunning(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == models.JobStatusCancelled {
			return nil
		}
		return apperr.Conflict("jobs.Run", "job %s is %s", id, current.Status)
	}
	job.Status = models.JobStatusRunning
	s.notify(job)

	flag := s.register(id)
	defer s.unregister(id)
	if s.metrics != nil {
		s.metrics.JobsRunning.Inc()
		defer s.metrics.JobsRunning.Dec()
	}

	logger := logging.WithJob(s.logger, id)
	logger.Info().Int("max_frames", job.MaxFrames).Bool("mock_mode", job.Config.MockMode).Msg("Job started")

	summary, runErr := s.execute(ctx, job, flag)

	// Terminal writes must land even when the run was interrupted by shutdown.
	final := context.WithoutCancel(ctx)
	var (
		status models.JobStatus
		ok     bool
	)
	switch {
	case runErr != nil:
		status = models.JobStatusFailed
		msg := truncate(runErr.Error(), MaxErrorMessageLength)
		if errors.Is(runErr, context.Canceled) && s.baseCtx.Err() != nil {
			msg = "interrupted by worker shutdown"
		}
		ok, err = s.store.Fail(final, id, msg)
		logger.Error().Err(runErr).Int("frames_processed", summary.FramesProcessed).Msg("Job failed")
	case summary.StoppedEarly:
		status = models.JobStatusCancelled
		ok, err = s.store.MarkCancelled(final, id, summary)
		logger.Info().Int("frames_processed", summary.FramesProcessed).Msg("Job cancelled")
	default:
		status = models.JobStatusCompleted
		ok, err = s.store.Complete(final, id, summary)
		logger.Info().
			Int("frames_processed", summary.FramesProcessed).
			Int("events_detected", summary.EventsDetected).
			Float64("average_processing_fps", summary.AverageProcessingFPS).
			Msg("Job completed")
	}
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn().Str("status", string(status)).Msg("Job changed state during run, terminal update skipped")
		return nil
	}

	s.events.Delete(id)
	s.finished(status)
	if s.metrics != nil && status == models.JobStatusCompleted {
		s.metrics.ProcessingFPS.Observe(summary.AverageProcessingFPS)
	}
	if done, err := s.store.Get(final, id); err == nil {
		s.notify(done)
	}
	return nil
}

// execute is the job execution boundary: errors and panics from the pipeline come back
// as runErr.
func (s *Service) execute(ctx context.Context, job *models.Job, flag *atomic.Bool) (summary models.RunSummary, runErr error) {
	logger := logging.WithJob(s.logger, job.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Pipeline panicked")
			runErr = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	pipe, err := s.factory.NewPipeline(*job)
	if err != nil {
		return summary, fmt.Errorf("build pipeline: %w", err)
	}

	var source frameprocessing.FrameSource
	if job.InputPath != "" {
		src, err := s.factory.OpenSource(job.InputPath)
		if err != nil {
			logger.Warn().Err(err).Str("input", job.InputPath).Msg("Input video unreadable, using synthetic frames")
		} else {
			source = src
		}
	}

	jsonl, err := publisher.NewJSONLSink(job.AnalyticsPath)
	if err != nil {
		if source != nil {
			source.Close()
		}
		return summary, err
	}
	sinks := publisher.Tee{jsonl}
	if s.notifier != nil {
		sinks = append(sinks, publisher.NewBusSink(s.notifier, s.opts.NotifyPrefix, job.ID))
	}
	if s.metrics != nil {
		sinks = append(sinks, eventCounter{s.metrics})
	}

	final := context.WithoutCancel(ctx)
	return pipe.RunVideo(ctx, frameprocessing.RunOptions{
		Source:    source,
		MaxFrames: job.MaxFrames,
		Writer:    s.factory.NewWriter(job.OutputVideoPath),
		Sink:      sinks,
		Progress: func(done, total int, _ models.FrameStats) {
			if err := s.store.UpdateProgress(final, job.ID, done, total); err != nil {
				logger.Warn().Err(err).Int("frame", done).Msg("Failed to record progress")
			}
			if s.metrics != nil {
				s.metrics.FramesProcessed.Inc()
			}
		},
		Cancelled: func() bool {
			if flag.Load() {
				return true
			}
			requested, err := s.store.CancelRequested(final, job.ID)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to poll cancel flag")
				return false
			}
			if requested {
				flag.Store(true)
			}
			return requested
		},
	})
}

func (s *Service) register(id string) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag := &atomic.Bool{}
	s.active[id] = flag
	return flag
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

func (s *Service) flagCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flag, ok := s.active[id]; ok {
		flag.Store(true)
	}
}

// eventCounter counts emitted events by type.
type eventCounter struct{ m *metrics.Metrics }

func (c eventCounter) WriteFrame(models.FrameRecord) error { return nil }

func (c eventCounter) WriteEvent(ev models.Event) error {
	c.m.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (c eventCounter) Close() error { return nil }
