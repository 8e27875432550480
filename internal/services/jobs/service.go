// Package jobs runs pipeline executions as persisted, cancellable, idempotent jobs on a
// bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/logging"
	"kepler-vision-go/internal/metrics"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/frameprocessing"
	"kepler-vision-go/internal/services/publisher"
)

// SupportedExtensions are the accepted upload containers.
var SupportedExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// ErrUploadTooLarge is returned when an upload exceeds the configured cap.
var ErrUploadTooLarge = errors.New("upload exceeds size limit")

// AnonymousRequester is recorded when a submission carries no identity.
const AnonymousRequester = "anonymous"

// Runner executes one pipeline run.
type Runner interface {
	RunVideo(ctx context.Context, opts frameprocessing.RunOptions) (models.RunSummary, error)
}

// PipelineFactory builds the per-job collaborators. NewWriter may return nil to drop
// rendered frames.
type PipelineFactory interface {
	NewPipeline(job models.Job) (Runner, error)
	OpenSource(path string) (frameprocessing.FrameSource, error)
	NewWriter(path string) frameprocessing.WriterFactory
}

// Options configure the service.
type Options struct {
	UploadsDir     string
	OutputsDir     string
	Workers        int
	MaxUploadBytes int64
	EventsCacheTTL time.Duration
	NotifyPrefix   string
	WorkerID       string
}

// SubmitRequest describes a new job. Upload may be nil, in which case the run uses
// synthetic frames.
type SubmitRequest struct {
	RequestedBy    string
	IdempotencyKey string
	Config         models.JobConfig
	Zones          []models.Zone
	Async          bool
	Filename       string
	Upload         io.Reader
}

// EventFilter selects events of one job. Type and Severity match case-insensitively.
type EventFilter struct {
	Type     string
	Severity string
	Limit    int
	Offset   int
}

// ArtifactKind names a downloadable output of a job.
type ArtifactKind string

const (
	ArtifactVideo     ArtifactKind = "video"
	ArtifactAnalytics ArtifactKind = "analytics"
)

// Notification is published on <prefix>.jobs.<status> for every lifecycle change.
type Notification struct {
	JobID           string             `json:"job_id"`
	Status          models.JobStatus   `json:"status"`
	RequestedBy     string             `json:"requested_by"`
	ProcessedFrames int                `json:"processed_frames"`
	Summary         *models.RunSummary `json:"summary,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

type Option func(*Service)

// WithNotifier publishes lifecycle changes and pipeline events.
func WithNotifier(pub models.MessagePublisher) Option {
	return func(s *Service) { s.notifier = pub }
}

// WithMetrics records job and frame counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service is the job control plane. Construct one per process with New; tests create
// isolated instances over temporary stores.
type Service struct {
	store    *Store
	factory  PipelineFactory
	opts     Options
	notifier models.MessagePublisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	slots  *semaphore.Weighted
	events *cache.Cache

	// queueCtx ends when Shutdown starts. baseCtx ends after running jobs finish or the
	// shutdown grace period runs out.
	queueCtx  context.Context
	stopQueue context.CancelFunc
	baseCtx   context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	active  map[string]*atomic.Bool
}

func New(store *Store, factory PipelineFactory, opts Options, options ...Option) (*Service, error) {
	if store == nil || factory == nil {
		return nil, apperr.InvalidInput("jobs.New", "store and pipeline factory are required")
	}
	opts.Workers = max(1, opts.Workers)
	if opts.EventsCacheTTL <= 0 {
		opts.EventsCacheTTL = 5 * time.Minute
	}
	if opts.NotifyPrefix == "" {
		opts.NotifyPrefix = "vision"
	}
	for _, dir := range []string{opts.UploadsDir, opts.OutputsDir} {
		if dir == "" {
			return nil, apperr.InvalidInput("jobs.New", "uploads and outputs directories are required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	queueCtx, stopQueue := context.WithCancel(ctx)
	s := &Service{
		store:     store,
		factory:   factory,
		opts:      opts,
		logger:    logging.NewServiceLogger(opts.WorkerID, "jobs"),
		slots:     semaphore.NewWeighted(int64(opts.Workers)),
		events:    cache.New(opts.EventsCacheTTL, 2*opts.EventsCacheTTL),
		queueCtx:  queueCtx,
		stopQueue: stopQueue,
		baseCtx:   ctx,
		stop:      stop,
		active:    make(map[string]*atomic.Bool),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// Start resumes work left by a previous process: jobs still marked running are failed,
// queued jobs are dispatched again.
func (s *Service) Start(ctx context.Context) error {
	orphaned, err := s.store.IDsWithStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return err
	}
	for _, id := range orphaned {
		if ok, err := s.store.Fail(ctx, id, "interrupted by worker restart"); err != nil {
			return err
		} else if ok {
			s.logger.Warn().Str("job_id", id).Msg("Marked orphaned running job as failed")
		}
	}

	queued, err := s.store.IDsWithStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return err
	}
	for _, id := range queued {
		s.dispatch(id)
	}
	s.logger.Info().
		Int("workers", s.opts.Workers).
		Int("orphaned", len(orphaned)).
		Int("resumed", len(queued)).
		Msg("Job service started")
	return nil
}

// Shutdown stops dispatching and waits for running jobs until ctx expires. Jobs still
// waiting for a slot stay queued for the next Start. Runs still going at the deadline are
// interrupted at their next frame and recorded as failed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stopQueue()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.stop()
		s.logger.Info().Msg("Job service stopped")
		return nil
	case <-ctx.Done():
		s.stop()
		<-done
		return fmt.Errorf("job service shutdown: %w", ctx.Err())
	}
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Submit validates and persists a job. created is false when an earlier job with the
// same (requester, idempotency key) is returned instead.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (job *models.Job, created bool, err error) {
	if err := ValidateConfig(req.Config); err != nil {
		return nil, false, err
	}
	zones, err := ValidateZones(req.Zones)
	if err != nil {
		return nil, false, err
	}
	ext := ""
	if req.Upload != nil {
		ext = strings.ToLower(filepath.Ext(req.Filename))
		if !supported(ext) {
			return nil, false, apperr.InvalidInput("jobs.Submit", "unsupported video format %q", ext)
		}
	}

	requester := strings.TrimSpace(req.RequestedBy)
	if requester == "" {
		requester = AnonymousRequester
	}
	var key *string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key = &k
		existing, err := s.store.FindByIdempotencyKey(ctx, requester, k)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, false, err
		}
	}

	id := uuid.NewString()
	job = &models.Job{
		ID:              id,
		Status:          models.JobStatusQueued,
		RequestedBy:     requester,
		IdempotencyKey:  key,
		CreatedAt:       time.Now().UTC(),
		MaxFrames:       req.Config.MaxFrames,
		Config:          req.Config,
		Zones:           zones,
		OutputVideoPath: filepath.Join(s.opts.OutputsDir, id+".mp4"),
		AnalyticsPath:   filepath.Join(s.opts.OutputsDir, id+".jsonl"),
	}
	if req.Upload != nil {
		job.InputPath = filepath.Join(s.opts.UploadsDir, id+ext)
		if err := s.saveUpload(job.InputPath, req.Upload); err != nil {
			return nil, false, err
		}
	}

	if err := s.store.Create(ctx, job); err != nil {
		if job.InputPath != "" {
			os.Remove(job.InputPath)
		}
		if errors.Is(err, apperr.ErrConflict) && key != nil {
			existing, ferr := s.store.FindByIdempotencyKey(ctx, requester, *key)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if s.metrics != nil {
		s.metrics.JobsSubmitted.Inc()
	}
	s.logger.Info().
		Str("job_id", id).
		Str("requested_by", requester).
		Int("max_frames", job.MaxFrames).
		Bool("async", req.Async).
		Bool("upload", job.InputPath != "").
		Msg("Job submitted")
	s.notify(job)

	if req.Async {
		s.dispatch(id)
		return job, true, nil
	}

	if err := s.Run(ctx, id); err != nil {
		return nil, true, err
	}
	job, err = s.store.Get(ctx, id)
	return job, true, err
}

func (s *Service) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns a page of jobs and the total matching the filter. A zero limit means 20.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Job, int64, error) {
	if f.Limit == 0 {
		f.Limit = 20
	}
	if f.Limit < 1 || f.Limit > 100 {
		return nil, 0, apperr.InvalidInput("jobs.List", "limit must be in [1, 100]")
	}
	if f.Offset < 0 {
		return nil, 0, apperr.InvalidInput("jobs.List", "offset must be non-negative")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.InvalidInput("jobs.List", "unknown status %q", f.Status)
	}
	return s.store.List(ctx, f)
}

func (s *Service) Metrics(ctx context.Context) (models.JobMetrics, error) {
	return s.store.Metrics(ctx)
}

// Cancel cancels a queued job at once and flags a running one; the worker finalizes it at
// the next frame boundary. cancelRequested is false for jobs that are already terminal.
func (s *Service) Cancel(ctx context.Context, id string) (job *models.Job, cancelRequested bool, err error) {
	job, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if job.Status.IsTerminal() {
		return job, false, nil
	}

	ok, err := s.store.CancelQueued(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.finished(models.JobStatusCancelled)
		s.logger.Info().Str("job_id", id).Msg("Queued job cancelled")
	} else {
		// Not queued anymore: flag the running worker.
		ok, err = s.store.RequestCancel(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if ok {
			s.flagCancel(id)
			s.logger.Info().Str("job_id", id).Msg("Cancellation requested for running job")
		}
	}

	job, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ok && job.Status == models.JobStatusCancelled {
		s.notify(job)
	}
	return job, ok, nil
}

// Retry submits a new asynchronous job with the input, config and zones of id. The
// original job is left untouched.
func (s *Service) Retry(ctx context.Context, id, requestedBy string) (*models.Job, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.InputPath != "" {
		if _, err := os.Stat(orig.InputPath); err != nil {
			return nil, apperr.Unavailable("jobs.Retry", "input artifact of job %s is no longer available", id)
		}
	}
	if strings.TrimSpace(requestedBy) == "" {
		requestedBy = orig.RequestedBy
	}

	newID := uuid.NewString()
	source := orig.ID
	job := &models.Job{
		ID:              newID,
		Status:          models.JobStatusQueued,
		RequestedBy:     requestedBy,
		CreatedAt:       time.Now().UTC(),
		MaxFrames:       orig.MaxFrames,
		Config:          orig.Config,
		Zones:           orig.Zones,
		RetryOf:         &source,
		InputPath:       orig.InputPath,
		OutputVideoPath: filepath.Join(s.opts.OutputsDir, newID+".mp4"),
		AnalyticsPath:   filepath.Join(s.opts.OutputsDir, newID+".jsonl"),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.JobsSubmitted.Inc()
	}
	s.logger.Info().Str("job_id", newID).Str("retry_of", id).Msg("Job retried")
	s.notify(job)
	s.dispatch(newID)
	return job, nil
}

// Events returns the filtered page of a job's events and the filtered total. Parsed
// events of terminal jobs are cached.
func (s *Service) Events(ctx context.Context, id string, f EventFilter) ([]models.Event, int, error) {
	if f.Limit == 0 {
		f.Limit = 100
	}
	if f.Limit < 1 || f.Limit > 1000 {
		return nil, 0, apperr.InvalidInput("jobs.Events", "limit must be in [1, 1000]")
	}
	if f.Offset < 0 {
		return nil, 0, apperr.InvalidInput("jobs.Events", "offset must be non-negative")
	}

	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	var all []models.Event
	if cached, ok := s.events.Get(id); ok && job.Status.IsTerminal() {
		all = cached.([]models.Event)
	} else {
		all, err = publisher.ReadEvents(job.AnalyticsPath)
		if err != nil {
			return nil, 0, err
		}
		if job.Status.IsTerminal() {
			s.events.SetDefault(id, all)
		}
	}

	matched := make([]models.Event, 0, len(all))
	for _, ev := range all {
		if f.Type != "" && !strings.EqualFold(string(ev.Type), f.Type) {
			continue
		}
		if f.Severity != "" && !strings.EqualFold(string(ev.Severity), f.Severity) {
			continue
		}
		matched = append(matched, ev)
	}

	total := len(matched)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	return matched[start:end], total, nil
}

// Artifact returns the path of an existing output file of a job.
func (s *Service) Artifact(ctx context.Context, id string, kind ArtifactKind) (string, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	var path string
	switch kind {
	case ArtifactVideo:
		path = job.OutputVideoPath
	case ArtifactAnalytics:
		path = job.AnalyticsPath
	default:
		return "", apperr.InvalidInput("jobs.Artifact", "unknown artifact %q", kind)
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", apperr.Unavailable("jobs.Artifact", "%s artifact of job %s not found", kind, id)
	}
	return path, nil
}

func (s *Service) saveUpload(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	var src io.Reader = r
	if s.opts.MaxUploadBytes > 0 {
		src = io.LimitReader(r, s.opts.MaxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if s.opts.MaxUploadBytes > 0 && n > s.opts.MaxUploadBytes {
		os.Remove(path)
		return fmt.Errorf("%w of %d MB", ErrUploadTooLarge, s.opts.MaxUploadBytes>>20)
	}
	return nil
}

func (s *Service) notify(job *models.Job) {
	if s.notifier == nil {
		return
	}
	subject := fmt.Sprintf("%s.jobs.%s", s.opts.NotifyPrefix, job.Status)
	msg := Notification{
		JobID:           job.ID,
		Status:          job.Status,
		RequestedBy:     job.RequestedBy,
		ProcessedFrames: job.ProcessedFrames,
		Summary:         job.Summary,
		ErrorMessage:    job.ErrorMessage,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.notifier.Publish(subject, msg); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Str("subject", subject).Msg("Failed to publish job notification")
	}
}

func (s *Service) finished(status models.JobStatus) {
	if s.metrics != nil {
		s.metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	}
}

func supported(ext string) bool {
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
