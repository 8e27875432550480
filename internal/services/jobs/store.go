package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/models"
)

// Store persists jobs in SQLite. Every status change is a conditional update on the
// current status, so a writer that lost a race sees zero affected rows instead of
// overwriting the winner.
type Store struct {
	db *gorm.DB
}

// ListFilter selects a page of jobs, newest first.
type ListFilter struct {
	Status      models.JobStatus
	RequestedBy string
	Limit       int
	Offset      int
}

// OpenStore opens or creates the database at path and migrates the schema.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access job store connection: %w", err)
	}
	// One connection serializes writers; WAL keeps readers from blocking on it.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Job{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate job store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts job. A duplicate (requested_by, idempotency_key) returns a Conflict.
func (s *Store) Create(ctx context.Context, job *models.Job) error {
	err := s.db.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("jobs.Create", "job with idempotency key %q already exists", deref(job.IdempotencyKey))
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("jobs.Get", "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &job, nil
}

// FindByIdempotencyKey returns the job a requester created with key, or NotFound.
func (s *Store) FindByIdempotencyKey(ctx context.Context, requestedBy, key string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).
		Where("requested_by = ? AND idempotency_key = ?", requestedBy, key).
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("jobs.FindByIdempotencyKey", "no job for key %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &job, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Job, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("status = ?", string(f.Status))
		}
		if f.RequestedBy != "" {
			db = db.Where("requested_by = ?", f.RequestedBy)
		}
		return db
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Job{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	jobs := []models.Job{}
	err := s.db.WithContext(ctx).Scopes(scope).
		Order("created_at DESC").Order("id DESC").
		Limit(f.Limit).Offset(f.Offset).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// IDsWithStatus returns the ids of all jobs in status, oldest first.
func (s *Store) IDsWithStatus(ctx context.Context, status models.JobStatus) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	return ids, nil
}

// transition applies updates when the job is currently in one of from. It reports
// whether the row changed.
func (s *Store) transition(ctx context.Context, id string, from []models.JobStatus, updates map[string]any) (bool, error) {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, statuses).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkRunning claims a queued job.
func (s *Store) MarkRunning(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, []models.JobStatus{models.JobStatusQueued}, map[string]any{
		"status": string(models.JobStatusRunning),
	})
}

// CancelQueued moves a queued job straight to cancelled.
func (s *Store) CancelQueued(ctx context.Context, id string) (bool, error) {
	raw, err := json.Marshal(models.RunSummary{StoppedEarly: true})
	if err != nil {
		return false, fmt.Errorf("failed to encode summary: %w", err)
	}
	return s.transition(ctx, id, []models.JobStatus{models.JobStatusQueued}, map[string]any{
		"status":           string(models.JobStatusCancelled),
		"cancel_requested": true,
		"summary_json":     string(raw),
	})
}

// RequestCancel sets the persisted flag on a running job.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, []models.JobStatus{models.JobStatusRunning}, map[string]any{
		"cancel_requested": true,
	})
}

func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Select("cancel_requested").
		Scan(&flag).Error
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag of job %s: %w", id, err)
	}
	return flag, nil
}

// UpdateProgress records frames done. Counts never move backwards.
func (s *Store) UpdateProgress(ctx context.Context, id string, processed, maxFrames int) error {
	pct := percent(processed, maxFrames)
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, string(models.JobStatusRunning)).
		Updates(map[string]any{
			"processed_frames": gorm.Expr("MAX(processed_frames, ?)", processed),
			"progress":         gorm.Expr("MAX(progress, ?)", pct),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update progress of job %s: %w", id, res.Error)
	}
	return nil
}

// Complete stores the summary of a successful run.
func (s *Store) Complete(ctx context.Context, id string, summary models.RunSummary) (bool, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("failed to encode summary: %w", err)
	}
	return s.transition(ctx, id, []models.JobStatus{models.JobStatusRunning}, map[string]any{
		"status":           string(models.JobStatusCompleted),
		"summary_json":     string(raw),
		"processed_frames": gorm.Expr("MAX(processed_frames, ?)", summary.FramesProcessed),
		"progress":         100.0,
		"average_fps":      summary.AverageProcessingFPS,
	})
}

// MarkCancelled finalizes a run that observed its cancel flag.
func (s *Store) MarkCancelled(ctx context.Context, id string, summary models.RunSummary) (bool, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("failed to encode summary: %w", err)
	}
	return s.transition(ctx, id, []models.JobStatus{models.JobStatusRunning}, map[string]any{
		"status":           string(models.JobStatusCancelled),
		"summary_json":     string(raw),
		"processed_frames": gorm.Expr("MAX(processed_frames, ?)", summary.FramesProcessed),
		"average_fps":      summary.AverageProcessingFPS,
	})
}

// Fail records message on a queued or running job.
func (s *Store) Fail(ctx context.Context, id, message string) (bool, error) {
	return s.transition(ctx, id, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}, map[string]any{
		"status":        string(models.JobStatusFailed),
		"error_message": message,
	})
}

// Metrics aggregates counts per status and the mean fps of completed jobs.
func (s *Store) Metrics(ctx context.Context) (models.JobMetrics, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.JobMetrics{}, fmt.Errorf("failed to aggregate jobs: %w", err)
	}

	var m models.JobMetrics
	for _, r := range rows {
		m.TotalJobs += r.Count
		switch models.JobStatus(r.Status) {
		case models.JobStatusQueued:
			m.Queued = r.Count
		case models.JobStatusRunning:
			m.Running = r.Count
		case models.JobStatusCompleted:
			m.Completed = r.Count
		case models.JobStatusFailed:
			m.Failed = r.Count
		case models.JobStatusCancelled:
			m.Cancelled = r.Count
		}
	}

	err = s.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", string(models.JobStatusCompleted)).
		Select("COALESCE(AVG(average_fps), 0)").
		Scan(&m.AvgProcessingFPS).Error
	if err != nil {
		return models.JobMetrics{}, fmt.Errorf("failed to average fps: %w", err)
	}
	return m, nil
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(100, max(0, float64(done)*100/float64(total)))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
