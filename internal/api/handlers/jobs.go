package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/logging"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/jobs"
)

// JobService is the part of the job control plane the HTTP layer drives.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.Job, bool, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, f jobs.ListFilter) ([]models.Job, int64, error)
	Metrics(ctx context.Context) (models.JobMetrics, error)
	Cancel(ctx context.Context, id string) (*models.Job, bool, error)
	Retry(ctx context.Context, id, requestedBy string) (*models.Job, error)
	Events(ctx context.Context, id string, f jobs.EventFilter) ([]models.Event, int, error)
	Artifact(ctx context.Context, id string, kind jobs.ArtifactKind) (string, error)
}

// multipartOverhead is allowed on top of the upload cap for the form fields.
const multipartOverhead = 1 << 20

type JobsHandler struct {
	jobs           JobService
	maxUploadBytes int64
}

func NewJobsHandler(svc JobService, maxUploadBytes int64) *JobsHandler {
	return &JobsHandler{jobs: svc, maxUploadBytes: maxUploadBytes}
}

type JobListResponse struct {
	Items []models.Job `json:"items"`
	Total int64        `json:"total" example:"42"`
}

type JobEventsResponse struct {
	JobID string         `json:"job_id"`
	Count int            `json:"count" example:"3"`
	Items []models.Event `json:"items"`
}

type CancelResponse struct {
	JobID           string           `json:"job_id"`
	Status          models.JobStatus `json:"status" example:"cancelled"`
	CancelRequested bool             `json:"cancel_requested"`
}

// @Summary Create a job
// @Description Upload a video and queue a pipeline run. A repeated Idempotency-Key returns the existing job.
// @Tags jobs
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Video file (.mp4, .avi, .mov, .mkv)"
// @Param max_frames formData int false "Frames to process [10, 4000]" default(240)
// @Param fps formData int false "Nominal frame rate [1, 120]" default(30)
// @Param ocr_interval formData int false "Frames between text reads [1, 300]" default(30)
// @Param clustering_interval formData int false "Frames between clustering passes [1, 120]" default(5)
// @Param mock_mode formData bool false "Use the built-in mock models" default(true)
// @Param async_mode formData bool false "Return immediately instead of waiting for the run" default(true)
// @Param zones_json formData string false "JSON list of zones" default([])
// @Param Idempotency-Key header string false "Deduplicates retried submissions per requester"
// @Success 201 {object} models.Job
// @Success 200 {object} models.Job "Existing job for the idempotency key"
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs [post]
func (h *JobsHandler) CreateJob(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		limit := h.maxUploadBytes + multipartOverhead
		if c.Request.ContentLength > limit {
			respondError(c, jobs.ErrUploadTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	var form CreateJobForm
	if err := c.ShouldBind(&form); err != nil {
		var raw map[string][]string
		if c.Request.MultipartForm != nil {
			raw = c.Request.MultipartForm.Value
		}
		respondError(c, bindError(&form, raw, err))
		return
	}
	fileHeader := form.File
	if strings.TrimSpace(fileHeader.Filename) == "" {
		abort(c, http.StatusUnprocessableEntity, "Uploaded file must have a filename")
		return
	}

	cfg := models.DefaultJobConfig()
	for _, field := range []struct {
		src *int
		dst *int
	}{
		{form.MaxFrames, &cfg.MaxFrames},
		{form.FPS, &cfg.FPS},
		{form.OCRInterval, &cfg.OCRInterval},
		{form.ClusteringInterval, &cfg.ClusteringInterval},
	} {
		if field.src != nil {
			*field.dst = *field.src
		}
	}
	cfg.MockMode = jobs.ParseBool(form.MockMode)
	cfg.RequestID = c.GetString(logging.RequestIDKey)

	zones, err := jobs.ParseZones(form.ZonesJSON)
	if err != nil {
		respondError(c, err)
		return
	}

	upload, err := fileHeader.Open()
	if err != nil {
		respondError(c, apperr.Internal("handlers.CreateJob", err))
		return
	}
	defer upload.Close()

	job, created, err := h.jobs.Submit(c.Request.Context(), jobs.SubmitRequest{
		RequestedBy:    c.GetString(logging.RequesterKey),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		Config:         cfg,
		Zones:          zones,
		Async:          jobs.ParseBool(form.AsyncMode),
		Filename:       fileHeader.Filename,
		Upload:         upload,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		logging.Info(c).Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Job created")
	}
	c.JSON(status, job)
}

// @Summary List jobs
// @Description Newest first
// @Tags jobs
// @Produce json
// @Param status query string false "queued, running, completed, failed or cancelled"
// @Param requested_by query string false "Requester (role)"
// @Param limit query int false "Page size [1, 100]" default(20)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} JobListResponse
// @Failure 422 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs [get]
func (h *JobsHandler) ListJobs(c *gin.Context) {
	var q ListJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, bindError(&q, c.Request.URL.Query(), err))
		return
	}

	items, total, err := h.jobs.List(c.Request.Context(), jobs.ListFilter{
		Status:      models.JobStatus(strings.ToLower(q.Status)),
		RequestedBy: q.RequestedBy,
		Limit:       q.Limit,
		Offset:      q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobListResponse{Items: items, Total: total})
}

// @Summary Get a job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.Job
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs/{id} [get]
func (h *JobsHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// @Summary Cancel a job
// @Description Queued jobs are cancelled at once, running jobs at the next frame. cancel_requested is false for finished jobs.
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} CancelResponse
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs/{id}/cancel [post]
func (h *JobsHandler) CancelJob(c *gin.Context) {
	job, requested, err := h.jobs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{JobID: job.ID, Status: job.Status, CancelRequested: requested})
}

// @Summary Retry a job
// @Description Queue a new job with the input, config and zones of an existing one
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 201 {object} models.Job
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs/{id}/retry [post]
func (h *JobsHandler) RetryJob(c *gin.Context) {
	job, err := h.jobs.Retry(c.Request.Context(), c.Param("id"), c.GetString(logging.RequesterKey))
	if err != nil {
		respondError(c, err)
		return
	}
	logging.Info(c).Str("job_id", job.ID).Str("retry_of", c.Param("id")).Msg("Job retried")
	c.JSON(http.StatusCreated, job)
}

// @Summary List job events
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Param event_type query string false "ZONE_ENTRY, ZONE_EXIT or STATIONARY_WARNING (case-insensitive)"
// @Param severity query string false "info or warning (case-insensitive)"
// @Param limit query int false "Page size [1, 1000]" default(100)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} JobEventsResponse
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs/{id}/events [get]
func (h *JobsHandler) GetJobEvents(c *gin.Context) {
	var q JobEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, bindError(&q, c.Request.URL.Query(), err))
		return
	}

	id := c.Param("id")
	events, total, err := h.jobs.Events(c.Request.Context(), id, jobs.EventFilter{
		Type:     q.EventType,
		Severity: q.Severity,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobEventsResponse{JobID: id, Count: total, Items: events})
}

// @Summary Download the annotated video
// @Tags artifacts
// @Produce video/mp4
// @Param id path string true "Job ID"
// @Success 200 {file} file
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs/{id}/artifacts/video [get]
func (h *JobsHandler) DownloadVideo(c *gin.Context) {
	h.serveArtifact(c, jobs.ArtifactVideo, ".mp4", "video/mp4")
}

// @Summary Download the analytics JSONL
// @Tags artifacts
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {file} file
// @Failure 404 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /jobs/{id}/artifacts/analytics [get]
func (h *JobsHandler) DownloadAnalytics(c *gin.Context) {
	h.serveArtifact(c, jobs.ArtifactAnalytics, ".jsonl", "application/json")
}

func (h *JobsHandler) serveArtifact(c *gin.Context, kind jobs.ArtifactKind, ext, contentType string) {
	id := c.Param("id")
	path, err := h.jobs.Artifact(c.Request.Context(), id, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", contentType)
	c.FileAttachment(path, id+ext)
}

// @Summary Job metrics
// @Description Per-status counts and the average processing fps of completed jobs
// @Tags metrics
// @Produce json
// @Success 200 {object} models.JobMetrics
// @Security ApiKeyAuth
// @Router /metrics/jobs [get]
func (h *JobsHandler) GetMetrics(c *gin.Context) {
	m, err := h.jobs.Metrics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
