package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-vision-go/internal/api/handlers"
	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/metrics"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/detection"
	"kepler-vision-go/internal/services/frameprocessing"
	"kepler-vision-go/internal/services/jobs"
)

// syntheticFactory builds mock pipelines over small frames. Uploaded files are never
// decoded, so every run falls back to synthetic frames.
type syntheticFactory struct{}

func (syntheticFactory) NewPipeline(job models.Job) (jobs.Runner, error) {
	cfg := frameprocessing.DefaultConfig()
	cfg.FPS = job.Config.FPS
	cfg.OCRInterval = job.Config.OCRInterval
	cfg.ClusteringInterval = job.Config.ClusteringInterval
	cfg.SyntheticWidth, cfg.SyntheticHeight = 160, 90
	cfg.Analyzer.Zones = job.Zones
	p, err := frameprocessing.New(cfg, frameprocessing.Deps{
		Detector:   detection.NewMockDetector(detection.DefaultMinScore),
		Embedder:   detection.MockEmbedder{},
		TextReader: detection.MockTextReader{},
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (syntheticFactory) OpenSource(string) (frameprocessing.FrameSource, error) {
	return nil, errors.New("no decoder in tests")
}

func (syntheticFactory) NewWriter(string) frameprocessing.WriterFactory { return nil }

type testServer struct {
	handler http.Handler
	jobs    *jobs.Service
}

func newTestServer(t *testing.T, apiKeys map[string]string) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := jobs.OpenStore(filepath.Join(dir, "api_jobs.sqlite3"))
	require.NoError(t, err)

	m := metrics.New()
	svc, err := jobs.New(store, syntheticFactory{}, jobs.Options{
		UploadsDir:     filepath.Join(dir, "uploads"),
		OutputsDir:     filepath.Join(dir, "outputs"),
		Workers:        1,
		MaxUploadBytes: 1 << 20,
	}, jobs.WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, svc.Shutdown(ctx))
		require.NoError(t, store.Close())
	})

	cfg := &config.Config{
		Version:     "test",
		WorkerID:    "worker-test",
		Port:        0,
		RuntimeDir:  dir,
		MaxUploadMB: 1,
		Workers:     1,
		APIKeys:     apiKeys,
	}
	srv := NewServer(cfg, svc, m)
	require.NoError(t, srv.Setup())
	return &testServer{handler: srv.Handler(), jobs: svc}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func syncJobFields() map[string]string {
	return map[string]string{
		"max_frames": "10",
		"async_mode": "false",
		"zones_json": `[{"name":"left","x1":60,"y1":90,"x2":0,"y2":0}]`,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "worker-test", body.WorkerID)
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := ts.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	body := decode[handlers.ErrorResponse](t, rec)
	assert.Equal(t, "req-123", body.RequestID)
	assert.Contains(t, body.Detail, "not found")
}

func TestCreateSyncJobAndReadBack(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(multipartRequest(t, "clip.mp4", []byte("not really a video"), syncJobFields()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[models.Job](t, rec)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 10, job.ProcessedFrames)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, "anonymous", job.RequestedBy)
	require.Len(t, job.Zones, 1)
	assert.Equal(t, 0, job.Zones[0].X1, "zone corners are normalized")
	assert.NotEmpty(t, job.Config.RequestID)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, job.ID, decode[models.Job](t, rec).ID)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=completed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[handlers.JobListResponse](t, rec)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Items, 1)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/events?event_type=zone_entry", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[handlers.JobEventsResponse](t, rec)
	assert.Equal(t, job.ID, events.JobID)
	assert.Equal(t, events.Count, len(events.Items))
	for _, ev := range events.Items {
		assert.Equal(t, models.EventZoneEntry, ev.Type)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/artifacts/analytics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), job.ID+".jsonl")
	assert.Equal(t, 10, strings.Count(rec.Body.String(), `"record_type":"frame"`))

	// No writer in tests, so there is no video.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/artifacts/video", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/metrics/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	jm := decode[models.JobMetrics](t, rec)
	assert.EqualValues(t, 1, jm.TotalJobs)
	assert.EqualValues(t, 1, jm.Completed)
}

func TestCreateJobIdempotencyKey(t *testing.T) {
	ts := newTestServer(t, nil)

	first := multipartRequest(t, "clip.mov", []byte("a"), syncJobFields())
	first.Header.Set("Idempotency-Key", "upload-1")
	rec := ts.do(first)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Job](t, rec)

	second := multipartRequest(t, "clip.mov", []byte("a"), syncJobFields())
	second.Header.Set("Idempotency-Key", "upload-1")
	rec = ts.do(second)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, created.ID, decode[models.Job](t, rec).ID)
}

func TestCreateJobValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name     string
		filename string
		fields   map[string]string
		detail   string
	}{
		{"missing file", "", map[string]string{"max_frames": "20"}, "file is required"},
		{"unsupported extension", "notes.txt", nil, "unsupported video format"},
		{"max frames below range", "clip.mp4", map[string]string{"max_frames": "5"}, "max_frames"},
		{"non numeric fps", "clip.mp4", map[string]string{"fps": "fast"}, "fps must be an integer"},
		{"fps above range", "clip.mp4", map[string]string{"fps": "121"}, "fps must be at most 120"},
		{"ocr interval below range", "clip.mp4", map[string]string{"ocr_interval": "0"}, "ocr_interval must be at least 1"},
		{"bad zones json", "clip.mp4", map[string]string{"zones_json": "{"}, "zones"},
		{"degenerate zone", "clip.mp4", map[string]string{"zones_json": `[{"name":"z","x1":5,"y1":5,"x2":5,"y2":9}]`}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(multipartRequest(t, tc.filename, []byte("x"), tc.fields))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			body := decode[handlers.ErrorResponse](t, rec)
			assert.NotEmpty(t, body.RequestID)
			assert.Contains(t, body.Detail, tc.detail)
		})
	}
}

func TestCreateJobUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(multipartRequest(t, "big.mp4", bytes.Repeat([]byte{1}, 3<<20), nil))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Upload exceeds size limit", decode[handlers.ErrorResponse](t, rec).Detail)
}

func TestCancelFinishedJob(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(multipartRequest(t, "clip.mp4", []byte("a"), syncJobFields()))
	require.Equal(t, http.StatusCreated, rec.Code)
	job := decode[models.Job](t, rec)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[handlers.CancelResponse](t, rec)
	assert.False(t, body.CancelRequested)
	assert.Equal(t, models.JobStatusCompleted, body.Status)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryJob(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(multipartRequest(t, "clip.mkv", []byte("a"), syncJobFields()))
	require.Equal(t, http.StatusCreated, rec.Code)
	orig := decode[models.Job](t, rec)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+orig.ID+"/retry", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	retried := decode[models.Job](t, rec)
	assert.NotEqual(t, orig.ID, retried.ID)
	require.NotNil(t, retried.RetryOf)
	assert.Equal(t, orig.ID, *retried.RetryOf)

	require.Eventually(t, func() bool {
		j, err := ts.jobs.Get(context.Background(), retried.ID)
		return err == nil && j.Status == models.JobStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)
}

func TestListJobsRejectsBadPaging(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, query := range []string{"limit=0x", "limit=101", "offset=-1", "status=done"} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?"+query, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, query)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=abc", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "limit must be an integer", decode[handlers.ErrorResponse](t, rec).Detail)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=101", nil))
	assert.Equal(t, "limit must be at most 100", decode[handlers.ErrorResponse](t, rec).Detail)
}

func TestJobEventsRejectsBadPaging(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(multipartRequest(t, "clip.mp4", []byte("a"), syncJobFields()))
	require.Equal(t, http.StatusCreated, rec.Code)
	job := decode[models.Job](t, rec)

	for query, detail := range map[string]string{
		"limit=0":    "limit must be at least 1",
		"limit=1001": "limit must be at most 1000",
		"offset=-3":  "offset must be at least 0",
		"offset=x":   "offset must be an integer",
	} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/events?"+query, nil))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, query)
		assert.Equal(t, detail, decode[handlers.ErrorResponse](t, rec).Detail, query)
	}
}

func TestAPIKeyGate(t *testing.T) {
	ts := newTestServer(t, map[string]string{"admin-key": "admin", "view-key": "viewer"})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing X-API-Key header", decode[handlers.ErrorResponse](t, rec).Detail)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-API-Key", "view-key")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)

	req = multipartRequest(t, "clip.mp4", []byte("a"), syncJobFields())
	req.Header.Set("X-API-Key", "view-key")
	rec = ts.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, decode[handlers.ErrorResponse](t, rec).Detail, "jobs:write")

	req = multipartRequest(t, "clip.mp4", []byte("a"), syncJobFields())
	req.Header.Set("X-API-Key", "admin-key")
	rec = ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "admin", decode[models.Job](t, rec).RequestedBy)

	// Health stays open.
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)).Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pipeline_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
