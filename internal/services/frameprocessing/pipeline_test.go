package frameprocessing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/helpers"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/detection"
	"kepler-vision-go/internal/services/tracking"
)

// stepClock advances by step on every reading, so one ProcessFrame call measures
// exactly one step.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

type scriptedDetector struct {
	byFrame map[int][]models.Detection
	err     error
	errAt   int
}

func (d *scriptedDetector) Detect(_ context.Context, _ models.Frame, frameIndex int) ([]models.Detection, error) {
	if d.err != nil && frameIndex == d.errAt {
		return nil, d.err
	}
	return d.byFrame[frameIndex], nil
}

type constReader struct{ text string }

func (r constReader) ReadText(context.Context, models.Frame, int) (string, error) {
	return r.text, nil
}

type captureRenderer struct{ overlays []Overlay }

func (r *captureRenderer) Render(f models.Frame, ov Overlay) (models.Frame, error) {
	r.overlays = append(r.overlays, ov)
	return f, nil
}

func mockDeps() Deps {
	return Deps{
		Detector:   detection.NewMockDetector(0.5),
		Embedder:   detection.MockEmbedder{},
		TextReader: detection.MockTextReader{},
	}
}

func newTestPipeline(t *testing.T, cfg Config, deps Deps, clock *stepClock) *Pipeline {
	t.Helper()
	if clock == nil {
		clock = &stepClock{t: time.Unix(0, 0), step: 10 * time.Millisecond}
	}
	p, err := New(cfg, deps, WithClock(clock.now))
	require.NoError(t, err)
	return p
}

func TestNewRequiresCapabilities(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Detector: detection.NewMockDetector(0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestProcessFrameRunsAllStages(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), mockDeps(), nil)
	frame := helpers.SyntheticFrame(0, 640, 360)

	res, err := p.ProcessFrame(context.Background(), frame, 0)
	require.NoError(t, err)

	require.Len(t, res.Tracks, 2)
	assert.Equal(t, 1, res.Tracks[0].ID)
	assert.Equal(t, "person", res.Tracks[0].Label)
	assert.Equal(t, 2, res.Tracks[1].ID)

	for _, tr := range res.Tracks {
		require.NotNil(t, tr.WorldPosition, "identity mapping still annotates")
		assert.Equal(t, tr.Center(), *tr.WorldPosition)
		require.NotNil(t, tr.ClusterID)
		assert.Len(t, tr.Text, 2)
	}
	assert.Equal(t, 0, *res.Tracks[0].ClusterID)
	assert.Equal(t, 1, *res.Tracks[1].ClusterID)

	assert.Equal(t, 0, res.Stats.FrameIdx)
	assert.Equal(t, 2, res.Stats.ActiveTracks)
	assert.Equal(t, 0, res.Stats.EventsInFrame)
	assert.InDelta(t, 100.0, res.Stats.ProcessingFPS, 1e-6)
}

func TestProcessFrameKeepsCachedAnnotationsBetweenRefreshes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCRInterval = 10
	cfg.ClusteringInterval = 10
	p := newTestPipeline(t, cfg, Deps{
		Detector:   detection.NewMockDetector(0.5),
		Embedder:   detection.MockEmbedder{},
		TextReader: constReader{text: "7"},
	}, nil)

	for i := 0; i < 3; i++ {
		res, err := p.ProcessFrame(context.Background(), helpers.SyntheticFrame(i, 320, 180), i)
		require.NoError(t, err)
		for _, tr := range res.Tracks {
			assert.Equal(t, "7", tr.Text)
		}
		assert.Equal(t, 1, *res.Tracks[1].ClusterID)
	}
}

func TestProcessFrameDefaultsForUnrefreshedTracks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCRInterval = 100
	cfg.ClusteringInterval = 100
	det := &scriptedDetector{byFrame: map[int][]models.Detection{
		1: {{BBox: []float32{10, 10, 40, 40}, Label: "person", Score: 0.9}},
	}}
	p := newTestPipeline(t, cfg, Deps{Detector: det, Embedder: detection.MockEmbedder{}, TextReader: constReader{"9"}}, nil)

	res, err := p.ProcessFrame(context.Background(), models.NewFrame(64, 64), 1)
	require.NoError(t, err)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, 0, *res.Tracks[0].ClusterID)
	assert.Equal(t, "", res.Tracks[0].Text)
}

func TestProcessFrameRejectsInvalidFrame(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), mockDeps(), nil)
	_, err := p.ProcessFrame(context.Background(), models.Frame{Width: 1, Height: 1, Data: make([]byte, 3)}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestProcessFrameWrapsStageErrors(t *testing.T) {
	boom := errors.New("model offline")
	p := newTestPipeline(t, DefaultConfig(), Deps{
		Detector:   &scriptedDetector{err: boom, errAt: 0},
		Embedder:   detection.MockEmbedder{},
		TextReader: detection.MockTextReader{},
	}, nil)

	_, err := p.ProcessFrame(context.Background(), models.NewFrame(8, 8), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "detect")
}

func TestProcessFrameTimeWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameTimeWindow = 3
	clock := &stepClock{t: time.Unix(0, 0), step: 10 * time.Millisecond}
	p := newTestPipeline(t, cfg, mockDeps(), clock)

	frame := models.NewFrame(64, 64)
	var last models.FrameStats
	for i := 0; i < 3; i++ {
		res, err := p.ProcessFrame(context.Background(), frame, i)
		require.NoError(t, err)
		last = res.Stats
	}
	assert.InDelta(t, 100.0, last.ProcessingFPS, 1e-6)

	clock.step = 20 * time.Millisecond
	res, err := p.ProcessFrame(context.Background(), frame, 3)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, res.Stats.ProcessingFPS, 1e-6)

	for i := 4; i < 6; i++ {
		res, err = p.ProcessFrame(context.Background(), frame, i)
		require.NoError(t, err)
	}
	assert.InDelta(t, 50.0, res.Stats.ProcessingFPS, 1e-6)
}

func TestProcessFramePrunesCachesOnEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracker = tracking.Config{IoUThreshold: 0.35, MaxMissing: 1}
	cfg.OCRInterval = 1
	cfg.ClusteringInterval = 1
	det := &scriptedDetector{byFrame: map[int][]models.Detection{
		0: {{BBox: []float32{4, 4, 30, 30}, Label: "person", Score: 0.9}},
	}}
	p := newTestPipeline(t, cfg, Deps{Detector: det, Embedder: detection.MockEmbedder{}, TextReader: constReader{"5"}}, nil)

	frame := models.NewFrame(64, 64)
	_, err := p.ProcessFrame(context.Background(), frame, 0)
	require.NoError(t, err)
	assert.Contains(t, p.texts, 1)
	assert.Contains(t, p.clusters, 1)

	for i := 1; i <= 2; i++ {
		_, err = p.ProcessFrame(context.Background(), frame, i)
		require.NoError(t, err)
	}
	assert.NotContains(t, p.texts, 1)
	assert.NotContains(t, p.clusters, 1)
	assert.Equal(t, 0, p.analyzer.Tracked())
}

func TestRecentEventFeedKeepsNewest(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), mockDeps(), nil)
	for i := 0; i < 5; i++ {
		p.pushRecent([]models.Event{{Frame: i}})
	}
	require.Len(t, p.recent, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{p.recent[0].Frame, p.recent[1].Frame, p.recent[2].Frame})
}

func TestRendererReceivesOverlay(t *testing.T) {
	renderer := &captureRenderer{}
	cfg := DefaultConfig()
	cfg.Analyzer.Zones = []models.Zone{{Name: "gate", X1: 50, Y1: 50, X2: 0, Y2: 0}}
	deps := mockDeps()
	deps.Renderer = renderer
	p := newTestPipeline(t, cfg, deps, nil)

	_, err := p.ProcessFrame(context.Background(), models.NewFrame(64, 64), 0)
	require.NoError(t, err)
	require.Len(t, renderer.overlays, 1)
	ov := renderer.overlays[0]
	assert.Len(t, ov.Tracks, 2)
	assert.Equal(t, []models.Zone{{Name: "gate", X1: 0, Y1: 0, X2: 50, Y2: 50}}, ov.Zones)
	assert.Equal(t, 0, ov.Stats.FrameIdx)
}

// Two independent pipelines fed the same frames must export byte-identical telemetry.
func TestDeterministicTelemetry(t *testing.T) {
	run := func() []byte {
		cfg := DefaultConfig()
		cfg.SyntheticWidth, cfg.SyntheticHeight = 160, 90
		cfg.ClusteringInterval = 3
		cfg.OCRInterval = 4
		cfg.Analyzer.DwellSeconds = 0.2
		cfg.Analyzer.CooldownFrames = 10
		cfg.Analyzer.Zones = []models.Zone{{Name: "left", X1: 0, Y1: 0, X2: 60, Y2: 90}}
		p := newTestPipeline(t, cfg, mockDeps(), nil)

		sink := &memorySink{}
		_, err := p.RunVideo(context.Background(), RunOptions{MaxFrames: 40, Sink: sink})
		require.NoError(t, err)
		require.NotEmpty(t, sink.events, "zone and dwell events expected")

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, rec := range sink.frames {
			require.NoError(t, enc.Encode(rec))
		}
		for _, ev := range sink.events {
			require.NoError(t, enc.Encode(ev))
		}
		return buf.Bytes()
	}

	assert.Equal(t, run(), run())
}

func TestTrackRecordShape(t *testing.T) {
	cid := 2
	rec := models.NewTrackRecord(models.Track{
		ID:            4,
		BBox:          image.Rect(1, 2, 3, 4),
		ClusterID:     &cid,
		Text:          "10",
		WorldPosition: &models.Point2D{X: 1.5, Y: 2},
	})
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":4,"label":"object","bbox":[1,2,3,4],"cluster_id":2,"ocr_text":"10","world_position":[1.5,2]}`, string(data))
}
