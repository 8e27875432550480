package frameprocessing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/helpers"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/detection"
)

type memorySink struct {
	frames   []models.FrameRecord
	events   []models.Event
	closed   bool
	closeErr error
}

func (s *memorySink) WriteFrame(rec models.FrameRecord) error {
	s.frames = append(s.frames, rec)
	return nil
}

func (s *memorySink) WriteEvent(ev models.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return s.closeErr
}

type sliceSource struct {
	frames []models.Frame
	pos    int
	closed bool
}

func (s *sliceSource) Read() (models.Frame, bool, error) {
	if s.pos >= len(s.frames) {
		return models.Frame{}, false, nil
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type countingWriter struct {
	width, height int
	fps           float64
	written       int
	closed        bool
}

func (w *countingWriter) Write(models.Frame) error {
	w.written++
	return nil
}

func (w *countingWriter) Close() error {
	w.closed = true
	return nil
}

func (w *countingWriter) factory() WriterFactory {
	return func(width, height int, fps float64) (FrameWriter, error) {
		w.width, w.height, w.fps = width, height, fps
		return w, nil
	}
}

func syntheticSource(n, width, height int) *sliceSource {
	src := &sliceSource{}
	for i := 0; i < n; i++ {
		src.frames = append(src.frames, helpers.SyntheticFrame(i, width, height))
	}
	return src
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.SyntheticWidth, cfg.SyntheticHeight = 160, 90
	return cfg
}

func TestRunVideoSyntheticFrames(t *testing.T) {
	p := newTestPipeline(t, smallConfig(), mockDeps(), nil)
	sink := &memorySink{}
	writer := &countingWriter{}
	var progress []int

	summary, err := p.RunVideo(context.Background(), RunOptions{
		MaxFrames: 20,
		Writer:    writer.factory(),
		Sink:      sink,
		Progress: func(done, total int, stats models.FrameStats) {
			assert.Equal(t, 20, total)
			assert.Equal(t, done-1, stats.FrameIdx)
			progress = append(progress, done)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 20, summary.FramesProcessed)
	assert.False(t, summary.StoppedEarly)
	assert.InDelta(t, 100.0, summary.AverageProcessingFPS, 1e-6)
	assert.Equal(t, len(sink.events), summary.EventsDetected)

	assert.Equal(t, 160, writer.width)
	assert.Equal(t, 90, writer.height)
	assert.Equal(t, 30.0, writer.fps)
	assert.Equal(t, 20, writer.written)
	assert.True(t, writer.closed)
	assert.True(t, sink.closed)

	require.Len(t, sink.frames, 20)
	for i, rec := range sink.frames {
		assert.Equal(t, i, rec.Frame)
		assert.Len(t, rec.Tracks, 2)
	}
	assert.Len(t, progress, 20)
	assert.Equal(t, 20, progress[19])
}

func TestRunVideoStopsAtEndOfSource(t *testing.T) {
	p := newTestPipeline(t, smallConfig(), mockDeps(), nil)
	src := syntheticSource(3, 120, 80)

	summary, err := p.RunVideo(context.Background(), RunOptions{Source: src, MaxFrames: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.FramesProcessed)
	assert.False(t, summary.StoppedEarly)
	assert.True(t, src.closed)
}

func TestRunVideoCancellationToken(t *testing.T) {
	p := newTestPipeline(t, smallConfig(), mockDeps(), nil)
	sink := &memorySink{}
	polls := 0

	summary, err := p.RunVideo(context.Background(), RunOptions{
		MaxFrames: 50,
		Sink:      sink,
		Cancelled: func() bool {
			polls++
			return polls > 3
		},
	})
	require.NoError(t, err)
	assert.True(t, summary.StoppedEarly)
	assert.Equal(t, 3, summary.FramesProcessed)
	assert.Len(t, sink.frames, 3)
	assert.True(t, sink.closed)
}

func TestRunVideoContextCancelled(t *testing.T) {
	p := newTestPipeline(t, smallConfig(), mockDeps(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	sink := &memorySink{}

	summary, err := p.RunVideo(ctx, RunOptions{
		MaxFrames: 50,
		Sink:      sink,
		Progress: func(done, _ int, _ models.FrameStats) {
			if done == 2 {
				cancel()
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.FramesProcessed)
	assert.True(t, sink.closed)
}

func TestRunVideoStageFailureClosesOutputs(t *testing.T) {
	boom := errors.New("detector crashed")
	deps := mockDeps()
	deps.Detector = &scriptedDetector{err: boom, errAt: 2}
	p := newTestPipeline(t, smallConfig(), deps, nil)

	src := syntheticSource(5, 64, 48)
	writer := &countingWriter{}
	sink := &memorySink{}

	summary, err := p.RunVideo(context.Background(), RunOptions{
		Source:    src,
		MaxFrames: 5,
		Writer:    writer.factory(),
		Sink:      sink,
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, summary.FramesProcessed)
	assert.Equal(t, 2, writer.written, "frames before the failure stay written")
	assert.True(t, writer.closed)
	assert.True(t, sink.closed)
	assert.True(t, src.closed)
}

func TestRunVideoRejectsNonPositiveFrames(t *testing.T) {
	p := newTestPipeline(t, smallConfig(), mockDeps(), nil)
	sink := &memorySink{}
	_, err := p.RunVideo(context.Background(), RunOptions{MaxFrames: 0, Sink: sink})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	assert.True(t, sink.closed)
}

func TestRunVideoRejectsNonPositiveFramesReportsCloseErrors(t *testing.T) {
	p := newTestPipeline(t, smallConfig(), mockDeps(), nil)
	flush := errors.New("flush failed")
	sink := &memorySink{closeErr: flush}
	src := &sliceSource{}
	_, err := p.RunVideo(context.Background(), RunOptions{MaxFrames: -1, Source: src, Sink: sink})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	assert.ErrorIs(t, err, flush)
	assert.True(t, src.closed)
	assert.True(t, sink.closed)
}

func TestRunVideoEventRecordsFollowTheirFrame(t *testing.T) {
	cfg := smallConfig()
	cfg.Analyzer.Zones = []models.Zone{{Name: "left", X1: 0, Y1: 0, X2: 60, Y2: 90}}
	p, err := New(cfg, Deps{
		Detector:   detection.NewMockDetector(0.5),
		Embedder:   detection.MockEmbedder{},
		TextReader: detection.MockTextReader{},
	})
	require.NoError(t, err)

	sink := &memorySink{}
	summary, err := p.RunVideo(context.Background(), RunOptions{MaxFrames: 10, Sink: sink})
	require.NoError(t, err)
	require.NotEmpty(t, sink.events)

	entry := sink.events[0]
	assert.Equal(t, models.EventZoneEntry, entry.Type)
	assert.Equal(t, 4, entry.Frame)
	assert.Equal(t, 1, entry.ObjectID)
	assert.Equal(t, summary.EventsDetected, len(sink.events))
}
