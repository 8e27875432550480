// Package frameprocessing runs the per-frame analysis chain: detection, tracking, planar
// mapping, appearance clustering, text reading, event analysis and rendering.
package frameprocessing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/helpers"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/clustering"
	"kepler-vision-go/internal/services/geometry"
	"kepler-vision-go/internal/services/postprocessing"
	"kepler-vision-go/internal/services/tracking"
)

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame models.Frame, frameIndex int) ([]models.Detection, error)
}

// Embedder maps crops to fixed-length appearance vectors, one per crop.
type Embedder interface {
	Embed(ctx context.Context, crops []models.Frame) ([][]float32, error)
}

// TextReader reads scene text (for example a jersey number) from a crop.
type TextReader interface {
	ReadText(ctx context.Context, crop models.Frame, trackID int) (string, error)
}

// PointMapper projects pixel coordinates onto the ground plane.
type PointMapper interface {
	TransformPoint(p models.Point2D) models.Point2D
}

// Overlay is what the renderer draws on top of a frame.
type Overlay struct {
	Tracks []models.Track
	Recent []models.Event // newest last
	Zones  []models.Zone
	Stats  models.FrameStats
}

// Renderer produces the annotated output frame. It must not modify the input.
type Renderer interface {
	Render(frame models.Frame, overlay Overlay) (models.Frame, error)
}

// Config controls one pipeline instance.
type Config struct {
	FPS                int
	OCRInterval        int
	ClusteringInterval int
	MaxClusters        int
	FrameTimeWindow    int
	RecentEvents       int
	SyntheticWidth     int
	SyntheticHeight    int

	Tracker  tracking.Config
	Analyzer postprocessing.Config
}

func DefaultConfig() Config {
	return Config{
		FPS:                30,
		OCRInterval:        30,
		ClusteringInterval: 5,
		MaxClusters:        3,
		FrameTimeWindow:    120,
		RecentEvents:       3,
		SyntheticWidth:     1280,
		SyntheticHeight:    720,
		Tracker:            tracking.DefaultConfig(),
		Analyzer:           postprocessing.DefaultConfig(),
	}
}

// ConfigFrom derives the pipeline defaults from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.MaxClusters = cfg.MaxClusters
	c.FrameTimeWindow = cfg.FrameTimeWindow
	c.SyntheticWidth = cfg.SyntheticFrameWidth
	c.SyntheticHeight = cfg.SyntheticFrameHeight
	c.Tracker = tracking.Config{
		IoUThreshold: cfg.TrackerIoUThreshold,
		MaxMissing:   cfg.TrackerMaxMissing,
	}
	c.Analyzer = postprocessing.Config{
		FPS:                  float64(c.FPS),
		DwellSeconds:         cfg.DwellSeconds,
		StationaryDistancePx: cfg.StationaryDistancePx,
		CooldownFrames:       cfg.EventCooldownFrames,
		ZoneEntryThreshold:   cfg.ZoneEntryThreshold,
		HistoryLimit:         cfg.HistoryLimit,
	}
	return c
}

// Deps are the external capabilities. Mapper and Renderer are optional.
type Deps struct {
	Detector   Detector
	Embedder   Embedder
	TextReader TextReader
	Mapper     PointMapper
	Renderer   Renderer
}

// FrameResult is the outcome of ProcessFrame.
type FrameResult struct {
	Frame  models.Frame
	Tracks []models.Track
	Events []models.Event
	Stats  models.FrameStats
}

type Option func(*Pipeline)

// WithClock replaces the wall clock used for frame timing.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger used for run-level messages.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline owns the state of one run. It is not safe for concurrent use.
type Pipeline struct {
	cfg  Config
	deps Deps

	tracker  *tracking.Tracker
	analyzer *postprocessing.Analyzer

	clusters   map[int]int
	texts      map[int]string
	frameTimes []float64
	recent     []models.Event

	now    func() time.Time
	logger zerolog.Logger
}

func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	if deps.Detector == nil || deps.Embedder == nil || deps.TextReader == nil {
		return nil, apperr.InvalidInput("frameprocessing.New", "detector, embedder and text reader are required")
	}
	def := DefaultConfig()
	if cfg.FPS < 1 {
		cfg.FPS = def.FPS
	}
	cfg.OCRInterval = max(1, cfg.OCRInterval)
	cfg.ClusteringInterval = max(1, cfg.ClusteringInterval)
	if cfg.MaxClusters < 1 {
		cfg.MaxClusters = def.MaxClusters
	}
	if cfg.FrameTimeWindow < 1 {
		cfg.FrameTimeWindow = def.FrameTimeWindow
	}
	if cfg.RecentEvents < 1 {
		cfg.RecentEvents = def.RecentEvents
	}
	if cfg.SyntheticWidth < 2 || cfg.SyntheticHeight < 2 {
		cfg.SyntheticWidth, cfg.SyntheticHeight = def.SyntheticWidth, def.SyntheticHeight
	}
	cfg.Analyzer.FPS = float64(cfg.FPS)

	if deps.Mapper == nil {
		deps.Mapper = geometry.Identity()
	}
	if deps.Renderer == nil {
		deps.Renderer = passthrough{}
	}

	p := &Pipeline{
		cfg:      cfg,
		deps:     deps,
		tracker:  tracking.New(cfg.Tracker),
		analyzer: postprocessing.NewAnalyzer(cfg.Analyzer),
		clusters: make(map[int]int),
		texts:    make(map[int]string),
		now:      time.Now,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Zones returns the normalized zones the analyzer checks.
func (p *Pipeline) Zones() []models.Zone {
	return p.analyzer.Zones()
}

// ProcessFrame runs every stage on one frame. Frame indices must increase across calls.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame models.Frame, frameIndex int) (FrameResult, error) {
	start := p.now()

	if !frame.Valid() {
		return FrameResult{}, apperr.InvalidInput("frameprocessing.ProcessFrame",
			"frame %d: need a BGR image of at least 2x2, got %dx%d with %d bytes",
			frameIndex, frame.Width, frame.Height, len(frame.Data))
	}

	detections, err := p.deps.Detector.Detect(ctx, frame, frameIndex)
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %d: detect: %w", frameIndex, err)
	}

	tracks, err := p.tracker.Update(frameIndex, frame.Width, frame.Height, detections)
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %d: track: %w", frameIndex, err)
	}
	if evicted := p.tracker.Evicted(); len(evicted) > 0 {
		for _, id := range evicted {
			delete(p.clusters, id)
			delete(p.texts, id)
		}
		p.analyzer.Forget(evicted)
	}

	for i := range tracks {
		wp := p.deps.Mapper.TransformPoint(tracks[i].Center())
		tracks[i].WorldPosition = &wp
	}

	if frameIndex%p.cfg.ClusteringInterval == 0 {
		if err := p.refreshClusters(ctx, frame, tracks); err != nil {
			return FrameResult{}, fmt.Errorf("frame %d: cluster: %w", frameIndex, err)
		}
	}
	for i := range tracks {
		cid := p.clusters[tracks[i].ID]
		tracks[i].ClusterID = &cid
	}

	if frameIndex%p.cfg.OCRInterval == 0 {
		if err := p.refreshText(ctx, frame, tracks); err != nil {
			return FrameResult{}, fmt.Errorf("frame %d: read text: %w", frameIndex, err)
		}
	}
	for i := range tracks {
		tracks[i].Text = p.texts[tracks[i].ID]
	}

	events := p.analyzer.Update(tracks, frameIndex)
	p.pushRecent(events)

	elapsed := max(p.now().Sub(start).Seconds(), 1e-6)
	p.pushFrameTime(elapsed)

	stats := models.FrameStats{
		ProcessingFPS: p.processingFPS(),
		ActiveTracks:  len(tracks),
		EventsInFrame: len(events),
		FrameIdx:      frameIndex,
	}

	rendered, err := p.deps.Renderer.Render(frame, Overlay{
		Tracks: tracks,
		Recent: append([]models.Event(nil), p.recent...),
		Zones:  p.analyzer.Zones(),
		Stats:  stats,
	})
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %d: render: %w", frameIndex, err)
	}

	return FrameResult{Frame: rendered, Tracks: tracks, Events: events, Stats: stats}, nil
}

func (p *Pipeline) refreshClusters(ctx context.Context, frame models.Frame, tracks []models.Track) error {
	crops, ids := p.crops(frame, tracks)
	if len(crops) == 0 {
		return nil
	}
	vectors, err := p.deps.Embedder.Embed(ctx, crops)
	if err != nil {
		return err
	}
	k := min(p.cfg.MaxClusters, max(1, len(crops)))
	labels := clustering.Assign(vectors, k)
	for i, id := range ids {
		if i < len(labels) {
			p.clusters[id] = labels[i]
		}
	}
	return nil
}

func (p *Pipeline) refreshText(ctx context.Context, frame models.Frame, tracks []models.Track) error {
	crops, ids := p.crops(frame, tracks)
	for i, crop := range crops {
		text, err := p.deps.TextReader.ReadText(ctx, crop, ids[i])
		if err != nil {
			return err
		}
		if text != "" {
			p.texts[ids[i]] = text
		}
	}
	return nil
}

func (p *Pipeline) crops(frame models.Frame, tracks []models.Track) ([]models.Frame, []int) {
	crops := make([]models.Frame, 0, len(tracks))
	ids := make([]int, 0, len(tracks))
	for _, tr := range tracks {
		crop, ok := helpers.Crop(frame, tr.BBox)
		if !ok {
			continue
		}
		crops = append(crops, crop)
		ids = append(ids, tr.ID)
	}
	return crops, ids
}

func (p *Pipeline) pushRecent(events []models.Event) {
	p.recent = append(p.recent, events...)
	if over := len(p.recent) - p.cfg.RecentEvents; over > 0 {
		p.recent = append(p.recent[:0], p.recent[over:]...)
	}
}

func (p *Pipeline) pushFrameTime(seconds float64) {
	p.frameTimes = append(p.frameTimes, seconds)
	if over := len(p.frameTimes) - p.cfg.FrameTimeWindow; over > 0 {
		p.frameTimes = append(p.frameTimes[:0], p.frameTimes[over:]...)
	}
}

// processingFPS is the reciprocal of the mean frame time over the window, 0 when empty.
func (p *Pipeline) processingFPS() float64 {
	if len(p.frameTimes) == 0 {
		return 0
	}
	var sum float64
	for _, s := range p.frameTimes {
		sum += s
	}
	return float64(len(p.frameTimes)) / sum
}

type passthrough struct{}

func (passthrough) Render(frame models.Frame, _ Overlay) (models.Frame, error) {
	return frame, nil
}

// closeAll closes every closer and joins the failures.
func closeAll(closers ...func() error) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
