package services

import (
	"fmt"

	"github.com/rs/zerolog"

	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/logging"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/detection"
	"kepler-vision-go/internal/services/frameprocessing"
	"kepler-vision-go/internal/services/frameprocessing/overlay"
	"kepler-vision-go/internal/services/geometry"
	"kepler-vision-go/internal/services/jobs"
	"kepler-vision-go/internal/services/recorder"
	"kepler-vision-go/internal/services/streamcapture"
)

// PipelineFactory assembles per-job pipelines. Mock jobs use the deterministic synthetic
// models; real jobs share one gRPC inference client.
type PipelineFactory struct {
	cfg    *config.Config
	remote *detection.Client
	mapper *geometry.Homography
	logger zerolog.Logger
}

func NewPipelineFactory(cfg *config.Config, remote *detection.Client) (*PipelineFactory, error) {
	mapper, err := geometry.NewHomography(cfg.HomographySource, cfg.HomographyDestination)
	if err != nil {
		return nil, fmt.Errorf("invalid homography points: %w", err)
	}
	return &PipelineFactory{
		cfg:    cfg,
		remote: remote,
		mapper: mapper,
		logger: logging.NewServiceLogger(cfg.WorkerID, "pipeline"),
	}, nil
}

// Config derives the pipeline configuration of job.
func (f *PipelineFactory) Config(job models.Job) frameprocessing.Config {
	pc := frameprocessing.ConfigFrom(f.cfg)
	pc.FPS = job.Config.FPS
	pc.OCRInterval = job.Config.OCRInterval
	pc.ClusteringInterval = job.Config.ClusteringInterval
	pc.Analyzer.Zones = job.Zones
	return pc
}

func (f *PipelineFactory) NewPipeline(job models.Job) (jobs.Runner, error) {
	deps := frameprocessing.Deps{
		Mapper:   f.mapper,
		Renderer: overlay.New(f.cfg.OverlayTitle),
	}
	if job.Config.MockMode || f.remote == nil {
		deps.Detector = detection.NewMockDetector(f.cfg.DetectionMinScore)
		deps.Embedder = detection.MockEmbedder{}
		deps.TextReader = detection.MockTextReader{}
	} else {
		deps.Detector = f.remote
		deps.Embedder = f.remote
		deps.TextReader = f.remote
	}

	p, err := frameprocessing.New(f.Config(job), deps,
		frameprocessing.WithLogger(logging.WithJob(f.logger, job.ID)))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *PipelineFactory) OpenSource(path string) (frameprocessing.FrameSource, error) {
	src, err := streamcapture.Open(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (f *PipelineFactory) NewWriter(path string) frameprocessing.WriterFactory {
	codec := f.cfg.OutputVideoCodec
	return func(width, height int, fps float64) (frameprocessing.FrameWriter, error) {
		w, err := recorder.Create(path, codec, width, height, fps)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}
