package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services"
	"kepler-vision-go/internal/services/detection"
	"kepler-vision-go/internal/services/frameprocessing"
	"kepler-vision-go/internal/services/jobs"
	"kepler-vision-go/internal/services/publisher"
)

type runFlags struct {
	input           string
	outputDir       string
	frames          int
	fps             int
	ocrInterval     int
	clusterInterval int
	zones           []string
	zonesJSON       string
	mock            bool
}

// runResult is printed on stdout when a local run finishes.
type runResult struct {
	models.RunSummary
	OutputVideo string `json:"output_video"`
	Analytics   string `json:"analytics"`
}

func runCommand(loaded func() *config.Config) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one video locally and print the run summary as JSON",
		Long: `Process one video (or synthetic frames when --input is omitted) without the job
store, writing <output-dir>/output.mp4 and <output-dir>/analytics.jsonl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := runLocal(ctx, loaded(), flags)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "Path to input video (synthetic frames when empty)")
	cmd.Flags().StringVarP(&flags.outputDir, "output-dir", "o", "output", "Directory for the annotated video and analytics")
	cmd.Flags().IntVarP(&flags.frames, "frames", "n", 180, "Maximum number of frames to process")
	cmd.Flags().IntVar(&flags.fps, "fps", 30, "Output FPS")
	cmd.Flags().IntVar(&flags.ocrInterval, "ocr-interval", 30, "Text reading interval in frames")
	cmd.Flags().IntVar(&flags.clusterInterval, "cluster-interval", 5, "Clustering interval in frames")
	cmd.Flags().StringArrayVar(&flags.zones, "zone", nil, "Monitoring zone as name:x1,y1,x2,y2 (repeatable)")
	cmd.Flags().StringVar(&flags.zonesJSON, "zones", "", "Monitoring zones as a JSON array")
	cmd.Flags().BoolVar(&flags.mock, "mock", true, "Use the built-in mock models instead of the gRPC inference service")

	return cmd
}

func runLocal(ctx context.Context, cfg *config.Config, flags runFlags) (runResult, error) {
	zones, err := jobs.ParseZones(flags.zonesJSON)
	if err != nil {
		return runResult{}, err
	}
	for _, raw := range flags.zones {
		z, err := parseZoneArg(raw)
		if err != nil {
			log.Warn().Err(err).Str("zone", raw).Msg("Ignoring invalid --zone value, expected name:x1,y1,x2,y2")
			continue
		}
		zones = append(zones, z)
	}
	if zones, err = jobs.ValidateZones(zones); err != nil {
		return runResult{}, err
	}

	if err := os.MkdirAll(flags.outputDir, 0o755); err != nil {
		return runResult{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	var remote *detection.Client
	if !flags.mock {
		remote = detection.NewClient(cfg.AIGRPCURL, cfg.AITimeout, cfg.DetectionMinScore)
		defer remote.Close()
	}
	factory, err := services.NewPipelineFactory(cfg, remote)
	if err != nil {
		return runResult{}, err
	}

	job := models.Job{
		ID:              "local-" + uuid.NewString()[:8],
		MaxFrames:       max(1, flags.frames),
		Zones:           zones,
		InputPath:       flags.input,
		OutputVideoPath: filepath.Join(flags.outputDir, "output.mp4"),
		AnalyticsPath:   filepath.Join(flags.outputDir, "analytics.jsonl"),
		Config: models.JobConfig{
			MaxFrames:          max(1, flags.frames),
			FPS:                max(1, flags.fps),
			OCRInterval:        max(1, flags.ocrInterval),
			ClusteringInterval: max(1, flags.clusterInterval),
			MockMode:           flags.mock,
		},
	}

	pipe, err := factory.NewPipeline(job)
	if err != nil {
		return runResult{}, err
	}

	var source frameprocessing.FrameSource
	if job.InputPath != "" {
		src, err := factory.OpenSource(job.InputPath)
		if err != nil {
			log.Warn().Err(err).Str("input", job.InputPath).Msg("Input video unreadable, using synthetic frames")
		} else {
			source = src
		}
	}

	sink, err := publisher.NewJSONLSink(job.AnalyticsPath)
	if err != nil {
		if source != nil {
			source.Close()
		}
		return runResult{}, err
	}

	log.Info().
		Str("run_id", job.ID).
		Int("max_frames", job.MaxFrames).
		Int("zones", len(zones)).
		Bool("mock", flags.mock).
		Msg("Running pipeline")

	summary, err := pipe.RunVideo(ctx, frameprocessing.RunOptions{
		Source:    source,
		MaxFrames: job.MaxFrames,
		Writer:    factory.NewWriter(job.OutputVideoPath),
		Sink:      sink,
	})
	if err != nil {
		return runResult{}, err
	}

	log.Info().
		Int("frames", summary.FramesProcessed).
		Int("events", summary.EventsDetected).
		Float64("avg_fps", summary.AverageProcessingFPS).
		Str("output", job.OutputVideoPath).
		Msg("Pipeline completed")

	return runResult{
		RunSummary:  summary,
		OutputVideo: job.OutputVideoPath,
		Analytics:   job.AnalyticsPath,
	}, nil
}

// parseZoneArg parses "name:x1,y1,x2,y2".
func parseZoneArg(raw string) (models.Zone, error) {
	name, coords, ok := strings.Cut(raw, ":")
	if !ok {
		return models.Zone{}, fmt.Errorf("missing ':' in %q", raw)
	}
	parts := strings.Split(coords, ",")
	if len(parts) != 4 {
		return models.Zone{}, fmt.Errorf("want 4 coordinates, got %d", len(parts))
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return models.Zone{}, fmt.Errorf("coordinate %d: %w", i, err)
		}
		v[i] = n
	}
	return models.Zone{Name: strings.TrimSpace(name), X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}
