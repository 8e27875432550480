package frameprocessing

import (
	"context"
	"errors"
	"fmt"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/helpers"
	"kepler-vision-go/internal/models"
)

// FrameSource yields decoded frames in order. ok is false at end of stream.
type FrameSource interface {
	Read() (frame models.Frame, ok bool, err error)
	Close() error
}

// FrameWriter persists rendered frames.
type FrameWriter interface {
	Write(frame models.Frame) error
	Close() error
}

// WriterFactory opens the output once the first frame's size is known.
type WriterFactory func(width, height int, fps float64) (FrameWriter, error)

// TelemetrySink receives one frame record per frame followed by that frame's events.
type TelemetrySink interface {
	WriteFrame(rec models.FrameRecord) error
	WriteEvent(ev models.Event) error
	Close() error
}

// ProgressFunc is called after every frame with the number of frames done.
type ProgressFunc func(done, total int, stats models.FrameStats)

// RunOptions describe one run. Only MaxFrames is required: without a Source the run uses
// synthetic frames, without a Writer rendered frames are dropped.
type RunOptions struct {
	Source    FrameSource
	MaxFrames int
	Writer    WriterFactory
	Sink      TelemetrySink
	Progress  ProgressFunc
	// Cancelled is polled before every frame. Returning true ends the run early without
	// an error.
	Cancelled func() bool
}

// RunVideo processes up to MaxFrames frames. The source, writer and sink are closed on
// every path; a stage failure aborts the run and returns the partial summary with the
// error.
func (p *Pipeline) RunVideo(ctx context.Context, opts RunOptions) (summary models.RunSummary, err error) {
	if opts.MaxFrames < 1 {
		err = apperr.InvalidInput("frameprocessing.RunVideo", "max frames must be positive, got %d", opts.MaxFrames)
		var closers []func() error
		if opts.Source != nil {
			closers = append(closers, opts.Source.Close)
		}
		if opts.Sink != nil {
			closers = append(closers, opts.Sink.Close)
		}
		if cerr := closeAll(closers...); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close run outputs: %w", cerr))
		}
		return summary, err
	}

	var writer FrameWriter
	defer func() {
		var closers []func() error
		if opts.Source != nil {
			closers = append(closers, opts.Source.Close)
		}
		if writer != nil {
			closers = append(closers, writer.Close)
		}
		if opts.Sink != nil {
			closers = append(closers, opts.Sink.Close)
		}
		if cerr := closeAll(closers...); cerr != nil && err == nil {
			err = fmt.Errorf("close run outputs: %w", cerr)
		}
		summary.AverageProcessingFPS = p.processingFPS()
	}()

	if opts.Source == nil {
		p.logger.Warn().Msg("No input video provided, running with synthetic frames")
	}
	p.logger.Info().
		Int("max_frames", opts.MaxFrames).
		Int("fps", p.cfg.FPS).
		Int("zones", len(p.analyzer.Zones())).
		Msg("Pipeline run started")

	for frameIndex := 0; frameIndex < opts.MaxFrames; frameIndex++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if opts.Cancelled != nil && opts.Cancelled() {
			summary.StoppedEarly = true
			p.logger.Info().Int("frame", frameIndex).Msg("Pipeline run cancelled")
			break
		}

		var frame models.Frame
		if opts.Source != nil {
			f, ok, err := opts.Source.Read()
			if err != nil {
				return summary, fmt.Errorf("read frame %d: %w", frameIndex, err)
			}
			if !ok {
				break
			}
			frame = f
		} else {
			frame = helpers.SyntheticFrame(frameIndex, p.cfg.SyntheticWidth, p.cfg.SyntheticHeight)
		}

		if writer == nil && opts.Writer != nil {
			w, err := opts.Writer(frame.Width, frame.Height, float64(p.cfg.FPS))
			if err != nil {
				return summary, fmt.Errorf("open output writer: %w", err)
			}
			writer = w
		}

		res, err := p.ProcessFrame(ctx, frame, frameIndex)
		if err != nil {
			return summary, err
		}
		summary.EventsDetected += len(res.Events)

		if writer != nil {
			if err := writer.Write(res.Frame); err != nil {
				return summary, fmt.Errorf("write frame %d: %w", frameIndex, err)
			}
		}

		if opts.Sink != nil {
			if err := opts.Sink.WriteFrame(models.NewFrameRecord(frameIndex, res.Stats, res.Tracks)); err != nil {
				return summary, fmt.Errorf("export frame %d: %w", frameIndex, err)
			}
			for _, ev := range res.Events {
				if err := opts.Sink.WriteEvent(ev); err != nil {
					return summary, fmt.Errorf("export event at frame %d: %w", frameIndex, err)
				}
			}
		}

		summary.FramesProcessed = frameIndex + 1
		if opts.Progress != nil {
			opts.Progress(frameIndex+1, opts.MaxFrames, res.Stats)
		}
	}

	p.logger.Info().
		Int("frames_processed", summary.FramesProcessed).
		Int("events_detected", summary.EventsDetected).
		Float64("average_processing_fps", p.processingFPS()).
		Bool("stopped_early", summary.StoppedEarly).
		Msg("Pipeline run finished")
	return summary, nil
}
