// Package recorder encodes annotated frames into the output video.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"kepler-vision-go/internal/models"
)

// DefaultCodec is the fourcc used when none is configured.
const DefaultCodec = "mp4v"

// Writer appends BGR frames of a fixed size to a video file.
type Writer struct {
	path   string
	width  int
	height int
	vw     *gocv.VideoWriter
	frames int
}

// Create opens path for writing, creating the parent directory.
func Create(path, codec string, width, height int, fps float64) (*Writer, error) {
	if codec == "" {
		codec = DefaultCodec
	}
	if fps <= 0 {
		fps = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	vw, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("video writer for %s (codec %s) did not open", path, codec)
	}

	log.Info().
		Str("path", path).
		Str("codec", codec).
		Int("width", width).
		Int("height", height).
		Float64("fps", fps).
		Msg("Video writer opened")
	return &Writer{path: path, width: width, height: height, vw: vw}, nil
}

// Write encodes one frame. The frame must match the size the writer was opened with.
func (w *Writer) Write(frame models.Frame) error {
	if w.vw == nil {
		return fmt.Errorf("video writer %s is closed", w.path)
	}
	if frame.Width != w.width || frame.Height != w.height {
		return fmt.Errorf("frame size %dx%d does not match output %dx%d",
			frame.Width, frame.Height, w.width, w.height)
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	if err := w.vw.Write(mat); err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", w.frames, err)
	}
	w.frames++
	return nil
}

// Close finalizes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.vw == nil {
		return nil
	}
	err := w.vw.Close()
	w.vw = nil
	log.Info().Str("path", w.path).Int("frames", w.frames).Msg("Video writer closed")
	return err
}

