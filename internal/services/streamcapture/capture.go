// Package streamcapture decodes input videos into BGR frames with OpenCV.
package streamcapture

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/models"
)

// Source reads frames from a video file sequentially. It is not safe for concurrent use.
type Source struct {
	path string
	cap  *gocv.VideoCapture
	img  gocv.Mat
	read int
}

// Info describes the opened stream as reported by the decoder.
type Info struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// Open opens path with the FFmpeg backend.
func Open(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.NotFound("streamcapture.Open", "input video %s: %v", path, err)
	}

	cap, err := gocv.OpenVideoCaptureWithAPI(path, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, apperr.InvalidInput("streamcapture.Open", "video %s could not be decoded", path)
	}

	s := &Source{path: path, cap: cap, img: gocv.NewMat()}
	info := s.Info()
	log.Info().
		Str("path", path).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Int("frame_count", info.FrameCount).
		Msg("Video capture opened")
	return s, nil
}

func (s *Source) Info() Info {
	return Info{
		Width:      int(s.cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(s.cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        s.cap.Get(gocv.VideoCaptureFPS),
		FrameCount: int(s.cap.Get(gocv.VideoCaptureFrameCount)),
	}
}

// Read returns the next frame. ok is false at the end of the stream. Frames that are
// not 3-channel 8-bit are converted to BGR.
func (s *Source) Read() (models.Frame, bool, error) {
	if s.cap == nil {
		return models.Frame{}, false, fmt.Errorf("video %s is closed", s.path)
	}
	if ok := s.cap.Read(&s.img); !ok || s.img.Empty() {
		return models.Frame{}, false, nil
	}
	s.read++

	bgr := s.img
	switch s.img.Channels() {
	case 1:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(s.img, &bgr, gocv.ColorGrayToBGR)
	case 4:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(s.img, &bgr, gocv.ColorBGRAToBGR)
	}
	if bgr.Type() != gocv.MatTypeCV8UC3 {
		return models.Frame{}, false, fmt.Errorf("frame %d of %s has unsupported type %v", s.read, s.path, bgr.Type())
	}

	return models.Frame{Width: bgr.Cols(), Height: bgr.Rows(), Data: bgr.ToBytes()}, true, nil
}

// Close releases the decoder. It is safe to call more than once.
func (s *Source) Close() error {
	if s.cap == nil {
		return nil
	}
	s.img.Close()
	err := s.cap.Close()
	s.cap = nil
	log.Debug().Str("path", s.path).Int("frames_read", s.read).Msg("Video capture closed")
	return err
}
