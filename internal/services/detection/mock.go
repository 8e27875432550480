// Package detection provides the model capabilities used by the frame pipeline: object
// detection, appearance embeddings and scene text reading. Each capability has a
// deterministic mock and a gRPC-backed implementation.
package detection

import (
	"context"
	"fmt"
	"math"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/helpers"
	"kepler-vision-go/internal/models"
)

const (
	// EmbeddingDim is the length of every embedding vector (16x16 BGR).
	EmbeddingDim = 768

	embedSide = 16
	ocrSide   = 24

	DefaultMinScore float32 = 0.5
)

// MockDetector emits a walking "person" and an orbiting "sports ball" whose positions are a
// pure function of the frame size and index.
type MockDetector struct {
	MinScore float32
}

func NewMockDetector(minScore float32) *MockDetector {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &MockDetector{MinScore: minScore}
}

func (d *MockDetector) Detect(_ context.Context, frame models.Frame, frameIndex int) ([]models.Detection, error) {
	if !frame.Valid() {
		return nil, apperr.InvalidInput("detection.Detect", "frame must be a BGR image of at least 2x2, got %dx%d with %d bytes",
			frame.Width, frame.Height, len(frame.Data))
	}
	w, h := frame.Width, frame.Height
	fw, fh := float64(w), float64(h)

	personW := max(20, int(0.18*fw))
	personH := max(40, int(0.5*fh))
	personX := int(0.15*fw + float64(frameIndex%60)*1.8)
	personY := int(0.25 * fh)

	angle := float64(frameIndex) / 7.0
	ballX := int(0.62*fw + math.Sin(angle)*(0.05*fw))
	ballY := int(0.58*fh + math.Cos(angle*1.4)*(0.06*fh))
	radius := max(8, int(math.Min(fw, fh)*0.02))

	candidates := []models.Detection{
		{
			BBox:    clampBox(personX, personY, personX+personW, personY+personH, w, h),
			Label:   "person",
			ClassID: 0,
			Score:   0.96,
		},
		{
			BBox:    clampBox(ballX-radius, ballY-radius, ballX+radius, ballY+radius, w, h),
			Label:   "sports ball",
			ClassID: 32,
			Score:   0.89,
		},
	}

	out := candidates[:0]
	for _, det := range candidates {
		if det.Score >= d.MinScore {
			out = append(out, det)
		}
	}
	return out, nil
}

func clampBox(x1, y1, x2, y2, w, h int) []float32 {
	x1 = max(0, min(w-2, x1))
	y1 = max(0, min(h-2, y1))
	x2 = max(x1+1, min(w-1, x2))
	y2 = max(y1+1, min(h-1, y2))
	return []float32{float32(x1), float32(y1), float32(x2), float32(y2)}
}

// MockEmbedder turns each crop into its 16x16 thumbnail scaled to [0, 1].
type MockEmbedder struct{}

func (MockEmbedder) Embed(_ context.Context, crops []models.Frame) ([][]float32, error) {
	out := make([][]float32, len(crops))
	for i, crop := range crops {
		out[i] = thumbnailEmbedding(crop)
	}
	return out, nil
}

func thumbnailEmbedding(crop models.Frame) []float32 {
	vec := make([]float32, EmbeddingDim)
	if crop.Width <= 0 || crop.Height <= 0 || len(crop.Data) != crop.Width*crop.Height*3 {
		return vec
	}
	thumb := helpers.ResizeArea(crop, embedSide, embedSide)
	for i, b := range thumb.Data {
		vec[i] = float32(b) / 255
	}
	return vec
}

// MockTextReader derives a two digit "jersey number" from the brightness and edge energy of
// the crop. Dark crops read as empty.
type MockTextReader struct{}

func (MockTextReader) ReadText(_ context.Context, crop models.Frame, _ int) (string, error) {
	if crop.Width <= 0 || crop.Height <= 0 || len(crop.Data) != crop.Width*crop.Height*3 {
		return "", nil
	}
	small := helpers.ResizeArea(crop, ocrSide, ocrSide)
	gray := helpers.Gray(small)
	mean := helpers.Mean(gray)
	if mean < 15 {
		return "", nil
	}
	edges := helpers.LaplacianMean(gray, ocrSide, ocrSide)
	value := int(math.Mod(mean*0.37+math.Abs(edges)*11.0, 99))
	value = max(1, value)
	return fmt.Sprintf("%02d", value), nil
}
