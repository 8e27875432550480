package helpers

import (
	"math/rand/v2"

	"kepler-vision-go/internal/models"
)

// SyntheticFrame renders the stand-in frame used when no input video is available: a
// horizontal blue/green gradient over a flat red channel plus uniform noise in [0, 22).
// The noise is seeded by the frame index, so the same index always yields the same bytes.
func SyntheticFrame(frameIndex, width, height int) models.Frame {
	f := models.NewFrame(width, height)
	if width <= 0 || height <= 0 {
		return f
	}
	gradient := make([]byte, width)
	for x := range gradient {
		if width == 1 {
			gradient[x] = 10
			continue
		}
		gradient[x] = byte(10 + 35*x/(width-1))
	}

	rng := rand.New(rand.NewPCG(uint64(frameIndex), 0x9e3779b97f4a7c15))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := (y*width + x) * 3
			f.Data[o] = addSat(gradient[x], rng.IntN(22))
			f.Data[o+1] = addSat(gradient[width-1-x], rng.IntN(22))
			f.Data[o+2] = addSat(28, rng.IntN(22))
		}
	}
	return f
}

func addSat(v byte, n int) byte {
	s := int(v) + n
	if s > 255 {
		return 255
	}
	return byte(s)
}
