package helpers

import (
	"image"

	"kepler-vision-go/internal/models"
)

// Crop copies the part of the frame covered by r. The rectangle is clamped to the frame the
// same way track boxes are: the result is at least 1x1 whenever the frame is valid.
// ok is false for an invalid frame.
func Crop(f models.Frame, r image.Rectangle) (models.Frame, bool) {
	if !f.Valid() {
		return models.Frame{}, false
	}
	x1 := clamp(r.Min.X, 0, f.Width-1)
	y1 := clamp(r.Min.Y, 0, f.Height-1)
	x2 := clamp(r.Max.X, x1+1, f.Width)
	y2 := clamp(r.Max.Y, y1+1, f.Height)

	out := models.NewFrame(x2-x1, y2-y1)
	rowBytes := out.Width * 3
	for y := y1; y < y2; y++ {
		src := f.Data[(y*f.Width+x1)*3 : (y*f.Width+x1)*3+rowBytes]
		copy(out.Data[(y-y1)*rowBytes:], src)
	}
	return out, true
}

// ResizeArea resamples a BGR frame to w x h by averaging every source pixel that falls into
// each destination cell. Upscaling degenerates to nearest neighbour.
func ResizeArea(f models.Frame, w, h int) models.Frame {
	out := models.NewFrame(w, h)
	if f.Width == 0 || f.Height == 0 || w <= 0 || h <= 0 {
		return out
	}
	for dy := 0; dy < h; dy++ {
		sy0, sy1 := span(dy, h, f.Height)
		for dx := 0; dx < w; dx++ {
			sx0, sx1 := span(dx, w, f.Width)
			var sum [3]int
			for sy := sy0; sy < sy1; sy++ {
				row := f.Data[sy*f.Width*3:]
				for sx := sx0; sx < sx1; sx++ {
					sum[0] += int(row[sx*3])
					sum[1] += int(row[sx*3+1])
					sum[2] += int(row[sx*3+2])
				}
			}
			n := (sy1 - sy0) * (sx1 - sx0)
			o := (dy*w + dx) * 3
			for c := 0; c < 3; c++ {
				out.Data[o+c] = byte((sum[c] + n/2) / n)
			}
		}
	}
	return out
}

// span maps destination cell i of n onto the source range [lo, hi) of size src.
func span(i, n, src int) (int, int) {
	lo := i * src / n
	hi := ((i+1)*src + n - 1) / n
	if hi <= lo {
		hi = lo + 1
	}
	if hi > src {
		hi = src
	}
	return lo, hi
}

// Gray converts BGR to luma with the BT.601 weights, one float per pixel.
func Gray(f models.Frame) []float64 {
	out := make([]float64, f.Width*f.Height)
	for i := range out {
		b, g, r := f.Data[i*3], f.Data[i*3+1], f.Data[i*3+2]
		out[i] = 0.114*float64(b) + 0.587*float64(g) + 0.299*float64(r)
	}
	return out
}

// Mean of a grayscale buffer, 0 when empty.
func Mean(gray []float64) float64 {
	if len(gray) == 0 {
		return 0
	}
	var s float64
	for _, v := range gray {
		s += v
	}
	return s / float64(len(gray))
}

// LaplacianMean applies the 4-neighbour Laplacian with reflected borders and returns the
// signed mean response.
func LaplacianMean(gray []float64, w, h int) float64 {
	if w <= 0 || h <= 0 || len(gray) != w*h {
		return 0
	}
	at := func(x, y int) float64 {
		return gray[reflect(y, h)*w+reflect(x, w)]
	}
	var s float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s += at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
		}
	}
	return s / float64(w*h)
}

// reflect mirrors an out-of-range index without repeating the edge (gfedcb|abcdefgh|gfedcba).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
