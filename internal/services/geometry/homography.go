// Package geometry maps pixel coordinates onto a planar (ground) coordinate system.
package geometry

import (
	"math"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/models"
)

// Homography is a 3x3 projective transform with h[8] fixed to 1.
type Homography struct {
	h [9]float64
}

// Identity returns the transform that leaves points unchanged.
func Identity() *Homography {
	return &Homography{h: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewHomography solves the perspective transform that maps the four src corners onto the
// four dst corners.
func NewHomography(src, dst [4][2]float64) (*Homography, error) {
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i][0], src[i][1]
		u, v := dst[i][0], dst[i][1]
		a[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * u, -y * u, u}
		a[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * v, -y * v, v}
	}

	// Gaussian elimination with partial pivoting on the augmented 8x9 system.
	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, apperr.InvalidInput("geometry.NewHomography", "degenerate point correspondence")
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	hm := &Homography{}
	for i := 0; i < 8; i++ {
		hm.h[i] = a[i][8] / a[i][i]
	}
	hm.h[8] = 1
	return hm, nil
}

// TransformPoint maps a pixel point to planar coordinates. Points on the horizon line
// (w == 0) are returned unchanged.
func (m *Homography) TransformPoint(p models.Point2D) models.Point2D {
	h := m.h
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return p
	}
	return models.Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// Matrix returns the row-major 3x3 matrix.
func (m *Homography) Matrix() [9]float64 {
	return m.h
}
