package tracking

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/models"
)

func person(x1, y1, x2, y2 float32) models.Detection {
	return models.Detection{BBox: []float32{x1, y1, x2, y2}, Label: "person", ClassID: 0, Score: 0.9}
}

func ball(x1, y1, x2, y2 float32) models.Detection {
	return models.Detection{BBox: []float32{x1, y1, x2, y2}, Label: "sports ball", ClassID: 32, Score: 0.8}
}

func ids(tracks []models.Track) []int {
	out := make([]int, len(tracks))
	for i, tr := range tracks {
		out[i] = tr.ID
	}
	return out
}

func TestTrackerKeepsIdentityAcrossFrames(t *testing.T) {
	tr := New(DefaultConfig())

	tracks, err := tr.Update(0, 640, 480, []models.Detection{person(100, 100, 200, 300)})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].ID)

	// Small shift keeps IoU well above the threshold.
	tracks, err = tr.Update(1, 640, 480, []models.Detection{person(105, 102, 205, 302)})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].ID)
	assert.Equal(t, image.Rect(105, 102, 205, 302), tracks[0].BBox)
}

func TestTrackerIDsIncreaseAndAreNeverReused(t *testing.T) {
	tr := New(Config{IoUThreshold: 0.35, MaxMissing: 2})

	tracks, err := tr.Update(0, 640, 480, []models.Detection{person(10, 10, 60, 110)})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(tracks))

	// Missing for three frames exceeds MaxMissing=2.
	for frame := 1; frame <= 3; frame++ {
		tracks, err = tr.Update(frame, 640, 480, nil)
		require.NoError(t, err)
		assert.Empty(t, tracks)
	}
	assert.Equal(t, []int{1}, tr.Evicted())
	assert.Equal(t, 0, tr.Live())

	// The same box again gets a new identity.
	tracks, err = tr.Update(4, 640, 480, []models.Detection{person(10, 10, 60, 110), person(300, 10, 350, 110)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ids(tracks))
	assert.Empty(t, tr.Evicted())
}

func TestTrackerSurvivesShortOcclusion(t *testing.T) {
	tr := New(Config{IoUThreshold: 0.35, MaxMissing: 2})

	_, err := tr.Update(0, 640, 480, []models.Detection{person(10, 10, 60, 110)})
	require.NoError(t, err)
	_, err = tr.Update(1, 640, 480, nil)
	require.NoError(t, err)
	_, err = tr.Update(2, 640, 480, nil)
	require.NoError(t, err)

	tracks, err := tr.Update(3, 640, 480, []models.Detection{person(12, 10, 62, 110)})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(tracks))
}

func TestTrackerDoesNotMatchAcrossClasses(t *testing.T) {
	tr := New(DefaultConfig())

	_, err := tr.Update(0, 640, 480, []models.Detection{person(100, 100, 200, 200)})
	require.NoError(t, err)

	tracks, err := tr.Update(1, 640, 480, []models.Detection{ball(100, 100, 200, 200)})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, 2, tracks[0].ID)
	assert.Equal(t, 32, tracks[0].ClassID)
}

func TestTrackerBreaksTiesOnLowestID(t *testing.T) {
	tr := New(DefaultConfig())

	// Two identical boxes: the second cannot claim track 1 and spawns track 2.
	tracks, err := tr.Update(0, 640, 480, []models.Detection{person(50, 50, 150, 150), person(50, 50, 150, 150)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(tracks))

	for i := 0; i < 5; i++ {
		tracks, err = tr.Update(1+i, 640, 480, []models.Detection{person(50, 50, 150, 150)})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, ids(tracks))
	}
}

func TestTrackerRejectsBelowThreshold(t *testing.T) {
	tr := New(DefaultConfig())

	_, err := tr.Update(0, 640, 480, []models.Detection{person(0, 0, 100, 100)})
	require.NoError(t, err)

	// IoU = 2500 / 17500 ~ 0.14
	tracks, err := tr.Update(1, 640, 480, []models.Detection{person(50, 50, 150, 150)})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids(tracks))
}

func TestTrackerOutputSortedByID(t *testing.T) {
	tr := New(DefaultConfig())

	_, err := tr.Update(0, 640, 480, []models.Detection{person(0, 0, 50, 50), person(300, 300, 350, 350)})
	require.NoError(t, err)

	// Reverse detection order; output order must follow ids.
	tracks, err := tr.Update(1, 640, 480, []models.Detection{person(300, 300, 350, 350), person(0, 0, 50, 50)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(tracks))
}

func TestTrackerClampsBoxes(t *testing.T) {
	tr := New(DefaultConfig())

	tracks, err := tr.Update(0, 100, 80, []models.Detection{person(-20, -5, 500, 400)})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, image.Rect(0, 0, 99, 79), tracks[0].BBox)

	// Inverted box collapses to a one pixel wide box instead of a zero area one.
	tracks, err = tr.Update(1, 100, 80, []models.Detection{ball(99, 79, 10, 10)})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, image.Rect(98, 78, 99, 79), tracks[0].BBox)
	assert.Equal(t, 1, tracks[0].Mask.Area())
}

func TestTrackerMaskCoversBox(t *testing.T) {
	tr := New(DefaultConfig())

	tracks, err := tr.Update(0, 20, 10, []models.Detection{person(2, 3, 6, 5)})
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	mask := tracks[0].Mask
	assert.Equal(t, 8, mask.Area())
	assert.True(t, mask.At(2, 3))
	assert.False(t, mask.At(6, 5))

	raw := mask.Bytes()
	require.Len(t, raw, 200)
	sum := 0
	for _, v := range raw {
		sum += int(v)
	}
	assert.Equal(t, 8, sum)
}

func TestTrackerRejectsInvalidInput(t *testing.T) {
	tr := New(DefaultConfig())

	_, err := tr.Update(0, 1, 480, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = tr.Update(0, 640, 480, []models.Detection{{BBox: []float32{1, 2, 3}, ClassID: 0}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = tr.Update(0, 640, 480, []models.Detection{{BBox: []float32{1, 2, float32(math.NaN()), 4}}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	// Rejected frames leave no trace.
	tracks, err := tr.Update(0, 640, 480, []models.Detection{person(1, 1, 20, 20)})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(tracks))

	_, err = tr.Update(0, 640, 480, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput, "frame index must increase")
}

func TestTrackerEmptyFrameIsValid(t *testing.T) {
	tr := New(DefaultConfig())

	tracks, err := tr.Update(0, 640, 480, nil)
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestIoU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)
	assert.InDelta(t, 1.0, IoU(a, a), 1e-9)
	assert.InDelta(t, 0.0, IoU(a, image.Rect(20, 20, 30, 30)), 1e-9)
	assert.InDelta(t, 25.0/175.0, IoU(a, image.Rect(5, 5, 15, 15)), 1e-9)
}
