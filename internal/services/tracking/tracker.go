// Package tracking turns independent per-frame detections into stable identities using
// greedy IoU matching.
package tracking

import (
	"image"
	"math"
	"slices"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/models"
)

// Config holds the matching parameters.
type Config struct {
	// IoUThreshold is the minimum overlap for a detection to continue a track.
	IoUThreshold float64
	// MaxMissing is the number of consecutive unmatched frames a track survives.
	MaxMissing int
}

func DefaultConfig() Config {
	return Config{IoUThreshold: 0.35, MaxMissing: 10}
}

type trackState struct {
	track  models.Track
	missed int
}

// Tracker assigns monotonically increasing ids. It is not safe for concurrent use; a
// run owns exactly one tracker.
type Tracker struct {
	cfg       Config
	nextID    int
	tracks    map[int]*trackState
	order     []int // live ids, ascending
	evicted   []int
	lastFrame int
	started   bool
}

func New(cfg Config) *Tracker {
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = DefaultConfig().IoUThreshold
	}
	if cfg.MaxMissing < 0 {
		cfg.MaxMissing = DefaultConfig().MaxMissing
	}
	return &Tracker{
		cfg:    cfg,
		nextID: 1,
		tracks: make(map[int]*trackState),
	}
}

// Update matches this frame's detections against live tracks and returns the tracks seen
// in this frame sorted by id. Invalid input leaves the tracker untouched.
func (t *Tracker) Update(frameIndex, width, height int, detections []models.Detection) ([]models.Track, error) {
	const op = "tracking.Update"
	if width < 2 || height < 2 {
		return nil, apperr.InvalidInput(op, "frame dimensions %dx%d", width, height)
	}
	if t.started && frameIndex <= t.lastFrame {
		return nil, apperr.InvalidInput(op, "frame index %d not after %d", frameIndex, t.lastFrame)
	}

	boxes := make([]image.Rectangle, len(detections))
	for i, det := range detections {
		box, err := sanitizeBox(det.BBox, width, height)
		if err != nil {
			return nil, apperr.InvalidInput(op, "detection %d: %v", i, err)
		}
		boxes[i] = box
	}

	t.started = true
	t.lastFrame = frameIndex
	t.evicted = t.evicted[:0]

	claimed := make(map[int]bool, len(detections))
	for i, det := range detections {
		box := boxes[i]
		bestID, bestIoU := 0, -1.0
		for _, id := range t.order {
			st := t.tracks[id]
			if claimed[id] || st.missed > t.cfg.MaxMissing || st.track.ClassID != det.ClassID {
				continue
			}
			// Strict comparison over ascending ids keeps the lowest id on ties.
			if iou := IoU(box, st.track.BBox); iou > bestIoU {
				bestID, bestIoU = id, iou
			}
		}

		if bestID != 0 && bestIoU >= t.cfg.IoUThreshold {
			st := t.tracks[bestID]
			st.track.BBox = box
			st.track.Label = det.Label
			st.track.Score = det.Score
			st.track.Mask = models.Mask{Width: width, Height: height, Box: box}
			st.missed = 0
			claimed[bestID] = true
			continue
		}

		id := t.nextID
		t.nextID++
		t.tracks[id] = &trackState{track: models.Track{
			ID:      id,
			BBox:    box,
			ClassID: det.ClassID,
			Label:   det.Label,
			Score:   det.Score,
			Mask:    models.Mask{Width: width, Height: height, Box: box},
		}}
		t.order = append(t.order, id)
		claimed[id] = true
	}

	live := t.order[:0]
	for _, id := range t.order {
		if !claimed[id] {
			st := t.tracks[id]
			st.missed++
			if st.missed > t.cfg.MaxMissing {
				delete(t.tracks, id)
				t.evicted = append(t.evicted, id)
				continue
			}
		}
		live = append(live, id)
	}
	t.order = live

	out := make([]models.Track, 0, len(claimed))
	for id := range claimed {
		out = append(out, t.tracks[id].track)
	}
	slices.SortFunc(out, func(a, b models.Track) int { return a.ID - b.ID })
	return out, nil
}

// Evicted returns the ids removed by the most recent Update.
func (t *Tracker) Evicted() []int {
	return slices.Clone(t.evicted)
}

// Live returns the number of tracks still eligible for matching.
func (t *Tracker) Live() int {
	return len(t.order)
}

// Reset drops every track. Ids keep increasing so they are never reused.
func (t *Tracker) Reset() {
	t.tracks = make(map[int]*trackState)
	t.order = nil
	t.evicted = nil
	t.started = false
	t.lastFrame = 0
}

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

// sanitizeBox clamps a box to [0, w-2] x [0, h-2] for the top-left corner and keeps the
// bottom-right corner at least one pixel away, inside the frame.
func sanitizeBox(b []float32, width, height int) (image.Rectangle, error) {
	if len(b) != 4 {
		return image.Rectangle{}, errBoxShape(len(b))
	}
	for _, v := range b {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return image.Rectangle{}, errBoxValue
		}
	}
	x1 := clamp(int(b[0]), 0, width-2)
	y1 := clamp(int(b[1]), 0, height-2)
	x2 := clamp(int(b[2]), x1+1, width-1)
	y2 := clamp(int(b[3]), y1+1, height-1)
	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
