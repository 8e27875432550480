package models

import (
	"encoding/json"
	"fmt"
	"image"
)

// Detection is one detector output for one frame. BBox is x1, y1, x2, y2 in pixels.
type Detection struct {
	BBox    []float32 `json:"bbox"`
	Label   string    `json:"label"`
	ClassID int       `json:"class_id"`
	Score   float32   `json:"score"`
}

// Point2D is a pixel or planar coordinate. It serializes as a two element array.
type Point2D struct {
	X float64
	Y float64
}

func (p Point2D) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point2D) UnmarshalJSON(data []byte) error {
	var v [2]float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("point must be [x, y]: %w", err)
	}
	p.X, p.Y = v[0], v[1]
	return nil
}

// Mask is a binary occupancy mask over a Width x Height frame. Pixels inside Box
// (half-open, like image.Rectangle) are set.
type Mask struct {
	Width  int
	Height int
	Box    image.Rectangle
}

func (m Mask) At(x, y int) bool {
	return image.Pt(x, y).In(m.Box)
}

func (m Mask) Area() int {
	b := m.Box.Intersect(image.Rect(0, 0, m.Width, m.Height))
	return b.Dx() * b.Dy()
}

// Bytes materializes the mask row-major, one byte per pixel (0 or 1).
func (m Mask) Bytes() []byte {
	out := make([]byte, m.Width*m.Height)
	b := m.Box.Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := out[y*m.Width : (y+1)*m.Width]
		for x := b.Min.X; x < b.Max.X; x++ {
			row[x] = 1
		}
	}
	return out
}

// Track is a tracker-owned identity. ClusterID, Text and WorldPosition are per-frame
// annotations added by later stages and never influence matching.
type Track struct {
	ID            int
	BBox          image.Rectangle
	ClassID       int
	Label         string
	Score         float32
	Mask          Mask
	ClusterID     *int
	Text          string
	WorldPosition *Point2D
}

// Center returns the pixel-space center of the track box.
func (t Track) Center() Point2D {
	return Point2D{
		X: float64(t.BBox.Min.X+t.BBox.Max.X) / 2,
		Y: float64(t.BBox.Min.Y+t.BBox.Max.Y) / 2,
	}
}

// Zone is a named rectangle of interest. Containment is inclusive on all edges.
type Zone struct {
	Name string `json:"name"`
	X1   int    `json:"x1"`
	Y1   int    `json:"y1"`
	X2   int    `json:"x2"`
	Y2   int    `json:"y2"`
}

// Normalized returns the zone with swapped corners so that X1 <= X2 and Y1 <= Y2.
func (z Zone) Normalized() Zone {
	if z.X1 > z.X2 {
		z.X1, z.X2 = z.X2, z.X1
	}
	if z.Y1 > z.Y2 {
		z.Y1, z.Y2 = z.Y2, z.Y1
	}
	return z
}

func (z Zone) Contains(p Point2D) bool {
	return float64(z.X1) <= p.X && p.X <= float64(z.X2) &&
		float64(z.Y1) <= p.Y && p.Y <= float64(z.Y2)
}

// EventType is the kind of temporal event raised by the analyzer
type EventType string

const (
	EventStationaryWarning EventType = "STATIONARY_WARNING"
	EventZoneEntry         EventType = "ZONE_ENTRY"
	EventZoneExit          EventType = "ZONE_EXIT"
)

// Severity of an emitted event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is immutable once emitted.
type Event struct {
	Frame    int       `json:"frame"`
	Type     EventType `json:"type"`
	ObjectID int       `json:"object_id"`
	Details  string    `json:"details"`
	Severity Severity  `json:"severity"`
}

// FrameStats is the per-frame telemetry reported by the orchestrator.
type FrameStats struct {
	ProcessingFPS float64 `json:"processing_fps"`
	ActiveTracks  int     `json:"active_tracks"`
	EventsInFrame int     `json:"events_in_frame"`
	FrameIdx      int     `json:"frame_idx"`
}

// RunSummary is the result of one pipeline run.
type RunSummary struct {
	FramesProcessed      int     `json:"frames_processed"`
	EventsDetected       int     `json:"events_detected"`
	AverageProcessingFPS float64 `json:"average_processing_fps"`
	StoppedEarly         bool    `json:"stopped_early"`
}

// MessagePublisher interface for publishing messages
type MessagePublisher interface {
	Publish(subject string, data interface{}) error
}
