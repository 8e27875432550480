// Package overlay draws the pipeline HUD (header, zones, tracks, object panel and event
// feed) onto output frames with gocv.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"kepler-vision-go/internal/models"
	"kepler-vision-go/internal/services/frameprocessing"
)

const (
	headerHeight = 70
	sidePanel    = 280
	feedHeight   = 110
)

var (
	white     = color.RGBA{R: 255, G: 248, B: 242, A: 255}
	subtle    = color.RGBA{R: 255, G: 209, B: 174, A: 255}
	zoneColor = color.RGBA{R: 0, G: 180, B: 255, A: 255}
	darkText  = color.RGBA{R: 20, G: 15, B: 12, A: 255}
)

// Renderer implements frameprocessing.Renderer.
type Renderer struct {
	Title string
}

func New(title string) *Renderer {
	if title == "" {
		title = "Modular Vision Pipeline"
	}
	return &Renderer{Title: title}
}

func (r *Renderer) Render(frame models.Frame, ov frameprocessing.Overlay) (models.Frame, error) {
	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return models.Frame{}, fmt.Errorf("failed to create Mat from frame data: %w", err)
	}
	defer src.Close()

	canvas := src.Clone()
	defer canvas.Close()

	drawBackgroundPanels(&canvas)
	drawZones(&canvas, ov.Zones)
	drawTracks(&canvas, ov.Tracks)
	r.drawHeader(&canvas, ov.Stats, len(ov.Tracks), ov.Stats.EventsInFrame)
	drawObjectPanel(&canvas, ov.Tracks)
	drawEventFeed(&canvas, ov.Recent)

	return models.Frame{Width: frame.Width, Height: frame.Height, Data: canvas.ToBytes()}, nil
}

// blendRect fills rect with c at the given opacity.
func blendRect(mat *gocv.Mat, rect image.Rectangle, c color.RGBA, alpha float64) {
	rect = rect.Intersect(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	if rect.Empty() {
		return
	}
	roi := mat.Region(rect)
	defer roi.Close()

	fill := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0),
		rect.Dy(), rect.Dx(), gocv.MatTypeCV8UC3)
	defer fill.Close()

	gocv.AddWeighted(fill, alpha, roi, 1-alpha, 0, &roi)
}

func drawBackgroundPanels(mat *gocv.Mat) {
	w, h := mat.Cols(), mat.Rows()
	blendRect(mat, image.Rect(0, 0, w, headerHeight), color.RGBA{R: 34, G: 19, B: 8, A: 255}, 0.68)
	blendRect(mat, image.Rect(w-sidePanel, headerHeight, w, h), color.RGBA{R: 44, G: 25, B: 10, A: 255}, 0.68)
	blendRect(mat, image.Rect(0, h-feedHeight, w-sidePanel, h), color.RGBA{R: 50, G: 30, B: 12, A: 255}, 0.68)
}

func (r *Renderer) drawHeader(mat *gocv.Mat, stats models.FrameStats, tracks, events int) {
	gocv.PutText(mat, r.Title, image.Pt(16, 28), gocv.FontHersheyDuplex, 0.75, white, 2)
	gocv.PutText(mat, headerLine(stats, tracks, events), image.Pt(16, 54), gocv.FontHersheySimplex, 0.6, subtle, 2)
}

func drawZones(mat *gocv.Mat, zones []models.Zone) {
	for _, z := range zones {
		rect := image.Rect(z.X1, z.Y1, z.X2, z.Y2)
		blendRect(mat, rect, zoneColor, 0.08)
		gocv.Rectangle(mat, rect, zoneColor, 2)
		gocv.PutText(mat, z.Name, image.Pt(z.X1+6, z.Y1+22), gocv.FontHersheySimplex, 0.65, zoneColor, 2)
	}
}

func drawTracks(mat *gocv.Mat, tracks []models.Track) {
	for _, t := range tracks {
		c := trackColor(t)
		blendRect(mat, t.Mask.Box, c, 0.15)
		gocv.Rectangle(mat, t.BBox, c, 2)

		label := trackLabel(t)
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.5, 1)
		x1 := t.BBox.Min.X
		labelY := max(size.Y+6, t.BBox.Min.Y-8)
		gocv.Rectangle(mat, image.Rect(x1, labelY-size.Y-6, x1+size.X+8, labelY+4), c, -1)
		gocv.PutText(mat, label, image.Pt(x1+4, labelY), gocv.FontHersheySimplex, 0.5, darkText, 1)
	}
}

func drawObjectPanel(mat *gocv.Mat, tracks []models.Track) {
	h, w := mat.Rows(), mat.Cols()
	panelX := w - sidePanel + 10

	gocv.PutText(mat, "Objects", image.Pt(panelX+12, 100), gocv.FontHersheyDuplex, 0.7, white, 2)

	y := 128
	maxItems := max(3, min(14, (h-170)/36))
	for i, t := range tracks {
		if i == maxItems {
			break
		}
		gocv.Circle(mat, image.Pt(panelX+16, y-4), 6, trackColor(t), -1)
		label := t.Label
		if label == "" {
			label = "object"
		}
		gocv.PutText(mat, fmt.Sprintf("#%d %s", t.ID, label), image.Pt(panelX+30, y),
			gocv.FontHersheySimplex, 0.5, color.RGBA{R: 248, G: 233, B: 220, A: 255}, 1)
		if t.Text != "" {
			gocv.PutText(mat, "OCR "+t.Text, image.Pt(panelX+30, y+16),
				gocv.FontHersheySimplex, 0.45, color.RGBA{R: 253, G: 197, B: 147, A: 255}, 1)
		}
		y += 34
	}
}

func drawEventFeed(mat *gocv.Mat, events []models.Event) {
	h := mat.Rows()
	gocv.PutText(mat, "Event Feed", image.Pt(16, h-80), gocv.FontHersheyDuplex, 0.65, white, 2)

	y := h - 54
	start := max(0, len(events)-3)
	for _, ev := range events[start:] {
		gocv.PutText(mat, feedLine(ev), image.Pt(16, y), gocv.FontHersheySimplex, 0.5, severityColor(ev.Severity), 1)
		y += 24
	}
}
