package overlay

import (
	"fmt"
	"image/color"
	"strings"

	"kepler-vision-go/internal/models"
)

// palette is indexed by cluster id.
var palette = []color.RGBA{
	{R: 255, G: 139, B: 18, A: 255},
	{R: 153, G: 211, B: 52, A: 255},
	{R: 11, G: 158, B: 245, A: 255},
	{R: 68, G: 68, B: 239, A: 255},
	{R: 241, G: 102, B: 99, A: 255},
	{R: 233, G: 165, B: 14, A: 255},
}

func trackColor(t models.Track) color.RGBA {
	idx := t.ID
	if t.ClusterID != nil {
		idx = *t.ClusterID
	}
	if idx < 0 {
		idx = -idx
	}
	return palette[idx%len(palette)]
}

// trackLabel renders "#id | label | Gk | text", skipping missing parts.
func trackLabel(t models.Track) string {
	label := t.Label
	if label == "" {
		label = "object"
	}
	parts := []string{fmt.Sprintf("#%d", t.ID), label}
	if t.ClusterID != nil {
		parts = append(parts, fmt.Sprintf("G%d", *t.ClusterID))
	}
	if t.Text != "" {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, " | ")
}

func headerLine(stats models.FrameStats, tracks, events int) string {
	return fmt.Sprintf("Frame %05d   FPS %05.1f   Tracks %02d   Events %02d",
		stats.FrameIdx, stats.ProcessingFPS, tracks, events)
}

const maxFeedChars = 95

func feedLine(ev models.Event) string {
	kind := string(ev.Type)
	if kind == "" {
		kind = "EVENT"
	}
	line := fmt.Sprintf("[%s] %s", kind, ev.Details)
	if len(line) > maxFeedChars {
		line = line[:maxFeedChars]
	}
	return line
}

func severityColor(s models.Severity) color.RGBA {
	switch s {
	case models.SeverityWarning:
		return color.RGBA{R: 255, G: 190, B: 80, A: 255}
	case models.SeverityCritical:
		return color.RGBA{R: 255, G: 70, B: 70, A: 255}
	default:
		return color.RGBA{R: 255, G: 210, B: 100, A: 255}
	}
}
