package jobs

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"kepler-vision-go/internal/apperr"
	"kepler-vision-go/internal/models"
)

// Submission bounds.
const (
	MinMaxFrames          = 10
	MaxMaxFrames          = 4000
	MinFPS                = 1
	MaxFPS                = 120
	MinOCRInterval        = 1
	MaxOCRInterval        = 300
	MinClusteringInterval = 1
	MaxClusteringInterval = 120
	MaxZoneNameLength     = 80
	MaxZoneCoordinate     = 10000
	MaxErrorMessageLength = 1000
)

// ValidateConfig checks the numeric bounds of a job configuration.
func ValidateConfig(cfg models.JobConfig) error {
	checks := []struct {
		name     string
		value    int
		min, max int
	}{
		{"max_frames", cfg.MaxFrames, MinMaxFrames, MaxMaxFrames},
		{"fps", cfg.FPS, MinFPS, MaxFPS},
		{"ocr_interval", cfg.OCRInterval, MinOCRInterval, MaxOCRInterval},
		{"clustering_interval", cfg.ClusteringInterval, MinClusteringInterval, MaxClusteringInterval},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return apperr.InvalidInput("jobs.Validate", "%s must be in [%d, %d]", c.name, c.min, c.max)
		}
	}
	return nil
}

// ValidateZones checks every zone and returns them normalized.
func ValidateZones(zones []models.Zone) ([]models.Zone, error) {
	out := make([]models.Zone, 0, len(zones))
	for i, z := range zones {
		z.Name = strings.TrimSpace(z.Name)
		if z.Name == "" || utf8.RuneCountInString(z.Name) > MaxZoneNameLength {
			return nil, apperr.InvalidInput("jobs.Validate", "zone %d: name must be 1-%d characters", i, MaxZoneNameLength)
		}
		for _, v := range []int{z.X1, z.Y1, z.X2, z.Y2} {
			if v < 0 || v > MaxZoneCoordinate {
				return nil, apperr.InvalidInput("jobs.Validate", "zone %q: coordinates must be in [0, %d]", z.Name, MaxZoneCoordinate)
			}
		}
		if z.X1 == z.X2 || z.Y1 == z.Y2 {
			return nil, apperr.InvalidInput("jobs.Validate", "zone %q: area must be greater than zero", z.Name)
		}
		out = append(out, z.Normalized())
	}
	return out, nil
}

// ParseZones decodes a JSON array of zones and validates it. Blank input means no zones.
func ParseZones(raw string) ([]models.Zone, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []models.Zone{}, nil
	}
	var zones []models.Zone
	if err := json.Unmarshal([]byte(raw), &zones); err != nil {
		return nil, apperr.InvalidInput("jobs.ParseZones", "zones_json must be a JSON array of zones")
	}
	return ValidateZones(zones)
}

// ParseBool accepts 1, true, yes and on (case-insensitive).
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
