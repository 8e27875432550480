package models

// TrackRecord is the telemetry rendering of a track.
type TrackRecord struct {
	ID            int       `json:"id"`
	Label         string    `json:"label"`
	BBox          [4]int    `json:"bbox"`
	ClusterID     int       `json:"cluster_id"`
	OCRText       string    `json:"ocr_text"`
	WorldPosition []float64 `json:"world_position"`
}

func NewTrackRecord(t Track) TrackRecord {
	rec := TrackRecord{
		ID:            t.ID,
		Label:         t.Label,
		BBox:          [4]int{t.BBox.Min.X, t.BBox.Min.Y, t.BBox.Max.X, t.BBox.Max.Y},
		OCRText:       t.Text,
		WorldPosition: []float64{},
	}
	if rec.Label == "" {
		rec.Label = "object"
	}
	if t.ClusterID != nil {
		rec.ClusterID = *t.ClusterID
	}
	if t.WorldPosition != nil {
		rec.WorldPosition = []float64{t.WorldPosition.X, t.WorldPosition.Y}
	}
	return rec
}

// FrameRecord is the per-frame telemetry row.
type FrameRecord struct {
	Frame  int           `json:"frame"`
	Stats  FrameStats    `json:"stats"`
	Tracks []TrackRecord `json:"tracks"`
}

func NewFrameRecord(frameIndex int, stats FrameStats, tracks []Track) FrameRecord {
	rec := FrameRecord{Frame: frameIndex, Stats: stats, Tracks: make([]TrackRecord, 0, len(tracks))}
	for _, t := range tracks {
		rec.Tracks = append(rec.Tracks, NewTrackRecord(t))
	}
	return rec
}
