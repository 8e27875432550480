// Package postprocessing derives temporal events (loitering, zone entry and exit) from the
// per-frame track set.
package postprocessing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"kepler-vision-go/internal/models"
)

// Config holds the analyzer thresholds. Zero values fall back to the defaults.
type Config struct {
	FPS                  float64
	DwellSeconds         float64
	StationaryDistancePx float64
	CooldownFrames       int
	ZoneEntryThreshold   int
	HistoryLimit         int
	Zones                []models.Zone
}

func DefaultConfig() Config {
	return Config{
		FPS:                  30,
		DwellSeconds:         3,
		StationaryDistancePx: 40,
		CooldownFrames:       60,
		ZoneEntryThreshold:   5,
		HistoryLimit:         600,
	}
}

// CooldownKey identifies one event stream for cooldown purposes. Zone is empty for
// stationary warnings.
type CooldownKey struct {
	TrackID int
	Kind    models.EventType
	Zone    string
}

func (k CooldownKey) String() string {
	if k.Zone == "" {
		return fmt.Sprintf("%d|%s", k.TrackID, k.Kind)
	}
	return fmt.Sprintf("%d|%s|%s", k.TrackID, k.Kind, k.Zone)
}

type zoneKey struct {
	trackID int
	zone    string
}

// Analyzer is not safe for concurrent use; it belongs to a single run.
type Analyzer struct {
	cfg          Config
	window       int
	historyLimit int

	history    map[int]*history
	zoneFrames map[zoneKey]int
	zoneActive map[zoneKey]bool
	lastSent   map[CooldownKey]int
	eventLog   []models.Event
}

func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.FPS < 1 {
		cfg.FPS = def.FPS
	}
	if cfg.DwellSeconds <= 0 {
		cfg.DwellSeconds = def.DwellSeconds
	}
	if cfg.StationaryDistancePx <= 0 {
		cfg.StationaryDistancePx = def.StationaryDistancePx
	}
	if cfg.CooldownFrames < 1 {
		cfg.CooldownFrames = def.CooldownFrames
	}
	if cfg.ZoneEntryThreshold < 1 {
		cfg.ZoneEntryThreshold = def.ZoneEntryThreshold
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = def.HistoryLimit
	}

	zones := make([]models.Zone, len(cfg.Zones))
	for i, z := range cfg.Zones {
		zones[i] = z.Normalized()
	}
	cfg.Zones = zones

	window := max(1, int(cfg.DwellSeconds*cfg.FPS))
	a := &Analyzer{
		cfg:          cfg,
		window:       window,
		historyLimit: max(window+10, cfg.HistoryLimit),
		history:      make(map[int]*history),
		zoneFrames:   make(map[zoneKey]int),
		zoneActive:   make(map[zoneKey]bool),
		lastSent:     make(map[CooldownKey]int),
	}

	log.Debug().
		Int("dwell_frames", a.window).
		Int("history_limit", a.historyLimit).
		Int("cooldown_frames", cfg.CooldownFrames).
		Int("zones", len(zones)).
		Msg("Event analyzer initialized")

	return a
}

// Update consumes one frame's tracks and returns the events raised on this frame.
func (a *Analyzer) Update(tracks []models.Track, frameIndex int) []models.Event {
	var events []models.Event
	present := make(map[int]bool, len(tracks))

	for _, tr := range tracks {
		present[tr.ID] = true
		pos := Position(tr)

		h, ok := a.history[tr.ID]
		if !ok {
			h = newHistory(a.historyLimit)
			a.history[tr.ID] = h
		}
		h.push(sample{pos: pos, frame: frameIndex})

		if ev, ok := a.checkStationary(tr.ID, h, frameIndex); ok {
			events = append(events, ev)
		}
		events = append(events, a.checkZones(tr.ID, pos, frameIndex)...)
	}

	for k := range a.zoneFrames {
		if !present[k.trackID] {
			delete(a.zoneFrames, k)
		}
	}
	for k := range a.zoneActive {
		if !present[k.trackID] {
			delete(a.zoneActive, k)
		}
	}

	a.eventLog = append(a.eventLog, events...)
	return events
}

// Forget drops all state for tracks the tracker has evicted.
func (a *Analyzer) Forget(trackIDs []int) {
	if len(trackIDs) == 0 {
		return
	}
	gone := make(map[int]bool, len(trackIDs))
	for _, id := range trackIDs {
		gone[id] = true
		delete(a.history, id)
	}
	for k := range a.lastSent {
		if gone[k.TrackID] {
			delete(a.lastSent, k)
		}
	}
	for k := range a.zoneFrames {
		if gone[k.trackID] {
			delete(a.zoneFrames, k)
		}
	}
	for k := range a.zoneActive {
		if gone[k.trackID] {
			delete(a.zoneActive, k)
		}
	}
}

// Zones returns the normalized zones.
func (a *Analyzer) Zones() []models.Zone {
	return a.cfg.Zones
}

// EventLog returns every event emitted in this run, in emission order.
func (a *Analyzer) EventLog() []models.Event {
	return a.eventLog
}

// Tracked returns the number of track ids with retained history.
func (a *Analyzer) Tracked() int {
	return len(a.history)
}

// DwellFrames is the stationary window length in frames.
func (a *Analyzer) DwellFrames() int {
	return a.window
}

// Position prefers the planar position and falls back to the box center.
func Position(tr models.Track) models.Point2D {
	if tr.WorldPosition != nil {
		return *tr.WorldPosition
	}
	return tr.Center()
}

func (a *Analyzer) checkStationary(trackID int, h *history, frameIndex int) (models.Event, bool) {
	if h.len() < a.window {
		return models.Event{}, false
	}
	first := h.at(h.len() - a.window).pos
	last := h.newest().pos
	if math.Hypot(last.X-first.X, last.Y-first.Y) > a.cfg.StationaryDistancePx {
		return models.Event{}, false
	}

	key := CooldownKey{TrackID: trackID, Kind: models.EventStationaryWarning}
	if !a.canEmit(key, frameIndex) {
		return models.Event{}, false
	}
	return a.emit(key, frameIndex, models.SeverityWarning,
		fmt.Sprintf("Object %d stationary for ~%.1fs", trackID, float64(a.window)/a.cfg.FPS)), true
}

func (a *Analyzer) checkZones(trackID int, pos models.Point2D, frameIndex int) []models.Event {
	var events []models.Event
	for _, zone := range a.cfg.Zones {
		zk := zoneKey{trackID: trackID, zone: zone.Name}
		wasActive := a.zoneActive[zk]

		if zone.Contains(pos) {
			a.zoneFrames[zk]++
			if !wasActive && a.zoneFrames[zk] >= a.cfg.ZoneEntryThreshold {
				key := CooldownKey{TrackID: trackID, Kind: models.EventZoneEntry, Zone: zone.Name}
				if a.canEmit(key, frameIndex) {
					events = append(events, a.emit(key, frameIndex, models.SeverityInfo,
						fmt.Sprintf("Object %d entered zone '%s'", trackID, zone.Name)))
				}
				// Confirmed inside even when the entry event itself was held back.
				a.zoneActive[zk] = true
			}
			continue
		}

		a.zoneFrames[zk] = 0
		if wasActive {
			key := CooldownKey{TrackID: trackID, Kind: models.EventZoneExit, Zone: zone.Name}
			if a.canEmit(key, frameIndex) {
				events = append(events, a.emit(key, frameIndex, models.SeverityInfo,
					fmt.Sprintf("Object %d left zone '%s'", trackID, zone.Name)))
			}
			a.zoneActive[zk] = false
		}
	}
	return events
}

// canEmit checks if the cooldown for key has elapsed
func (a *Analyzer) canEmit(key CooldownKey, frameIndex int) bool {
	last, ok := a.lastSent[key]
	if !ok {
		return true
	}
	if frameIndex-last >= a.cfg.CooldownFrames {
		return true
	}
	log.Trace().Str("key", key.String()).Int("frame", frameIndex).Msg("Event blocked by cooldown")
	return false
}

func (a *Analyzer) emit(key CooldownKey, frameIndex int, severity models.Severity, details string) models.Event {
	a.lastSent[key] = frameIndex
	return models.Event{
		Frame:    frameIndex,
		Type:     key.Kind,
		ObjectID: key.TrackID,
		Details:  details,
		Severity: severity,
	}
}
