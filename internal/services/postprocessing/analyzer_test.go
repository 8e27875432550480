package postprocessing

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-vision-go/internal/models"
)

func trackAt(id, cx, cy int) models.Track {
	box := image.Rect(cx-10, cy-10, cx+10, cy+10)
	return models.Track{ID: id, BBox: box, Label: "person"}
}

func ofType(events []models.Event, kind models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

// zoneConfig disables stationary warnings for zone-only scenarios.
func zoneConfig(zones ...models.Zone) Config {
	cfg := DefaultConfig()
	cfg.DwellSeconds = 1000
	cfg.Zones = zones
	return cfg
}

var door = models.Zone{Name: "door", X1: 0, Y1: 0, X2: 100, Y2: 100}

func TestStationaryWarningOncePerCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FPS = 10
	cfg.DwellSeconds = 1
	cfg.CooldownFrames = 100
	a := NewAnalyzer(cfg)
	require.Equal(t, 10, a.DwellFrames())

	var all []models.Event
	for frame := 0; frame < 150; frame++ {
		all = append(all, a.Update([]models.Track{trackAt(1, 300, 300)}, frame)...)
	}

	require.Len(t, all, 2)
	assert.Equal(t, 9, all[0].Frame)
	assert.Equal(t, 109, all[1].Frame)
	for _, ev := range all {
		assert.Equal(t, models.EventStationaryWarning, ev.Type)
		assert.Equal(t, models.SeverityWarning, ev.Severity)
		assert.Equal(t, 1, ev.ObjectID)
		assert.Equal(t, "Object 1 stationary for ~1.0s", ev.Details)
	}
	assert.Equal(t, all, a.EventLog())
}

func TestMovingObjectIsNotStationary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FPS = 10
	cfg.DwellSeconds = 1
	a := NewAnalyzer(cfg)

	for frame := 0; frame < 50; frame++ {
		events := a.Update([]models.Track{trackAt(1, 100+frame*10, 300)}, frame)
		assert.Empty(t, events)
	}
}

func TestZoneEntryAndExitEmittedOnce(t *testing.T) {
	a := NewAnalyzer(zoneConfig(door))

	var all []models.Event
	frame := 0
	for ; frame < 3; frame++ {
		all = append(all, a.Update([]models.Track{trackAt(7, 300, 300)}, frame)...)
	}
	for ; frame < 13; frame++ {
		all = append(all, a.Update([]models.Track{trackAt(7, 50, 50)}, frame)...)
	}
	for ; frame < 20; frame++ {
		all = append(all, a.Update([]models.Track{trackAt(7, 300, 300)}, frame)...)
	}

	entries := ofType(all, models.EventZoneEntry)
	exits := ofType(all, models.EventZoneExit)
	require.Len(t, entries, 1)
	require.Len(t, exits, 1)

	// Fifth consecutive in-zone frame confirms the entry.
	assert.Equal(t, 7, entries[0].Frame)
	assert.Equal(t, "Object 7 entered zone 'door'", entries[0].Details)
	assert.Equal(t, models.SeverityInfo, entries[0].Severity)

	assert.Equal(t, 13, exits[0].Frame)
	assert.Equal(t, "Object 7 left zone 'door'", exits[0].Details)
}

func TestZoneBoundaryFlickerIsSuppressed(t *testing.T) {
	a := NewAnalyzer(zoneConfig(door))

	var all []models.Event
	for frame := 0; frame < 40; frame++ {
		pos := trackAt(1, 300, 300)
		if frame%2 == 0 {
			pos = trackAt(1, 95, 50)
		}
		all = append(all, a.Update([]models.Track{pos}, frame)...)
	}
	assert.Empty(t, all, "alternating frames never reach the hysteresis threshold")
}

func TestZoneFlickerAfterEntryDoesNotDuplicate(t *testing.T) {
	a := NewAnalyzer(zoneConfig(door))

	var all []models.Event
	frame := 0
	for ; frame < 8; frame++ {
		all = append(all, a.Update([]models.Track{trackAt(1, 50, 50)}, frame)...)
	}
	for ; frame < 30; frame++ {
		pos := trackAt(1, 50, 50)
		if frame%2 == 0 {
			pos = trackAt(1, 300, 300)
		}
		all = append(all, a.Update([]models.Track{pos}, frame)...)
	}

	assert.Len(t, ofType(all, models.EventZoneEntry), 1)
	assert.Len(t, ofType(all, models.EventZoneExit), 1)
}

func TestZoneCooldownBlocksQuickReentry(t *testing.T) {
	a := NewAnalyzer(zoneConfig(door))

	var all []models.Event
	frame := 0
	run := func(n int, tr models.Track) {
		for i := 0; i < n; i++ {
			all = append(all, a.Update([]models.Track{tr}, frame)...)
			frame++
		}
	}
	run(6, trackAt(1, 50, 50))   // entry at frame 4
	run(2, trackAt(1, 300, 300)) // exit at frame 6
	run(6, trackAt(1, 50, 50))   // re-entry confirmed at frame 12, within cooldown
	run(2, trackAt(1, 300, 300)) // exit at frame 14, within cooldown
	run(70, trackAt(1, 50, 50))  // re-entry at frame 20 blocked, zone stays active
	run(1, trackAt(1, 300, 300)) // exit at frame 86, cooldown elapsed

	entries := ofType(all, models.EventZoneEntry)
	exits := ofType(all, models.EventZoneExit)
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].Frame)
	require.Len(t, exits, 2)
	assert.Equal(t, 6, exits[0].Frame)
	assert.Equal(t, 86, exits[1].Frame)
}

func TestWorldPositionPreferredOverBoxCenter(t *testing.T) {
	a := NewAnalyzer(zoneConfig(door))

	var all []models.Event
	for frame := 0; frame < 5; frame++ {
		tr := trackAt(3, 900, 900)
		tr.WorldPosition = &models.Point2D{X: 10, Y: 10}
		all = append(all, a.Update([]models.Track{tr}, frame)...)
	}
	require.Len(t, all, 1)
	assert.Equal(t, models.EventZoneEntry, all[0].Type)
}

func TestZoneCountersDroppedWhenTrackDisappears(t *testing.T) {
	a := NewAnalyzer(zoneConfig(door))

	frame := 0
	for ; frame < 3; frame++ {
		assert.Empty(t, a.Update([]models.Track{trackAt(1, 50, 50)}, frame))
	}
	// Track 1 absent for one frame.
	assert.Empty(t, a.Update(nil, frame))
	frame++

	for i := 0; i < 2; i++ {
		assert.Empty(t, a.Update([]models.Track{trackAt(1, 50, 50)}, frame), "counter restarted from zero")
		frame++
	}
	events := a.Update([]models.Track{trackAt(1, 50, 50)}, frame)
	assert.Empty(t, events)
	frame++
	events = a.Update([]models.Track{trackAt(1, 50, 50)}, frame)
	frame++
	events = append(events, a.Update([]models.Track{trackAt(1, 50, 50)}, frame)...)
	assert.Len(t, ofType(events, models.EventZoneEntry), 1)
}

func TestInvertedZoneIsNormalized(t *testing.T) {
	a := NewAnalyzer(zoneConfig(models.Zone{Name: "dock", X1: 200, Y1: 200, X2: 100, Y2: 100}))
	assert.Equal(t, models.Zone{Name: "dock", X1: 100, Y1: 100, X2: 200, Y2: 200}, a.Zones()[0])

	var all []models.Event
	for frame := 0; frame < 5; frame++ {
		all = append(all, a.Update([]models.Track{trackAt(1, 150, 150)}, frame)...)
	}
	assert.Len(t, all, 1)
}

func TestNoZonesNoZoneEvents(t *testing.T) {
	a := NewAnalyzer(zoneConfig())
	for frame := 0; frame < 20; frame++ {
		assert.Empty(t, a.Update([]models.Track{trackAt(1, 50, 50)}, frame))
	}
}

func TestForgetDropsHistory(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	a.Update([]models.Track{trackAt(1, 50, 50), trackAt(2, 200, 200)}, 0)
	require.Equal(t, 2, a.Tracked())

	a.Forget([]int{1})
	assert.Equal(t, 1, a.Tracked())
}

func TestHistoryRingKeepsNewest(t *testing.T) {
	h := newHistory(3)
	for i := 0; i < 5; i++ {
		h.push(sample{frame: i})
	}
	require.Equal(t, 3, h.len())
	assert.Equal(t, 2, h.at(0).frame)
	assert.Equal(t, 4, h.newest().frame)
}

func TestCooldownKeyString(t *testing.T) {
	assert.Equal(t, "4|STATIONARY_WARNING", CooldownKey{TrackID: 4, Kind: models.EventStationaryWarning}.String())
	assert.Equal(t, "4|ZONE_ENTRY|door", CooldownKey{TrackID: 4, Kind: models.EventZoneEntry, Zone: "door"}.String())
}
