// Package activity builds lap/track activity files (TCX and FIT) from the
// samples of a workout. A lap is opened at every segment boundary.
package activity

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
)

const (
	FormatTCX = "tcx"
	FormatFIT = "fit"
)

// Writer is the lap/track writer the workout engine feeds.
type Writer interface {
	NewLap(start time.Time)
	UpdateLapValues(s telemetry.Snapshot)
	AddTrackPoint(t time.Time, distanceKm float64, d telemetry.Dataset)
	Save(path string) error
}

// FileName is the activity file name of a workout started at start.
func FileName(start time.Time, format string) string {
	return start.Format("Activity-2006-01-02-150405.") + format
}

// Open returns a writer for format together with the path it should be saved to.
func Open(format, dir string, start time.Time, logger *log.Logger) (Writer, string, error) {
	switch format {
	case FormatTCX, "":
		return NewTCXWriter(start, logger), filepath.Join(dir, FileName(start, FormatTCX)), nil
	case FormatFIT:
		return NewFITWriter(start, logger), filepath.Join(dir, FileName(start, FormatFIT)), nil
	default:
		return nil, "", fmt.Errorf("unknown activity format %q", format)
	}
}

type trackPoint struct {
	Time       time.Time
	DistanceKm float64
	Data       telemetry.Dataset
}

type lap struct {
	Start time.Time
	End   time.Time

	startDistanceKm float64
	distanceKm      float64 // cumulative at the last update
	startEnergyKJ   float64
	energyKJ        float64

	Avg    telemetry.Dataset
	Max    telemetry.Dataset
	Points []trackPoint
}

func (l *lap) DistanceMeters() float64 {
	return (l.distanceKm - l.startDistanceKm) * 1000
}

func (l *lap) EnergyKJ() float64 {
	return l.energyKJ - l.startEnergyKJ
}

// Calories uses the kJ of mechanical work as kcal, the usual cycling
// approximation.
func (l *lap) Calories() int {
	return int(l.EnergyKJ() + 0.5)
}

func (l *lap) Duration() time.Duration {
	if l.End.Before(l.Start) {
		return 0
	}
	return l.End.Sub(l.Start)
}

// track accumulates laps and points; the file writers render it.
type track struct {
	start  time.Time
	logger *log.Logger

	mu   sync.Mutex
	laps []*lap
}

func newTrack(start time.Time, logger *log.Logger) *track {
	if logger == nil {
		panic("activity: logger cannot be nil")
	}
	return &track{start: start, logger: logger}
}

func (t *track) current() *lap {
	if len(t.laps) == 0 {
		return nil
	}
	return t.laps[len(t.laps)-1]
}

func (t *track) NewLap(start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := &lap{Start: start, End: start}
	if prev := t.current(); prev != nil {
		l.startDistanceKm, l.distanceKm = prev.distanceKm, prev.distanceKm
		l.startEnergyKJ, l.energyKJ = prev.energyKJ, prev.energyKJ
		if prev.End.After(start) {
			prev.End = start
		}
	}
	t.laps = append(t.laps, l)
}

// UpdateLapValues copies the lap aggregates of s into the current lap.
func (t *track) UpdateLapValues(s telemetry.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.current()
	if l == nil {
		return
	}
	l.Avg = s.LapAverage
	l.Max = s.LapMax
	l.distanceKm = s.Distance
	l.energyKJ = s.TotalEnergy
}

// AddTrackPoint appends a point to the current lap. Points before the first
// lap are dropped.
func (t *track) AddTrackPoint(at time.Time, distanceKm float64, d telemetry.Dataset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.current()
	if l == nil {
		return
	}
	l.Points = append(l.Points, trackPoint{Time: at, DistanceKm: distanceKm, Data: d})
	if at.After(l.End) {
		l.End = at
	}
}

// snapshot copies the laps for rendering outside the lock.
func (t *track) snapshot() []lap {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]lap, len(t.laps))
	for i, l := range t.laps {
		out[i] = *l
		out[i].Points = append([]trackPoint(nil), l.Points...)
	}
	return out
}
