package activity

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/tormoder/fit"
)

// FITWriter renders a FIT activity file: one record per track point, one lap
// message per lap and a single cycling session.
type FITWriter struct {
	*track
}

func NewFITWriter(start time.Time, logger *log.Logger) *FITWriter {
	return &FITWriter{track: newTrack(start, logger)}
}

func clampU8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(math.Round(v), math.MaxUint8-1)))
}

func clampU16(v float64) uint16 {
	return uint16(math.Max(0, math.Min(math.Round(v), math.MaxUint16-1)))
}

func clampU32(v float64) uint32 {
	return uint32(math.Max(0, math.Min(math.Round(v), math.MaxUint32-1)))
}

// Scaled FIT units: distance in cm, speed in mm/s, time in ms.
func fitDistance(meters float64) uint32 { return clampU32(meters * 100) }
func fitSpeed(kmh float64) uint16       { return clampU16(kmh / 3.6 * 1000) }
func fitTime(d time.Duration) uint32    { return clampU32(float64(d.Milliseconds())) }

func (w *FITWriter) file() (*fit.File, error) {
	h := fit.NewHeader(fit.V20, true)
	f, err := fit.NewFile(fit.FileTypeActivity, h)
	if err != nil {
		return nil, fmt.Errorf("new fit file: %w", err)
	}
	f.FileId.TimeCreated = w.start

	act, err := f.Activity()
	if err != nil {
		return nil, fmt.Errorf("fit activity: %w", err)
	}

	laps := w.snapshot()
	end := w.start

	startEvent := fit.NewEventMsg()
	startEvent.Timestamp = w.start
	startEvent.Event = fit.EventTimer
	startEvent.EventType = fit.EventTypeStart
	act.Events = append(act.Events, startEvent)

	var (
		totalSecs, totalDistance  float64
		totalCalories             int
		powerSecs, hrSecs         float64 // duration weighted lap averages
		maxPower, maxHR, maxSpeed float64
	)

	for _, l := range laps {
		for _, p := range l.Points {
			rec := fit.NewRecordMsg()
			rec.Timestamp = p.Time
			rec.Distance = fitDistance(p.DistanceKm * 1000)
			rec.Speed = fitSpeed(p.Data.Speed)
			rec.Cadence = clampU8(p.Data.Cadence)
			rec.HeartRate = clampU8(p.Data.HeartRate)
			rec.Power = clampU16(p.Data.Power)
			act.Records = append(act.Records, rec)
		}

		lm := fit.NewLapMsg()
		lm.Timestamp = l.End
		lm.StartTime = l.Start
		lm.TotalElapsedTime = fitTime(l.Duration())
		lm.TotalTimerTime = fitTime(l.Duration())
		lm.TotalDistance = fitDistance(l.DistanceMeters())
		lm.MaxSpeed = fitSpeed(l.Max.Speed)
		lm.TotalCalories = clampU16(float64(l.Calories()))
		lm.AvgHeartRate = clampU8(l.Avg.HeartRate)
		lm.MaxHeartRate = clampU8(l.Max.HeartRate)
		lm.AvgPower = clampU16(l.Avg.Power)
		lm.MaxPower = clampU16(l.Max.Power)
		lm.AvgCadence = clampU8(l.Avg.Cadence)
		lm.Event = fit.EventLap
		lm.EventType = fit.EventTypeStop
		lm.LapTrigger = fit.LapTriggerTime
		act.Laps = append(act.Laps, lm)

		secs := l.Duration().Seconds()
		totalSecs += secs
		totalDistance += l.DistanceMeters()
		totalCalories += l.Calories()
		powerSecs += l.Avg.Power * secs
		hrSecs += l.Avg.HeartRate * secs
		maxPower = math.Max(maxPower, l.Max.Power)
		maxHR = math.Max(maxHR, l.Max.HeartRate)
		maxSpeed = math.Max(maxSpeed, l.Max.Speed)
		if l.End.After(end) {
			end = l.End
		}
	}

	stopEvent := fit.NewEventMsg()
	stopEvent.Timestamp = end
	stopEvent.Event = fit.EventTimer
	stopEvent.EventType = fit.EventTypeStopAll
	act.Events = append(act.Events, stopEvent)

	s := fit.NewSessionMsg()
	s.Timestamp = end
	s.StartTime = w.start
	s.Sport = fit.SportCycling
	s.SubSport = fit.SubSportIndoorCycling
	s.TotalElapsedTime = fitTime(end.Sub(w.start))
	s.TotalTimerTime = clampU32(totalSecs * 1000)
	s.TotalDistance = fitDistance(totalDistance)
	s.TotalCalories = clampU16(float64(totalCalories))
	s.MaxSpeed = fitSpeed(maxSpeed)
	s.MaxPower = clampU16(maxPower)
	s.MaxHeartRate = clampU8(maxHR)
	if totalSecs > 0 {
		s.AvgPower = clampU16(powerSecs / totalSecs)
		s.AvgHeartRate = clampU8(hrSecs / totalSecs)
	}
	s.NumLaps = uint16(len(laps))
	act.Sessions = append(act.Sessions, s)

	am := fit.NewActivityMsg()
	am.Timestamp = end
	am.TotalTimerTime = s.TotalTimerTime
	am.NumSessions = 1
	act.Activity = am

	return f, nil
}

func (w *FITWriter) Save(path string) error {
	f, err := w.file()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create activity dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fit.Encode(out, f, binary.LittleEndian); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("encode fit: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.logger.Printf("Activity: FIT saved to %s", path)
	return nil
}
