// Package telemetry aggregates live trainer and heart rate values into
// momentary, average and maximum datasets for the whole workout and for the
// current lap.
package telemetry

import "time"

// Dataset is one set of ride values. HRZone is 0 when unknown, else 1-5.
type Dataset struct {
	Cadence   float64 // rpm
	Power     float64 // watts
	HeartRate float64 // bpm
	HRZone    float64
	Gradient  float64 // percent
	Speed     float64 // km/h
}

// Max returns the elementwise maximum of d and o.
func (d Dataset) Max(o Dataset) Dataset {
	return Dataset{
		Cadence:   max(d.Cadence, o.Cadence),
		Power:     max(d.Power, o.Power),
		HeartRate: max(d.HeartRate, o.HeartRate),
		HRZone:    max(d.HRZone, o.HRZone),
		Gradient:  max(d.Gradient, o.Gradient),
		Speed:     max(d.Speed, o.Speed),
	}
}

// runningMean updates avg with sample m as the (n+1)th value.
func runningMean(avg Dataset, m Dataset, n int) Dataset {
	step := func(a, v float64) float64 {
		return (v + float64(n)*a) / float64(n+1)
	}
	return Dataset{
		Cadence:   step(avg.Cadence, m.Cadence),
		Power:     step(avg.Power, m.Power),
		HeartRate: step(avg.HeartRate, m.HeartRate),
		HRZone:    step(avg.HRZone, m.HRZone),
		Gradient:  step(avg.Gradient, m.Gradient),
		Speed:     step(avg.Speed, m.Speed),
	}
}

// User is the rider profile used for zones and exports.
type User struct {
	Name  string
	MaxHR int
	FTP   int
}

// HRZone maps bpm to a five zone model on percent of maximum heart rate:
// zone 1 from 50%, 2 from 60%, 3 from 70%, 4 from 80%, 5 from 90%.
func HRZone(bpm float64, maxHR int) int {
	if maxHR <= 0 || bpm <= 0 {
		return 0
	}
	pct := bpm / float64(maxHR)
	switch {
	case pct >= 0.9:
		return 5
	case pct >= 0.8:
		return 4
	case pct >= 0.7:
		return 3
	case pct >= 0.6:
		return 2
	case pct >= 0.5:
		return 1
	default:
		return 0
	}
}

// SegmentInfo describes the segment a workout is executing. The engine owns
// the segment; containers and snapshots only ever hold copies.
type SegmentInfo struct {
	Index     int
	Type      string // Power or Level
	Setting   int
	Target    int // setting after the multiplier
	Duration  time.Duration
	Elapsed   time.Duration
	StartTime time.Time
}

func (s SegmentInfo) Remaining() time.Duration {
	if s.Elapsed >= s.Duration {
		return 0
	}
	return s.Duration - s.Elapsed
}
