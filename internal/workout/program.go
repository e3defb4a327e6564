// Package workout holds workout programs, the JSON program catalog and the
// engine that executes a program against a trainer.
package workout

import (
	"fmt"
	"math"
	"time"
)

type SegmentType string

const (
	SegmentPower SegmentType = "Power"
	SegmentLevel SegmentType = "Level"
)

// Segment is one timed phase of a program. Elapsed and StartTime are runtime
// state of an executing copy and are not persisted.
type Segment struct {
	Type     SegmentType `json:"Type"`
	Duration int         `json:"Duration"` // seconds
	Setting  int         `json:"Setting"`

	Elapsed   time.Duration `json:"-"`
	StartTime time.Time     `json:"-"`
}

func (s Segment) Length() time.Duration {
	return time.Duration(s.Duration) * time.Second
}

func (s Segment) Validate() error {
	if s.Type != SegmentPower && s.Type != SegmentLevel {
		return fmt.Errorf("segment type %q: must be %s or %s", s.Type, SegmentPower, SegmentLevel)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("segment duration %d: must be positive", s.Duration)
	}
	if s.Setting < 0 {
		return fmt.Errorf("segment setting %d: must not be negative", s.Setting)
	}
	return nil
}

type Program struct {
	Name     string    `json:"Name"`
	Segments []Segment `json:"Segments"`
}

// Clone returns a deep copy; an executing workout never shares segments with
// the catalog.
func (p Program) Clone() Program {
	c := Program{Name: p.Name}
	if p.Segments != nil {
		c.Segments = make([]Segment, len(p.Segments))
		copy(c.Segments, p.Segments)
	}
	return c
}

func (p Program) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Segments {
		total += s.Length()
	}
	return total
}

func (p Program) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("program without a name")
	}
	for i, s := range p.Segments {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("program %q segment %d: %w", p.Name, i, err)
		}
	}
	return nil
}

// ChartPoint is the start of a segment on the program profile chart.
type ChartPoint struct {
	Start   time.Duration
	Type    SegmentType
	Setting int
}

// Parameters are aggregates derived from a program. They are computed on
// demand and never stored.
type Parameters struct {
	Name          string
	TotalDuration time.Duration
	AvgPower      float64 // duration weighted, Power segments only
	MinPower      float64
	MaxPower      float64
	AvgLevel      float64 // duration weighted, Level segments only
	WorkKJ        float64
	Chart         []ChartPoint
}

func (p Program) Parameters() Parameters {
	params := Parameters{Name: p.Name, MinPower: math.Inf(1)}
	var powerSecs, levelSecs, powerSum, levelSum float64

	for _, s := range p.Segments {
		params.Chart = append(params.Chart, ChartPoint{Start: params.TotalDuration, Type: s.Type, Setting: s.Setting})
		params.TotalDuration += s.Length()

		secs := float64(s.Duration)
		setting := float64(s.Setting)
		switch s.Type {
		case SegmentPower:
			powerSecs += secs
			powerSum += setting * secs
			params.MinPower = math.Min(params.MinPower, setting)
			params.MaxPower = math.Max(params.MaxPower, setting)
		case SegmentLevel:
			levelSecs += secs
			levelSum += setting * secs
		}
	}

	if powerSecs > 0 {
		params.AvgPower = powerSum / powerSecs
		params.WorkKJ = powerSum / 1000
	} else {
		params.MinPower = 0
	}
	if levelSecs > 0 {
		params.AvgLevel = levelSum / levelSecs
	}
	return params
}
