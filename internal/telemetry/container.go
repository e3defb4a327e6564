package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
)

// Snapshot is an immutable copy of the container state. Readers get their own
// copy and never share memory with writers.
type Snapshot struct {
	Version uint64
	TakenAt time.Time

	Momentary  Dataset
	Average    Dataset
	Max        Dataset
	LapAverage Dataset
	LapMax     Dataset
	Samples    int
	LapSamples int

	WorkoutTime     time.Duration // elapsed running time
	WorkoutDuration time.Duration // planned total, zero for freeride
	Segment         *SegmentInfo
	Distance        float64 // km
	TotalEnergy     float64 // kJ
	User            User
}

func (s Snapshot) clone() Snapshot {
	if s.Segment != nil {
		seg := *s.Segment
		s.Segment = &seg
	}
	return s
}

// Container is the shared telemetry model. Writers serialize on a mutex and
// publish a fresh snapshot after every change; readers load the latest
// snapshot atomically and never block on writers.
type Container struct {
	mu        sync.Mutex
	cur       Snapshot
	now       func() time.Time
	published atomic.Pointer[Snapshot]
}

func NewContainer(user User) *Container {
	c := &Container{now: time.Now}
	c.cur.User = user
	c.publishLocked()
	return c
}

// Snapshot returns the latest published state.
func (c *Container) Snapshot() Snapshot {
	return c.published.Load().clone()
}

func (c *Container) update(fn func(s *Snapshot)) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.cur)
	return c.publishLocked()
}

func (c *Container) publishLocked() Snapshot {
	c.cur.Version++
	c.cur.TakenAt = c.now()
	s := c.cur.clone()
	c.published.Store(&s)
	return s.clone()
}

// UpdateHeartRate stores the latest heart rate and its zone.
func (c *Container) UpdateHeartRate(m ftms.HeartRateMeasurement) {
	c.update(func(s *Snapshot) {
		s.Momentary.HeartRate = float64(m.BPM)
		s.Momentary.HRZone = float64(HRZone(float64(m.BPM), s.User.MaxHR))
	})
}

// UpdateBike copies the fields present in d. Absent fields keep their last
// value; heart rate from the trainer is ignored in favour of the strap.
func (c *Container) UpdateBike(d ftms.IndoorBikeData) {
	c.update(func(s *Snapshot) {
		if d.InstantaneousSpeedKmh != nil {
			s.Momentary.Speed = *d.InstantaneousSpeedKmh
		}
		if d.InstantaneousCadenceRpm != nil {
			s.Momentary.Cadence = *d.InstantaneousCadenceRpm
		}
		if d.InstantaneousPowerWatts != nil {
			s.Momentary.Power = float64(*d.InstantaneousPowerWatts)
		}
	})
}

// SetGradient records the simulated gradient shown with the ride values.
func (c *Container) SetGradient(percent float64) {
	c.update(func(s *Snapshot) { s.Momentary.Gradient = percent })
}

// Sample folds the momentary values into the running statistics and
// integrates distance and energy over dt.
func (c *Container) Sample(dt time.Duration) Snapshot {
	return c.update(func(s *Snapshot) {
		m := s.Momentary
		s.Average = runningMean(s.Average, m, s.Samples)
		s.LapAverage = runningMean(s.LapAverage, m, s.LapSamples)
		if s.Samples == 0 {
			s.Max = m
		} else {
			s.Max = s.Max.Max(m)
		}
		if s.LapSamples == 0 {
			s.LapMax = m
		} else {
			s.LapMax = s.LapMax.Max(m)
		}
		s.Samples++
		s.LapSamples++

		secs := dt.Seconds()
		s.Distance += m.Speed * secs / 3600
		s.TotalEnergy += m.Power * secs / 1000
	})
}

// StartLap resets the lap series at a segment boundary.
func (c *Container) StartLap() {
	c.update(func(s *Snapshot) {
		s.LapAverage = Dataset{}
		s.LapMax = Dataset{}
		s.LapSamples = 0
	})
}

// SetSegment stores a copy of seg, or clears it when nil.
func (c *Container) SetSegment(seg *SegmentInfo) {
	c.update(func(s *Snapshot) {
		if seg == nil {
			s.Segment = nil
			return
		}
		cp := *seg
		s.Segment = &cp
	})
}

func (c *Container) SetWorkoutTime(elapsed, total time.Duration) {
	c.update(func(s *Snapshot) {
		s.WorkoutTime = elapsed
		s.WorkoutDuration = total
	})
}

func (c *Container) SetUser(u User) {
	c.update(func(s *Snapshot) {
		s.User = u
		s.Momentary.HRZone = float64(HRZone(s.Momentary.HeartRate, u.MaxHR))
	})
}

// Reset zeroes everything scoped to a workout. Momentary values and the user
// survive.
func (c *Container) Reset() {
	c.update(func(s *Snapshot) {
		*s = Snapshot{Version: s.Version, Momentary: s.Momentary, User: s.User}
	})
}
