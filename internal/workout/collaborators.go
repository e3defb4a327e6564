package workout

import (
	"context"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
)

// Trainer is the part of a fitness machine the engine drives.
type Trainer interface {
	SubscribeControlPoint()
	UnsubscribeControlPoint()
	RequestControl()
	Reset()
	Start()
	Pause()
	Stop()
	SetTargetPower(watts int) int
	SetTargetLevel(level int) int
	SetGrade(percent float64) float64
	RemoteControlAcquired() bool
	Connected() bool
	PendingCommands() int
}

var _ Trainer = (*device.FitnessMachine)(nil)

// ProgramSource hands out deep copies of stored programs.
type ProgramSource interface {
	Program(id int) (Program, error)
}

var _ ProgramSource = (*Catalog)(nil)

// Telemetry is the engine's view of the data container.
type Telemetry interface {
	Snapshot() telemetry.Snapshot
	Sample(dt time.Duration) telemetry.Snapshot
	StartLap()
	SetSegment(seg *telemetry.SegmentInfo)
	SetWorkoutTime(elapsed, total time.Duration)
	SetGradient(percent float64)
	Reset()
}

var _ Telemetry = (*telemetry.Container)(nil)

// LogSink receives one row per telemetry sample.
type LogSink interface {
	AppendRow(s telemetry.Snapshot) error
	Close(avg, max telemetry.Dataset) error
	Discard() error
}

// TrackWriter builds an activity file with one lap per segment.
type TrackWriter interface {
	NewLap(start time.Time)
	UpdateLapValues(s telemetry.Snapshot)
	AddTrackPoint(t time.Time, distanceKm float64, d telemetry.Dataset)
	Save(path string) error
}

// Alerter is told once per segment that it is about to end. next is nil for
// the last segment.
type Alerter interface {
	SegmentEnding(next *telemetry.SegmentInfo, remaining time.Duration)
}

// Session summarizes one finished workout.
type Session struct {
	ID                string
	Program           string
	Mode              Mode
	StartedAt         time.Time
	Duration          time.Duration
	SegmentsCompleted int
	Distance          float64 // km
	Energy            float64 // kJ
	Average           telemetry.Dataset
	Max               telemetry.Dataset
	Saved             bool
}

type SessionRecorder interface {
	Record(ctx context.Context, s Session) error
}

// Outputs are the optional collaborators of an engine. Nil factories and
// nil interfaces are skipped.
type Outputs struct {
	NewLogSink     func(start time.Time) (LogSink, error)
	NewTrackWriter func(start time.Time) (w TrackWriter, path string, err error)
	Alerter        Alerter
	Recorder       SessionRecorder
}
