package dashboard

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/app"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeBackend struct {
	mu       sync.Mutex
	toggled  []device.Type
	commands []workout.Command
	stopped  bool
	state    workout.State
	snapshot telemetry.Snapshot
}

func (f *fakeBackend) DeviceStatuses() []device.Status { return nil }
func (f *fakeBackend) Snapshot() telemetry.Snapshot    { return f.snapshot }
func (f *fakeBackend) EngineStatus() workout.Status    { return workout.Status{State: f.state} }
func (f *fakeBackend) Programs() []workout.Parameters  { return nil }
func (f *fakeBackend) TrainerInfo() app.TrainerInfo    { return app.TrainerInfo{} }
func (f *fakeBackend) OnAlert(func(app.Alert)) func()  { return func() {} }

func (f *fakeBackend) RecentSessions(context.Context, int) ([]workout.Session, error) {
	return nil, nil
}

func (f *fakeBackend) ToggleWanted(t device.Type) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggled = append(f.toggled, t)
}

func (f *fakeBackend) Put(cmd workout.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return !f.stopped
}

func TestController_KeyBindings(t *testing.T) {
	backend := &fakeBackend{state: workout.StatePaused}
	quits := 0
	c := NewController(backend, testLogger(), func() { quits++ })

	for _, r := range "htfpre+-sd" {
		require.True(t, c.OnRune(r), "key %q", r)
	}
	assert.False(t, c.OnRune('x'))

	assert.Equal(t, []device.Type{device.TypeHeartRateMonitor, device.TypeFitnessMachine}, backend.toggled)
	assert.Equal(t, []workout.Command{
		workout.Freeride{},
		workout.Pause{},
		workout.Start{},
		workout.End{},
		workout.Increase{},
		workout.Decrease{},
		workout.Save{},
		workout.Discard{},
	}, backend.commands)

	require.True(t, c.OnRune('='))
	assert.Equal(t, workout.Increase{}, backend.commands[len(backend.commands)-1])

	c.OnProgramSelected(2)
	assert.Equal(t, workout.Start{ProgramID: 2}, backend.commands[len(backend.commands)-1])

	assert.True(t, c.OnRune('q'))
	c.OnEscapeKey()
	assert.Equal(t, 2, quits)
}

func TestController_ResumeOnlyWhenPaused(t *testing.T) {
	for _, state := range []workout.State{workout.StateIdle, workout.StateRunning, workout.StateEnd} {
		backend := &fakeBackend{state: state}
		c := NewController(backend, testLogger(), func() {})
		assert.True(t, c.OnRune('r'))
		assert.Empty(t, backend.commands, "state %s", state)
	}
}

func TestController_GradeKeysStepFromCurrentGradient(t *testing.T) {
	backend := &fakeBackend{state: workout.StateRunning}
	backend.snapshot.Momentary.Gradient = 2.5
	c := NewController(backend, testLogger(), func() {})

	require.True(t, c.OnRune(']'))
	require.True(t, c.OnRune('['))
	assert.Equal(t, []workout.Command{
		workout.SetGrade{Percent: 3.5},
		workout.SetGrade{Percent: 1.5},
	}, backend.commands)
}

func TestController_EngineStopped(t *testing.T) {
	backend := &fakeBackend{stopped: true}
	c := NewController(backend, testLogger(), func() {})
	assert.True(t, c.OnRune('f'))
	assert.Len(t, backend.commands, 1)
}

func TestLogBuffer(t *testing.T) {
	b := NewLogBuffer()
	b.max = 3

	_, err := fmt.Fprint(b, "one\ntwo\nthr")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, b.Tail(10))

	_, err = fmt.Fprint(b, "ee\nfour\nfive\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four", "five"}, b.Tail(10))
	assert.Equal(t, []string{"five"}, b.Tail(1))
	assert.Nil(t, b.Tail(0))

	logger := log.New(b, "", 0)
	logger.Printf("Device[hr]: connected")
	assert.Equal(t, "four\nfive\nDevice[hr]: connected", b.String())
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", formatClock(0))
	assert.Equal(t, "01:05", formatClock(65*time.Second))
	assert.Equal(t, "1:00:01", formatClock(time.Hour+time.Second))
	assert.Equal(t, "00:02", formatClock(1600*time.Millisecond))
}

func TestFormatDevices(t *testing.T) {
	text := formatDevices([]device.Status{
		{Name: "HRM-Pro", Address: "AA:BB", Type: device.TypeHeartRateMonitor, State: device.StateConnected, Wanted: true, Connected: true},
		{Name: "FitnessMachine", Type: device.TypeFitnessMachine, State: device.StateScanning, Wanted: true, HoldsScanLock: true, DroppedCommands: 2},
	})
	assert.Contains(t, text, "HeartRateMonitor[white] HRM-Pro (AA:BB)")
	assert.Contains(t, text, "Connected  [green]wanted[white]  [green]connected[white]  [gray]scan[white]")
	assert.Contains(t, text, "FitnessMachine (-)")
	assert.Contains(t, text, "[green]scan[white]")
	assert.Contains(t, text, "dropped 2")
}

func TestFormatSnapshot(t *testing.T) {
	text := formatSnapshot(telemetry.Snapshot{
		Momentary:       telemetry.Dataset{Power: 210, Cadence: 90, HeartRate: 141, Speed: 31.5, HRZone: 3},
		Average:         telemetry.Dataset{Power: 190},
		Max:             telemetry.Dataset{Power: 350},
		Distance:        12.5,
		TotalEnergy:     420,
		WorkoutTime:     10 * time.Minute,
		WorkoutDuration: time.Hour,
	})
	assert.Contains(t, text, "210")
	assert.Contains(t, text, "avg   190  max   350")
	assert.Contains(t, text, "31.5")
	assert.Contains(t, text, "Distance 12.50 km   Energy 420 kJ")
	assert.Contains(t, text, "Time 10:00 / 1:00:00")
}

func TestFormatEngine(t *testing.T) {
	status := workout.Status{
		State:        workout.StateRunning,
		Mode:         workout.ModeProgram,
		Program:      "Sweet spot",
		SegmentCount: 3,
		Segment: &telemetry.SegmentInfo{
			Index: 1, Type: "Power", Setting: 200, Target: 220,
			Duration: time.Minute, Elapsed: 15 * time.Second,
		},
		SegmentsConsumed:  2,
		SegmentsRemaining: 1,
		Multiplier:        110,
		ControlAcquired:   true,
	}
	text := formatEngine(status, &app.Alert{
		Next:      &telemetry.SegmentInfo{Type: "Level", Target: 5},
		Remaining: 3 * time.Second,
	})
	assert.Contains(t, text, "[green]RUNNING[white]  PROGRAM  \"Sweet spot\"")
	assert.Contains(t, text, "Intensity 110%")
	assert.Contains(t, text, "Segment 2/3  Power 200 -> 220  00:45 left")
	assert.Contains(t, text, "Segments done 2, remaining 1")
	assert.Contains(t, text, "Next: Level 5 in 00:03")

	ended := formatEngine(workout.Status{State: workout.StateEnd, Mode: workout.ModeProgram, FailedToStart: true}, &app.Alert{Remaining: time.Second})
	assert.Contains(t, ended, "did not grant control")
	assert.Contains(t, ended, "save or")
	assert.Contains(t, ended, "Last segment ends in 00:01")
}

func TestFormatProgram(t *testing.T) {
	p := workout.Program{
		Name: "Mixed",
		Segments: []workout.Segment{
			{Type: workout.SegmentPower, Duration: 60, Setting: 100},
			{Type: workout.SegmentLevel, Duration: 60, Setting: 5},
		},
	}
	text := formatProgram(p.Parameters())
	assert.Contains(t, text, "Mixed")
	assert.Contains(t, text, "Duration 02:00")
	assert.Contains(t, text, "Power avg 100 W  min 100 W  max 100 W")
	assert.Contains(t, text, "Level avg 5.0")
	assert.Contains(t, text, " 2. 01:00  Level 5")
}

func TestFormatTrainer(t *testing.T) {
	assert.Contains(t, formatTrainer(app.TrainerInfo{}), "not read")

	feature := ftms.Feature{TargetSettingFeatures: ftms.TargetSettingPower | ftms.TargetSettingSimulation}
	text := formatTrainer(app.TrainerInfo{
		Feature:      &feature,
		PowerRange:   ftms.Range{Min: 25, Max: 2000, Increment: 1},
		LastResponse: &ftms.ControlPointResponse{RequestOp: ftms.OpSetTargetPower, Result: ftms.ResultSuccess},
	})
	assert.Contains(t, text, "[green]erg[white] 25-2000 W  [gray]level[white]  [green]grade[white]")
	assert.Contains(t, text, "[green]Set Target Power -> Success[white]")

	denied := formatTrainer(app.TrainerInfo{
		Feature:      &feature,
		LastResponse: &ftms.ControlPointResponse{RequestOp: ftms.OpRequestControl, Result: ftms.ResultControlNotPermitted},
	})
	assert.Contains(t, denied, "[red]Request Control -> Control Not Permitted[white]")
}

func TestFormatSessions(t *testing.T) {
	assert.Contains(t, formatSessions(nil), "No recorded workouts")

	started := time.Date(2024, time.March, 5, 18, 30, 0, 0, time.UTC)
	text := formatSessions([]workout.Session{
		{Program: "Sweet spot", Mode: workout.ModeProgram, StartedAt: started, Duration: 45 * time.Minute,
			Distance: 21.34, Average: telemetry.Dataset{Power: 205}, Saved: true},
		{Program: "Freeride", Mode: workout.ModeFreeride, StartedAt: started.Add(24 * time.Hour), Duration: 90 * time.Second},
	})
	assert.Contains(t, text, "Mar 05 18:30  Sweet spot       45:00  21.3 km  205 W avg\n")
	assert.Contains(t, text, "Mar 06 18:30  Freeride         01:30  0.0 km  0 W avg  [gray]discarded[white]")
}
