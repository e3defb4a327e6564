package app

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/bt"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/config"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond

	hrAddress      = "AA:00:00:00:00:01"
	trainerAddress = "AA:00:00:00:00:02"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HeartRate: config.DeviceConfig{Address: hrAddress},
		Trainer:   config.DeviceConfig{Name: "KICKR"},
		StateFile: filepath.Join(dir, "state", "devices.json"),
		Bluetooth: config.BluetoothConfig{
			ScanTimeout: time.Second,
			CommandPoll: 10 * time.Millisecond,
		},
		User: config.UserConfig{Name: "Tester", MaxHR: 190, FTP: 250},
		Workout: config.WorkoutConfig{
			ProgramsFile:   filepath.Join(dir, "Programs.json"),
			LogDir:         filepath.Join(dir, "logs"),
			LogFormat:      "csv",
			ActivityDir:    filepath.Join(dir, "activities"),
			ActivityFormat: "tcx",
			HistoryDB:      filepath.Join(dir, "history.db"),
			EndGrace:       50 * time.Millisecond,
		},
	}
}

func fastEngine() workout.EngineConfig {
	return workout.EngineConfig{
		WarmupDelay:    -1,
		AcquireWait:    500 * time.Millisecond,
		AcquirePoll:    10 * time.Millisecond,
		TickInterval:   10 * time.Millisecond,
		SampleInterval: 200 * time.Millisecond,
	}
}

type fixture struct {
	app     *App
	hr      *bt.MockPeripheral
	trainer *bt.MockPeripheral
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	hr := bt.NewMockPeripheral(testLogger(), bt.MockHeartRateMonitor, hrAddress, "HRM", 50*time.Millisecond)
	trainer := bt.NewMockPeripheral(testLogger(), bt.MockTrainer, trainerAddress, "KICKR", 50*time.Millisecond)
	adapter := bt.NewMockAdapter(testLogger(), 0, hr, trainer)

	a, err := NewWithAdapter(cfg, adapter, testLogger(), WithEngineConfig(fastEngine()))
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return &fixture{app: a, hr: hr, trainer: trainer}
}

// stateRecorder collects every engine state it sees.
type stateRecorder struct {
	mu   sync.Mutex
	seen []workout.State
}

func recordStates(t *testing.T, e *workout.Engine) *stateRecorder {
	r := &stateRecorder{}
	ch := make(chan workout.Status, 256)
	unregister := e.ListenStatus(ch)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				r.mu.Lock()
				if len(r.seen) == 0 || r.seen[len(r.seen)-1] != s.State {
					r.seen = append(r.seen, s.State)
				}
				r.mu.Unlock()
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() {
		unregister()
		close(done)
	})
	return r
}

func (r *stateRecorder) saw(s workout.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.seen {
		if v == s {
			return true
		}
	}
	return false
}

func TestApp_ConnectsConfiguredDevices(t *testing.T) {
	cfg := testConfig(t)
	f := newFixture(t, cfg)
	f.app.Start()

	// the heart rate strap has an address, the trainer only a name
	require.Eventually(t, f.app.HeartRate.Connected, waitFor, tick)
	assert.False(t, f.app.Trainer.Wanted())

	f.app.ToggleWanted(device.TypeFitnessMachine)
	require.Eventually(t, f.app.Trainer.Connected, waitFor, tick)
	assert.Equal(t, trainerAddress, f.app.Trainer.Address())

	require.Eventually(t, func() bool {
		info := f.app.TrainerInfo()
		return info.Feature != nil && info.PowerRange.Max == 2000
	}, waitFor, tick)
	info := f.app.TrainerInfo()
	assert.True(t, info.Feature.SupportsTargetPower())
	assert.True(t, info.Feature.SupportsSimulation())
	assert.Equal(t, ftms.Range{Min: 25, Max: 2000, Increment: 1}, info.PowerRange)
	assert.Nil(t, info.LastResponse)

	require.Eventually(t, func() bool {
		return f.app.Data.Snapshot().Momentary.HeartRate > 0 && f.app.Data.Snapshot().Momentary.Power > 0
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(cfg.StateFile)
		if err != nil {
			return false
		}
		var data preferencesData
		if json.Unmarshal(raw, &data) != nil {
			return false
		}
		return data.AddressByDeviceType["FitnessMachine"] == trainerAddress &&
			data.AddressByDeviceType["HeartRateMonitor"] == hrAddress
	}, waitFor, tick)

	f.app.ToggleWanted(device.TypeHeartRateMonitor)
	require.Eventually(t, func() bool { return !f.hr.IsConnected() }, waitFor, tick)
}

func TestApp_RemembersAddresses(t *testing.T) {
	cfg := testConfig(t)
	prefs := newPreferences(cfg.StateFile, testLogger())
	prefs.setAddress(device.TypeFitnessMachine, trainerAddress)

	f := newFixture(t, cfg)
	assert.Equal(t, trainerAddress, f.app.Trainer.Address())

	f.app.Start()
	assert.True(t, f.app.Trainer.Wanted())
	require.Eventually(t, f.app.Trainer.Connected, waitFor, tick)
}

func TestApp_RunsAndAutoSavesWorkout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trainer = config.DeviceConfig{Address: trainerAddress}
	require.NoError(t, workout.NewCatalog(cfg.Workout.ProgramsFile, testLogger()).SaveProgram([]workout.Program{{
		Name: "Short",
		Segments: []workout.Segment{
			{Type: workout.SegmentPower, Duration: 1, Setting: 150},
			{Type: workout.SegmentPower, Duration: 1, Setting: 200},
		},
	}}))

	f := newFixture(t, cfg)
	require.Equal(t, 1, f.app.Catalog.Len())
	states := recordStates(t, f.app.Engine)

	alerts := make(chan Alert, 8)
	defer f.app.OnAlert(func(a Alert) {
		select {
		case alerts <- a:
		default:
		}
	})()

	f.app.Start()
	require.Eventually(t, f.app.Trainer.Connected, waitFor, tick)
	require.Eventually(t, func() bool { return f.app.Trainer.PendingCommands() == 0 }, waitFor, tick)

	require.True(t, f.app.Engine.Put(workout.Start{ProgramID: 0}))
	require.Eventually(t, func() bool { return states.saw(workout.StateRunning) }, waitFor, tick)
	require.Eventually(t, func() bool { return f.trainer.TargetPower() == 200 }, waitFor, tick)

	// END is saved by the grace timer and the engine returns to IDLE
	require.Eventually(t, func() bool {
		return states.saw(workout.StateEnd) && f.app.Engine.Status().State == workout.StateIdle
	}, waitFor, tick)

	select {
	case a := <-alerts:
		require.NotNil(t, a.Next)
		assert.Equal(t, 200, a.Next.Target)
	case <-time.After(waitFor):
		t.Fatal("no segment alert")
	}

	logs, err := filepath.Glob(filepath.Join(cfg.Workout.LogDir, "Workout-*.csv"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	tracks, err := filepath.Glob(filepath.Join(cfg.Workout.ActivityDir, "Activity-*.tcx"))
	require.NoError(t, err)
	assert.Len(t, tracks, 1)

	info := f.app.TrainerInfo()
	require.NotNil(t, info.LastResponse)
	assert.Equal(t, ftms.ResultSuccess, info.LastResponse.Result)

	sessions, err := f.app.RecentSessions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Short", sessions[0].Program)
	assert.Equal(t, 2, sessions[0].SegmentsCompleted)
	assert.True(t, sessions[0].Saved)
}

func TestApp_DiscardBeforeGrace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trainer = config.DeviceConfig{Address: trainerAddress}
	cfg.Workout.EndGrace = time.Hour

	f := newFixture(t, cfg)
	f.app.Start()
	require.Eventually(t, f.app.Trainer.Connected, waitFor, tick)

	require.True(t, f.app.Engine.Put(workout.Freeride{}))
	require.Eventually(t, func() bool { return f.app.Engine.Status().State == workout.StateRunning }, waitFor, tick)
	require.True(t, f.app.Engine.Put(workout.End{}))
	require.Eventually(t, func() bool { return f.app.Engine.Status().State == workout.StateEnd }, waitFor, tick)
	require.True(t, f.app.Engine.Put(workout.Discard{}))
	require.Eventually(t, func() bool { return f.app.Engine.Status().State == workout.StateIdle }, waitFor, tick)

	logs, err := filepath.Glob(filepath.Join(cfg.Workout.LogDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, logs)

	sessions, err := f.app.RecentSessions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, workout.ModeFreeride, sessions[0].Mode)
	assert.False(t, sessions[0].Saved)
}

func TestNewWithAdapter_InvalidPrograms(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Workout.ProgramsFile, []byte("{not json"), 0o644))

	adapter := bt.NewMockAdapter(testLogger(), 0)
	_, err := NewWithAdapter(cfg, adapter, testLogger())
	assert.Error(t, err)
}
