package device

import (
	"sync"
	"testing"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/bt"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu    sync.Mutex
	hr    []ftms.HeartRateMeasurement
	bikes []ftms.IndoorBikeData
}

func (s *sinkRecorder) UpdateHeartRate(m ftms.HeartRateMeasurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hr = append(s.hr, m)
}

func (s *sinkRecorder) UpdateBike(d ftms.IndoorBikeData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bikes = append(s.bikes, d)
}

func (s *sinkRecorder) heartRates() []ftms.HeartRateMeasurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ftms.HeartRateMeasurement(nil), s.hr...)
}

func (s *sinkRecorder) bikeData() []ftms.IndoorBikeData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ftms.IndoorBikeData(nil), s.bikes...)
}

func TestHeartRateMonitor_SubscribesAndDecodes(t *testing.T) {
	strap := bt.NewMockPeripheral(testLogger(), bt.MockHeartRateMonitor, hrAddress, "HRM", 0)
	adapter := bt.NewMockAdapter(testLogger(), 0, strap)
	sink := &sinkRecorder{}
	hrm := NewHeartRateMonitor(fastConfig("hr", hrAddress), adapter, NewScanLock(), sink, testLogger())
	assert.Equal(t, TypeHeartRateMonitor, hrm.Type())

	hrm.SetWanted(true)
	runDevice(t, hrm.Device)

	require.Eventually(t, func() bool { return strap.Subscribed(ftms.CharUUIDHeartRateMeasurement) }, waitFor, tick)
	strap.Notify(ftms.CharUUIDHeartRateMeasurement, []byte{0x10, 0x4C, 0xA0, 0x02})
	strap.Notify(ftms.CharUUIDHeartRateMeasurement, []byte{0x01}) // malformed, ignored

	got := sink.heartRates()
	require.Len(t, got, 1)
	assert.Equal(t, uint16(76), got[0].BPM)
	assert.Equal(t, []uint16{672}, got[0].RRIntervals)
}

func TestFitnessMachine_ConnectSequence(t *testing.T) {
	trainer := bt.NewMockPeripheral(testLogger(), bt.MockTrainer, trainerAddress, "KICKR", 0)
	adapter := bt.NewMockAdapter(testLogger(), 0, trainer)
	sink := &sinkRecorder{}
	fm := NewFitnessMachine(fastConfig("trainer", trainerAddress), adapter, NewScanLock(), sink, testLogger())

	fm.SetWanted(true)
	runDevice(t, fm.Device)

	require.Eventually(t, func() bool {
		_, ok := fm.ResistanceRange()
		return ok
	}, waitFor, tick)

	var kinds []string
	for _, op := range trainer.Operations() {
		kinds = append(kinds, op.Kind+" "+op.Characteristic)
	}
	assert.Equal(t, []string{
		"subscribe " + ftms.CharUUIDIndoorBikeData,
		"subscribe " + ftms.CharUUIDTrainingStatus,
		"subscribe " + ftms.CharUUIDFitnessMachineStatus,
		"read " + ftms.CharUUIDFitnessMachineFeature,
		"read " + ftms.CharUUIDSupportedPowerRange,
		"read " + ftms.CharUUIDSupportedResistanceRange,
	}, kinds)

	feature, ok := fm.Feature()
	require.True(t, ok)
	assert.True(t, feature.SupportsTargetPower())
	assert.Equal(t, ftms.Range{Min: 25, Max: 2000, Increment: 1}, fm.PowerRange())

	speed, power := 30.0, int16(250)
	trainer.Notify(ftms.CharUUIDIndoorBikeData, ftms.EncodeIndoorBikeData(ftms.IndoorBikeData{
		InstantaneousSpeedKmh:   &speed,
		InstantaneousPowerWatts: &power,
	}))
	bikes := sink.bikeData()
	require.Len(t, bikes, 1)
	assert.Equal(t, int16(250), *bikes[0].InstantaneousPowerWatts)

	trainer.Notify(ftms.CharUUIDTrainingStatus, []byte{0x00, 0x0E})
	assert.Equal(t, "Watt Control", fm.TrainingStatus().String())
}

func TestFitnessMachine_ControlAcquisition(t *testing.T) {
	trainer := bt.NewMockPeripheral(testLogger(), bt.MockTrainer, trainerAddress, "KICKR", 0)
	adapter := bt.NewMockAdapter(testLogger(), 0, trainer)
	fm := NewFitnessMachine(fastConfig("trainer", trainerAddress), adapter, NewScanLock(), &sinkRecorder{}, testLogger())

	fm.SetWanted(true)
	runDevice(t, fm.Device)
	require.Eventually(t, fm.Connected, waitFor, tick)
	assert.False(t, fm.RemoteControlAcquired())
	_, ok := fm.LastResponse()
	assert.False(t, ok)

	fm.SubscribeControlPoint()
	fm.SubscribeControlPoint() // only queued once
	fm.RequestControl()
	require.Eventually(t, fm.RemoteControlAcquired, waitFor, tick)
	last, ok := fm.LastResponse()
	require.True(t, ok)
	assert.Equal(t, ftms.OpRequestControl, last.RequestOp)

	fm.Reset()
	require.Eventually(t, func() bool { return !fm.RemoteControlAcquired() }, waitFor, tick)

	fm.RequestControl()
	require.Eventually(t, fm.RemoteControlAcquired, waitFor, tick)

	assert.Equal(t, 2000, fm.SetTargetPower(5000))
	assert.Equal(t, 25, fm.SetTargetPower(3))
	assert.Equal(t, 255, fm.SetTargetLevel(300))
	require.Eventually(t, func() bool { return fm.PendingCommands() == 0 }, waitFor, tick)
	assert.Equal(t, int16(25), trainer.TargetPower())

	subscribes := 0
	for _, op := range trainer.Operations() {
		if op.Kind == "subscribe" && op.Characteristic == ftms.CharUUIDFitnessMachineControlPoint {
			subscribes++
		}
	}
	assert.Equal(t, 1, subscribes)

	// the trainer revoking control clears the flag
	trainer.Notify(ftms.CharUUIDFitnessMachineStatus, []byte{0xFF})
	assert.False(t, fm.RemoteControlAcquired())
}

func TestFitnessMachine_DeniedControl(t *testing.T) {
	trainer := bt.NewMockPeripheral(testLogger(), bt.MockTrainer, trainerAddress, "KICKR", 0)
	trainer.DenyControl(true)
	adapter := bt.NewMockAdapter(testLogger(), 0, trainer)
	fm := NewFitnessMachine(fastConfig("trainer", trainerAddress), adapter, NewScanLock(), &sinkRecorder{}, testLogger())

	fm.SetWanted(true)
	runDevice(t, fm.Device)
	require.Eventually(t, fm.Connected, waitFor, tick)
	fm.SubscribeControlPoint()
	fm.RequestControl()

	require.Eventually(t, func() bool {
		_, ok := fm.LastResponse()
		return ok
	}, waitFor, tick)
	r, _ := fm.LastResponse()
	assert.Equal(t, ftms.ResultControlNotPermitted, r.Result)
	assert.False(t, fm.RemoteControlAcquired())
}

func TestFitnessMachine_SetGrade(t *testing.T) {
	trainer := bt.NewMockPeripheral(testLogger(), bt.MockTrainer, trainerAddress, "KICKR", 0)
	adapter := bt.NewMockAdapter(testLogger(), 0, trainer)
	fm := NewFitnessMachine(fastConfig("trainer", trainerAddress), adapter, NewScanLock(), &sinkRecorder{}, testLogger())

	fm.SetWanted(true)
	runDevice(t, fm.Device)
	require.Eventually(t, fm.Connected, waitFor, tick)
	fm.SubscribeControlPoint()
	fm.RequestControl()
	require.Eventually(t, fm.RemoteControlAcquired, waitFor, tick)

	feature, ok := fm.Feature()
	require.True(t, ok)
	assert.True(t, feature.SupportsSimulation())

	assert.Equal(t, 4.5, fm.SetGrade(4.4))
	assert.Equal(t, 20.0, fm.SetGrade(35))
	assert.Equal(t, -2.0, fm.SetGrade(-2.1))
	require.Eventually(t, func() bool { return trainer.Grade() == -2.0 }, waitFor, tick)

	require.Eventually(t, func() bool {
		r, ok := fm.LastResponse()
		return ok && r.RequestOp == ftms.OpSetIndoorBikeSimulation
	}, waitFor, tick)
	last, ok := fm.LastResponse()
	require.True(t, ok)
	assert.Equal(t, ftms.OpSetIndoorBikeSimulation, last.RequestOp)
	assert.Equal(t, ftms.ResultSuccess, last.Result)

	fm.SetTargetPower(150)
	require.Eventually(t, func() bool { return trainer.Grade() == 0 }, waitFor, tick)
}
