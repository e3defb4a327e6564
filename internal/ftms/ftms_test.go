package ftms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHeartRate_8BitNoExtras(t *testing.T) {
	m, err := DecodeHeartRate([]byte{0x00, 0x4C})
	require.NoError(t, err)

	assert.Equal(t, uint16(76), m.BPM)
	assert.False(t, m.SensorContact)
	assert.Empty(t, m.RRIntervals)
	assert.Nil(t, m.EnergyExpended)
}

func TestDecodeHeartRate_16BitWithContactAndEnergy(t *testing.T) {
	// flags: uint16 bpm | contact bits | energy present
	m, err := DecodeHeartRate([]byte{0x0F, 0x2C, 0x01, 0x34, 0x12})
	require.NoError(t, err)

	assert.Equal(t, uint16(300), m.BPM)
	assert.True(t, m.SensorContact)
	require.NotNil(t, m.EnergyExpended)
	assert.Equal(t, uint16(0x1234), *m.EnergyExpended)
	assert.Empty(t, m.RRIntervals)
}

func TestDecodeHeartRate_ContactIsAMaskNotAnEnum(t *testing.T) {
	// "contact supported, not detected" (0b10 in bits 1-2) still reads as contact
	m, err := DecodeHeartRate([]byte{0x04, 0x50})
	require.NoError(t, err)
	assert.True(t, m.SensorContact)
}

func TestDecodeHeartRate_RRIntervals(t *testing.T) {
	m, err := DecodeHeartRate([]byte{0x10, 0x4C, 0xA0, 0x02})
	require.NoError(t, err)

	assert.Equal(t, uint16(76), m.BPM)
	assert.Equal(t, []uint16{672}, m.RRIntervals)
}

func TestDecodeHeartRate_RRStopsOnOddTrailingByte(t *testing.T) {
	// RR values are read while at least two bytes remain; the dangling byte is ignored.
	m, err := DecodeHeartRate([]byte{0x10, 0x4C, 0x00, 0xA0, 0x02})
	require.NoError(t, err)

	assert.Equal(t, uint16(76), m.BPM)
	assert.Equal(t, []uint16{0xA000}, m.RRIntervals)
}

func TestDecodeHeartRate_MultipleRR(t *testing.T) {
	m, err := DecodeHeartRate([]byte{0x10, 0x4C, 0xA0, 0x02, 0x00, 0x04})
	require.NoError(t, err)
	assert.Equal(t, []uint16{672, 1024}, m.RRIntervals)
}

func TestDecodeHeartRate_ShortBuffer(t *testing.T) {
	_, err := DecodeHeartRate(nil)
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeHeartRate([]byte{0x01, 0x4C})
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeHeartRate([]byte{0x08, 0x4C, 0x01})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeIndoorBikeData_SpeedCadencePower(t *testing.T) {
	buf := []byte{
		0x44, 0x00, // flags: cadence + power, bit0 clear so speed present
		0xC4, 0x09, // 25.00 km/h
		0xB4, 0x00, // 90 rpm
		0xC8, 0x00, // 200 W
	}
	d, err := DecodeIndoorBikeData(buf)
	require.NoError(t, err)

	require.NotNil(t, d.InstantaneousSpeedKmh)
	assert.InDelta(t, 25.0, *d.InstantaneousSpeedKmh, 1e-9)
	require.NotNil(t, d.InstantaneousCadenceRpm)
	assert.InDelta(t, 90.0, *d.InstantaneousCadenceRpm, 1e-9)
	require.NotNil(t, d.InstantaneousPowerWatts)
	assert.Equal(t, int16(200), *d.InstantaneousPowerWatts)

	assert.Nil(t, d.AverageSpeedKmh)
	assert.Nil(t, d.AverageCadenceRpm)
	assert.Nil(t, d.TotalDistanceMeters)
	assert.Nil(t, d.ResistanceLevel)
	assert.Nil(t, d.AveragePowerWatts)
	assert.Nil(t, d.Energy)
	assert.Nil(t, d.HeartRateBpm)
	assert.Nil(t, d.MetabolicEquivalent)
	assert.Nil(t, d.ElapsedTimeSeconds)
	assert.Nil(t, d.RemainingTimeSeconds)
}

func TestDecodeIndoorBikeData_MoreDataBitSuppressesSpeed(t *testing.T) {
	d, err := DecodeIndoorBikeData([]byte{0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, IndoorBikeData{}, d)
}

func TestDecodeIndoorBikeData_OffsetsAreCumulative(t *testing.T) {
	buf := []byte{
		0x71, 0x03, // no speed, distance, resistance, power, energy, heart rate
		0x10, 0x27, 0x00, // 10000 m
		0xF6, 0xFF, // resistance -10
		0x2C, 0x01, // 300 W
		0x64, 0x00, 0xE8, 0x03, 0x11, // energy 100 kJ, 1000 kJ/h, 17 kJ/min
		0x8C, // 140 bpm
	}
	d, err := DecodeIndoorBikeData(buf)
	require.NoError(t, err)

	assert.Nil(t, d.InstantaneousSpeedKmh)
	require.NotNil(t, d.TotalDistanceMeters)
	assert.Equal(t, uint32(10000), *d.TotalDistanceMeters)
	require.NotNil(t, d.ResistanceLevel)
	assert.Equal(t, int16(-10), *d.ResistanceLevel)
	require.NotNil(t, d.InstantaneousPowerWatts)
	assert.Equal(t, int16(300), *d.InstantaneousPowerWatts)
	require.NotNil(t, d.Energy)
	assert.Equal(t, EnergyTotals{TotalKJ: 100, PerHourKJ: 1000, PerMinuteKJ: 17}, *d.Energy)
	require.NotNil(t, d.HeartRateBpm)
	assert.Equal(t, uint8(140), *d.HeartRateBpm)
}

func TestDecodeIndoorBikeData_ShortBuffer(t *testing.T) {
	_, err := DecodeIndoorBikeData([]byte{0x40})
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeIndoorBikeData([]byte{0x41, 0x00, 0x10})
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Contains(t, err.Error(), "instantaneous power")
}

func TestIndoorBikeData_DecodeEncodeReproducesFrame(t *testing.T) {
	frames := [][]byte{
		{0x00, 0x00, 0x10, 0x0E},
		{0x01, 0x00},
		{0x44, 0x00, 0xC4, 0x09, 0xB4, 0x00, 0xC8, 0x00},
		{0x71, 0x03, 0x10, 0x27, 0x00, 0xF6, 0xFF, 0x2C, 0x01, 0x64, 0x00, 0xE8, 0x03, 0x11, 0x8C},
		{
			0xFE, 0x1F,
			0xC4, 0x09, // speed
			0xB8, 0x0B, // avg speed
			0xB4, 0x00, // cadence
			0xA5, 0x00, // avg cadence
			0x01, 0x02, 0x03, // distance
			0x05, 0x00, // resistance
			0xFA, 0x00, // power
			0xE6, 0x00, // avg power
			0x0A, 0x00, 0x58, 0x02, 0x0A, // energy
			0x96, // heart rate
			0x3C, // MET 6.0
			0x10, 0x0E, // elapsed
			0x08, 0x07, // remaining
		},
	}

	for _, frame := range frames {
		d, err := DecodeIndoorBikeData(frame)
		require.NoError(t, err)
		assert.Equal(t, frame, EncodeIndoorBikeData(d), "frame % X", frame)
	}
}

func TestEncodeControlPoint(t *testing.T) {
	cases := []struct {
		op    OpCode
		param int
		want  []byte
	}{
		{OpRequestControl, 0, []byte{0x00}},
		{OpReset, 0, []byte{0x01}},
		{OpSetTargetSpeed, 2550, []byte{0x02, 0xF6, 0x09}},
		{OpSetTargetIncline, -25, []byte{0x03, 0xE7, 0xFF}},
		{OpSetTargetLevel, 12, []byte{0x04, 0x0C}},
		{OpSetTargetPower, 250, []byte{0x05, 0xFA, 0x00}},
		{OpStartOrResume, 0, []byte{0x07}},
		{OpStopOrPause, StopParamStop, []byte{0x08, 0x01}},
		{OpStopOrPause, StopParamPause, []byte{0x08, 0x02}},
	}
	for _, tc := range cases {
		got, err := EncodeControlPoint(tc.op, tc.param)
		require.NoError(t, err, tc.op.String())
		assert.Equal(t, tc.want, got, tc.op.String())
	}

	assert.Equal(t, []byte{0x05, 0xFA, 0x00}, SetTargetPower(250))
	assert.Equal(t, []byte{0x08, 0x02}, Pause())
}

func TestEncodeControlPoint_RejectsBadParameters(t *testing.T) {
	_, err := EncodeControlPoint(OpSetTargetLevel, 256)
	assert.Error(t, err)
	_, err = EncodeControlPoint(OpSetTargetPower, 40000)
	assert.Error(t, err)
	_, err = EncodeControlPoint(OpStopOrPause, 3)
	assert.Error(t, err)
	_, err = EncodeControlPoint(OpCode(0x42), 0)
	assert.Error(t, err)
}

func TestDecodeControlPointResponse(t *testing.T) {
	r, err := DecodeControlPointResponse([]byte{0x80, 0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, OpRequestControl, r.RequestOp)
	assert.Equal(t, ResultSuccess, r.Result)
	assert.True(t, r.ControlAcquired())

	r, err = DecodeControlPointResponse([]byte{0x80, 0x05, 0x03})
	require.NoError(t, err)
	assert.Equal(t, OpSetTargetPower, r.RequestOp)
	assert.Equal(t, ResultInvalidParameter, r.Result)
	assert.False(t, r.ControlAcquired())

	r, err = DecodeControlPointResponse([]byte{0x80, 0x00, 0x05})
	require.NoError(t, err)
	assert.False(t, r.ControlAcquired())
	assert.Equal(t, "Request Control -> Control Not Permitted", r.String())
}

func TestDecodeControlPointResponse_Errors(t *testing.T) {
	_, err := DecodeControlPointResponse([]byte{0x05, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrNotResponse)

	_, err = DecodeControlPointResponse([]byte{0x80, 0x00})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeCapabilities(t *testing.T) {
	f, err := DecodeFeature([]byte{0x02, 0x40, 0x00, 0x00, 0x0C, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.True(t, f.SupportsTargetPower())
	assert.True(t, f.SupportsTargetResistance())

	p, err := DecodeSupportedPowerRange([]byte{0x00, 0x00, 0xD0, 0x07, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, Range{Min: 0, Max: 2000, Increment: 1}, p)
	assert.Equal(t, 2000.0, p.Clamp(2500))

	res, err := DecodeSupportedResistanceRange([]byte{0x00, 0x00, 0xE8, 0x03, 0x0A, 0x00})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.Max, 1e-9)
	assert.InDelta(t, 1.0, res.Increment, 1e-9)

	ts, err := DecodeTrainingStatus([]byte{0x00, 0x0E})
	require.NoError(t, err)
	assert.Equal(t, "Watt Control", ts.String())

	ms, err := DecodeMachineStatus([]byte{0xFF})
	require.NoError(t, err)
	assert.True(t, ms.ControlLost())

	_, err = DecodeSupportedPowerRange([]byte{0x00})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestCharacteristics(t *testing.T) {
	assert.Equal(t, CharUUIDHeartRateMeasurement, HeartRateMeasurementChar.UUID)
	assert.Equal(t, ServiceUUIDHeartRate, HeartRateMeasurementChar.Service)
	assert.Equal(t, "Heart Rate Measurement", HeartRateMeasurementChar.String())
	assert.Equal(t, "00002a38-0000-1000-8000-00805f9b34fb", Characteristic{UUID: "00002a38-0000-1000-8000-00805f9b34fb"}.String())
}

func TestSetIndoorBikeSimulation(t *testing.T) {
	req := SetIndoorBikeSimulation(Simulation{Grade: -250, Crr: DefaultCrr, Cw: DefaultCw})
	assert.Equal(t, []byte{0x11, 0x00, 0x00, 0x06, 0xFF, 0x28, 0x33}, req)

	grade, err := SimulationGrade(req)
	require.NoError(t, err)
	assert.InDelta(t, -2.5, grade, 1e-9)

	encoded, err := EncodeControlPoint(OpSetIndoorBikeSimulation, -250)
	require.NoError(t, err)
	assert.Equal(t, req, encoded)

	_, err = EncodeControlPoint(OpSetIndoorBikeSimulation, 40000)
	assert.Error(t, err)
	_, err = SimulationGrade(req[:4])
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = SimulationGrade(SetTargetPower(100))
	assert.Error(t, err)

	f, err := DecodeFeature([]byte{0x02, 0x40, 0x00, 0x00, 0x0C, 0x20, 0x00, 0x00})
	require.NoError(t, err)
	assert.True(t, f.SupportsSimulation())
	assert.Equal(t, "Set Indoor Bike Simulation", OpSetIndoorBikeSimulation.String())
}
