package ftms

import "fmt"

// Heart Rate Measurement flag bits
const (
	hrFlagUint16BPM     = 0x01
	hrFlagContactMask   = 0x06 // bits 1-2, collapsed into a single "contact detected" bool
	hrFlagEnergyPresent = 0x08
	hrFlagRRPresent     = 0x10
)

// HeartRateMeasurement is one decoded 0x2A37 notification.
type HeartRateMeasurement struct {
	SensorContact  bool
	BPM            uint16
	RRIntervals    []uint16 // raw 1/1024 s units, arrival order
	EnergyExpended *uint16  // kJ, nil when not sent
}

// DecodeHeartRate decodes a Heart Rate Measurement notification.
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func DecodeHeartRate(buf []byte) (HeartRateMeasurement, error) {
	var m HeartRateMeasurement
	r := frameReader{buf: buf}

	flags, err := r.u8("flags")
	if err != nil {
		return m, fmt.Errorf("heart rate measurement: %w", err)
	}
	m.SensorContact = flags&hrFlagContactMask != 0

	if flags&hrFlagUint16BPM != 0 {
		m.BPM, err = r.u16("bpm")
	} else {
		var bpm uint8
		bpm, err = r.u8("bpm")
		m.BPM = uint16(bpm)
	}
	if err != nil {
		return m, fmt.Errorf("heart rate measurement: %w", err)
	}

	if flags&hrFlagEnergyPresent != 0 {
		energy, err := r.u16("energy expended")
		if err != nil {
			return m, fmt.Errorf("heart rate measurement: %w", err)
		}
		m.EnergyExpended = &energy
	}

	m.RRIntervals = []uint16{}
	if flags&hrFlagRRPresent != 0 {
		for r.remaining() >= 2 {
			rr, _ := r.u16("rr interval")
			m.RRIntervals = append(m.RRIntervals, rr)
		}
	}
	return m, nil
}
