package ftms

import "fmt"

// Feature is the Fitness Machine Feature characteristic.
type Feature struct {
	MachineFeatures       uint32
	TargetSettingFeatures uint32
}

// Target setting feature bits this system cares about
const (
	TargetSettingSpeed      = 1 << 0
	TargetSettingIncline    = 1 << 1
	TargetSettingResistance = 1 << 2
	TargetSettingPower      = 1 << 3
	TargetSettingSimulation = 1 << 13
)

func (f Feature) SupportsTargetPower() bool {
	return f.TargetSettingFeatures&TargetSettingPower != 0
}

func (f Feature) SupportsTargetResistance() bool {
	return f.TargetSettingFeatures&TargetSettingResistance != 0
}

func (f Feature) SupportsSimulation() bool {
	return f.TargetSettingFeatures&TargetSettingSimulation != 0
}

func DecodeFeature(buf []byte) (Feature, error) {
	var f Feature
	r := frameReader{buf: buf}
	var err error
	if f.MachineFeatures, err = r.u32("machine features"); err != nil {
		return Feature{}, fmt.Errorf("fitness machine feature: %w", err)
	}
	if f.TargetSettingFeatures, err = r.u32("target setting features"); err != nil {
		return Feature{}, fmt.Errorf("fitness machine feature: %w", err)
	}
	return f, nil
}

// Range is a min/max/increment triple as read from the Supported * Range
// characteristics.
type Range struct {
	Min       float64
	Max       float64
	Increment float64
}

// Clamp limits v to [Min, Max].
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// DecodeSupportedPowerRange decodes i16 min, i16 max, u16 increment (watts).
func DecodeSupportedPowerRange(buf []byte) (Range, error) {
	r := frameReader{buf: buf}
	lo, err := r.i16("minimum power")
	if err != nil {
		return Range{}, fmt.Errorf("supported power range: %w", err)
	}
	hi, err := r.i16("maximum power")
	if err != nil {
		return Range{}, fmt.Errorf("supported power range: %w", err)
	}
	inc, err := r.u16("power increment")
	if err != nil {
		return Range{}, fmt.Errorf("supported power range: %w", err)
	}
	return Range{Min: float64(lo), Max: float64(hi), Increment: float64(inc)}, nil
}

// DecodeSupportedResistanceRange decodes three i16 values with 0.1 resolution.
func DecodeSupportedResistanceRange(buf []byte) (Range, error) {
	r := frameReader{buf: buf}
	var vals [3]int16
	for i, name := range []string{"minimum resistance", "maximum resistance", "resistance increment"} {
		v, err := r.i16(name)
		if err != nil {
			return Range{}, fmt.Errorf("supported resistance range: %w", err)
		}
		vals[i] = v
	}
	return Range{Min: float64(vals[0]) / 10, Max: float64(vals[1]) / 10, Increment: float64(vals[2]) / 10}, nil
}

// TrainingStatus is the Training Status characteristic without the optional
// string field.
type TrainingStatus struct {
	Flags  uint8
	Status uint8
}

func (t TrainingStatus) String() string {
	switch t.Status {
	case 0x00:
		return "Other"
	case 0x01:
		return "Idle"
	case 0x02:
		return "Warming Up"
	case 0x03:
		return "Low Intensity Interval"
	case 0x04:
		return "High Intensity Interval"
	case 0x05:
		return "Recovery Interval"
	case 0x06:
		return "Isometric"
	case 0x07:
		return "Heart Rate Control"
	case 0x08:
		return "Fitness Test"
	case 0x0D:
		return "Cool Down"
	case 0x0E:
		return "Watt Control"
	case 0x0F:
		return "Manual Mode"
	default:
		return fmt.Sprintf("Status 0x%02X", t.Status)
	}
}

func DecodeTrainingStatus(buf []byte) (TrainingStatus, error) {
	r := frameReader{buf: buf}
	flags, err := r.u8("flags")
	if err != nil {
		return TrainingStatus{}, fmt.Errorf("training status: %w", err)
	}
	status, err := r.u8("status")
	if err != nil {
		return TrainingStatus{}, fmt.Errorf("training status: %w", err)
	}
	return TrainingStatus{Flags: flags, Status: status}, nil
}

// MachineStatus is a Fitness Machine Status notification: an op code and
// whatever parameter bytes follow it.
type MachineStatus struct {
	OpCode uint8
	Params []byte
}

func (s MachineStatus) String() string {
	switch s.OpCode {
	case 0x01:
		return "Reset"
	case 0x02:
		return "Stopped or Paused by User"
	case 0x03:
		return "Stopped by Safety Key"
	case 0x04:
		return "Started or Resumed by User"
	case 0x05:
		return "Target Speed Changed"
	case 0x06:
		return "Target Incline Changed"
	case 0x07:
		return "Target Resistance Level Changed"
	case 0x08:
		return "Target Power Changed"
	case 0xFF:
		return "Control Permission Lost"
	default:
		return fmt.Sprintf("Status 0x%02X", s.OpCode)
	}
}

// ControlLost reports whether the trainer revoked remote control.
func (s MachineStatus) ControlLost() bool {
	return s.OpCode == 0xFF
}

func DecodeMachineStatus(buf []byte) (MachineStatus, error) {
	if len(buf) == 0 {
		return MachineStatus{}, fmt.Errorf("fitness machine status: %w", ErrShortBuffer)
	}
	return MachineStatus{OpCode: buf[0], Params: append([]byte(nil), buf[1:]...)}, nil
}
