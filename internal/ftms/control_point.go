package ftms

import (
	"fmt"
	"math"
)

// OpCode is a Fitness Machine Control Point request op code.
type OpCode byte

const (
	OpRequestControl          OpCode = 0x00
	OpReset                   OpCode = 0x01
	OpSetTargetSpeed          OpCode = 0x02 // u16, 0.01 km/h
	OpSetTargetIncline        OpCode = 0x03 // i16, 0.1 %
	OpSetTargetLevel          OpCode = 0x04 // u8
	OpSetTargetPower          OpCode = 0x05 // i16, watts
	OpStartOrResume           OpCode = 0x07
	OpStopOrPause             OpCode = 0x08 // u8 parameter, see StopParam*
	OpSetIndoorBikeSimulation OpCode = 0x11 // see Simulation
	OpResponseCode            OpCode = 0x80
)

// Parameter byte of OpStopOrPause
const (
	StopParamStop  = 0x01
	StopParamPause = 0x02
)

func (o OpCode) String() string {
	switch o {
	case OpRequestControl:
		return "Request Control"
	case OpReset:
		return "Reset"
	case OpSetTargetSpeed:
		return "Set Target Speed"
	case OpSetTargetIncline:
		return "Set Target Incline"
	case OpSetTargetLevel:
		return "Set Target Level"
	case OpSetTargetPower:
		return "Set Target Power"
	case OpStartOrResume:
		return "Start/Resume"
	case OpStopOrPause:
		return "Stop/Pause"
	case OpSetIndoorBikeSimulation:
		return "Set Indoor Bike Simulation"
	case OpResponseCode:
		return "Response"
	default:
		return fmt.Sprintf("OpCode 0x%02X", byte(o))
	}
}

// EncodeControlPoint builds a control point request. param is ignored for op
// codes without a parameter and range-checked for the rest. For
// OpSetIndoorBikeSimulation param is the grade, sent with no wind and the
// default rolling and wind resistance coefficients.
func EncodeControlPoint(op OpCode, param int) ([]byte, error) {
	switch op {
	case OpRequestControl, OpReset, OpStartOrResume:
		return []byte{byte(op)}, nil
	case OpSetTargetSpeed:
		if param < 0 || param > math.MaxUint16 {
			return nil, fmt.Errorf("%v: parameter %d out of u16 range", op, param)
		}
		return appendU16([]byte{byte(op)}, uint16(param)), nil
	case OpSetTargetIncline, OpSetTargetPower:
		if param < math.MinInt16 || param > math.MaxInt16 {
			return nil, fmt.Errorf("%v: parameter %d out of i16 range", op, param)
		}
		return appendU16([]byte{byte(op)}, uint16(int16(param))), nil
	case OpSetTargetLevel:
		if param < 0 || param > math.MaxUint8 {
			return nil, fmt.Errorf("%v: parameter %d out of u8 range", op, param)
		}
		return []byte{byte(op), byte(param)}, nil
	case OpStopOrPause:
		if param != StopParamStop && param != StopParamPause {
			return nil, fmt.Errorf("%v: parameter must be 0x01 (stop) or 0x02 (pause), got %d", op, param)
		}
		return []byte{byte(op), byte(param)}, nil
	case OpSetIndoorBikeSimulation:
		if param < math.MinInt16 || param > math.MaxInt16 {
			return nil, fmt.Errorf("%v: grade %d out of i16 range", op, param)
		}
		return SetIndoorBikeSimulation(Simulation{Grade: int16(param), Crr: DefaultCrr, Cw: DefaultCw}), nil
	default:
		return nil, fmt.Errorf("unsupported control point op code 0x%02X", byte(op))
	}
}

// The helpers below cannot fail: their parameters are already in range.

func RequestControl() []byte { return []byte{byte(OpRequestControl)} }
func Reset() []byte          { return []byte{byte(OpReset)} }
func StartOrResume() []byte  { return []byte{byte(OpStartOrResume)} }
func Stop() []byte           { return []byte{byte(OpStopOrPause), StopParamStop} }
func Pause() []byte          { return []byte{byte(OpStopOrPause), StopParamPause} }

func SetTargetPower(watts int16) []byte {
	return appendU16([]byte{byte(OpSetTargetPower)}, uint16(watts))
}

func SetTargetLevel(level uint8) []byte {
	return []byte{byte(OpSetTargetLevel), level}
}

func SetTargetIncline(tenthsPercent int16) []byte {
	return appendU16([]byte{byte(OpSetTargetIncline)}, uint16(tenthsPercent))
}

func SetTargetSpeed(hundredthsKmh uint16) []byte {
	return appendU16([]byte{byte(OpSetTargetSpeed)}, hundredthsKmh)
}

// Simulation is the parameter block of OpSetIndoorBikeSimulation.
type Simulation struct {
	WindSpeed int16 // 0.001 m/s
	Grade     int16 // 0.01 %
	Crr       uint8 // 0.0001
	Cw        uint8 // 0.01 kg/m
}

// Coefficients sent along with a plain grade change
const (
	DefaultCrr = 40 // 0.0040, road tyre on asphalt
	DefaultCw  = 51 // 0.51 kg/m
)

func SetIndoorBikeSimulation(s Simulation) []byte {
	b := appendU16([]byte{byte(OpSetIndoorBikeSimulation)}, uint16(s.WindSpeed))
	b = appendU16(b, uint16(s.Grade))
	return append(b, s.Crr, s.Cw)
}

// SimulationGrade decodes the grade of an OpSetIndoorBikeSimulation request,
// in percent.
func SimulationGrade(req []byte) (float64, error) {
	if len(req) > 0 && OpCode(req[0]) != OpSetIndoorBikeSimulation {
		return 0, fmt.Errorf("indoor bike simulation: unexpected op code 0x%02X", req[0])
	}
	if len(req) < 7 {
		return 0, fmt.Errorf("indoor bike simulation: %w (%d bytes)", ErrShortBuffer, len(req))
	}
	r := frameReader{buf: req[3:5]}
	grade, err := r.i16("grade")
	if err != nil {
		return 0, fmt.Errorf("indoor bike simulation: %w", err)
	}
	return float64(grade) / 100, nil
}

// ResultCode is the outcome byte of a control point response.
type ResultCode byte

const (
	ResultSuccess             ResultCode = 0x01
	ResultOpCodeNotSupported  ResultCode = 0x02
	ResultInvalidParameter    ResultCode = 0x03
	ResultOperationFailed     ResultCode = 0x04
	ResultControlNotPermitted ResultCode = 0x05
)

func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultOpCodeNotSupported:
		return "Op Code Not Supported"
	case ResultInvalidParameter:
		return "Invalid Parameter"
	case ResultOperationFailed:
		return "Operation Failed"
	case ResultControlNotPermitted:
		return "Control Not Permitted"
	default:
		return fmt.Sprintf("Result 0x%02X", byte(r))
	}
}

// ControlPointResponse is an indication of the form [0x80, op, result, ...].
type ControlPointResponse struct {
	RequestOp OpCode
	Result    ResultCode
}

// ControlAcquired reports whether this response grants remote control.
func (r ControlPointResponse) ControlAcquired() bool {
	return r.Result == ResultSuccess && r.RequestOp == OpRequestControl
}

func (r ControlPointResponse) String() string {
	return fmt.Sprintf("%v -> %v", r.RequestOp, r.Result)
}

// DecodeControlPointResponse decodes a control point indication. Frames that
// do not start with the response marker return ErrNotResponse and should be
// discarded by the caller.
func DecodeControlPointResponse(buf []byte) (ControlPointResponse, error) {
	if len(buf) > 0 && OpCode(buf[0]) != OpResponseCode {
		return ControlPointResponse{}, fmt.Errorf("%w: leading byte 0x%02X", ErrNotResponse, buf[0])
	}
	if len(buf) < 3 {
		return ControlPointResponse{}, fmt.Errorf("control point response: %w (%d bytes)", ErrShortBuffer, len(buf))
	}
	return ControlPointResponse{RequestOp: OpCode(buf[1]), Result: ResultCode(buf[2])}, nil
}
