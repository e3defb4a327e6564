package device

import (
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/bt"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
)

// BikeDataSink receives decoded Indoor Bike Data.
type BikeDataSink interface {
	UpdateBike(d ftms.IndoorBikeData)
}

// Power limits used until the trainer reports its Supported Power Range
var DefaultPowerRange = ftms.Range{Min: 25, Max: 2000, Increment: 1}

// Simulated grade limits, in percent
var GradeRange = ftms.Range{Min: -20, Max: 20, Increment: 0.5}

// FitnessMachine is an FTMS trainer: telemetry subscriptions, capability
// reads and the control point.
type FitnessMachine struct {
	*Device
	sink   BikeDataSink
	logger *log.Logger

	controlAcquired   atomic.Bool
	controlSubscribed atomic.Bool

	mu              sync.RWMutex
	feature         *ftms.Feature
	powerRange      *ftms.Range
	resistanceRange *ftms.Range
	trainingStatus  ftms.TrainingStatus
	lastResponse    *ftms.ControlPointResponse
}

func NewFitnessMachine(cfg Config, adapter bt.Adapter, lock *ScanLock, sink BikeDataSink, logger *log.Logger) *FitnessMachine {
	if sink == nil {
		panic("FitnessMachine: sink cannot be nil")
	}
	cfg.Type = TypeFitnessMachine
	cfg.RetryCharacteristics = append(cfg.RetryCharacteristics, ftms.CharUUIDFitnessMachineControlPoint)
	f := &FitnessMachine{
		sink:   sink,
		logger: logger,
	}
	f.Device = NewDevice(cfg, adapter, lock, f, logger)
	return f
}

func (f *FitnessMachine) OnConnected() {
	f.controlAcquired.Store(false)
	f.controlSubscribed.Store(false)
	f.Subscribe(ftms.IndoorBikeDataChar)
	f.Subscribe(ftms.TrainingStatusChar)
	f.Subscribe(ftms.FitnessMachineStatusChar)
	f.Read(ftms.FitnessMachineFeature, f.storeFeature)
	f.Read(ftms.SupportedPowerRange, f.storePowerRange)
	f.Read(ftms.SupportedResistanceRange, f.storeResistanceRange)
}

func (f *FitnessMachine) OnDisconnected() {
	f.controlAcquired.Store(false)
	f.controlSubscribed.Store(false)
}

func (f *FitnessMachine) OnNotify(char ftms.Characteristic, buf []byte) {
	switch char.UUID {
	case ftms.CharUUIDIndoorBikeData:
		d, err := ftms.DecodeIndoorBikeData(buf)
		if err != nil {
			f.logger.Printf("FitnessMachine[%s]: % X: %v", f.Name(), buf, err)
			return
		}
		f.sink.UpdateBike(d)
	case ftms.CharUUIDFitnessMachineControlPoint:
		f.handleControlPointResponse(buf)
	case ftms.CharUUIDTrainingStatus:
		ts, err := ftms.DecodeTrainingStatus(buf)
		if err != nil {
			f.logger.Printf("FitnessMachine[%s]: training status % X: %v", f.Name(), buf, err)
			return
		}
		f.mu.Lock()
		f.trainingStatus = ts
		f.mu.Unlock()
		f.logger.Printf("FitnessMachine[%s]: training status %v", f.Name(), ts)
	case ftms.CharUUIDFitnessMachineStatus:
		ms, err := ftms.DecodeMachineStatus(buf)
		if err != nil {
			f.logger.Printf("FitnessMachine[%s]: machine status: %v", f.Name(), err)
			return
		}
		f.logger.Printf("FitnessMachine[%s]: machine status %v", f.Name(), ms)
		if ms.ControlLost() {
			f.controlAcquired.Store(false)
		}
	}
}

func (f *FitnessMachine) handleControlPointResponse(buf []byte) {
	r, err := ftms.DecodeControlPointResponse(buf)
	if errors.Is(err, ftms.ErrNotResponse) {
		return
	}
	if err != nil {
		f.logger.Printf("FitnessMachine[%s]: control point % X: %v", f.Name(), buf, err)
		return
	}
	switch {
	case r.ControlAcquired():
		f.controlAcquired.Store(true)
	case r.RequestOp == ftms.OpReset && r.Result == ftms.ResultSuccess:
		// A reset hands control back to the trainer
		f.controlAcquired.Store(false)
	}
	f.logger.Printf("FitnessMachine[%s]: control point %v", f.Name(), r)
	f.mu.Lock()
	f.lastResponse = &r
	f.mu.Unlock()
}

// RemoteControlAcquired reports whether the trainer accepted Request Control
// and has not revoked or reset it since.
func (f *FitnessMachine) RemoteControlAcquired() bool {
	return f.controlAcquired.Load()
}

// LastResponse returns the latest control point response, if any arrived
// since the process started.
func (f *FitnessMachine) LastResponse() (ftms.ControlPointResponse, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastResponse == nil {
		return ftms.ControlPointResponse{}, false
	}
	return *f.lastResponse, true
}

// SubscribeControlPoint queues the control point subscription once per
// connection.
func (f *FitnessMachine) SubscribeControlPoint() {
	if f.controlSubscribed.CompareAndSwap(false, true) {
		f.Subscribe(ftms.FitnessMachineControlPoint)
	}
}

func (f *FitnessMachine) UnsubscribeControlPoint() {
	if f.controlSubscribed.CompareAndSwap(true, false) {
		f.Unsubscribe(ftms.FitnessMachineControlPoint)
	}
}

func (f *FitnessMachine) control(payload []byte) {
	f.Write(ftms.FitnessMachineControlPoint, payload)
}

func (f *FitnessMachine) RequestControl() { f.control(ftms.RequestControl()) }
func (f *FitnessMachine) Reset()          { f.control(ftms.Reset()) }
func (f *FitnessMachine) Start()          { f.control(ftms.StartOrResume()) }
func (f *FitnessMachine) Pause()          { f.control(ftms.Pause()) }
func (f *FitnessMachine) Stop()           { f.control(ftms.Stop()) }

// SetTargetPower clamps watts to the trainer's power range and queues the
// command. It returns the value actually sent.
func (f *FitnessMachine) SetTargetPower(watts int) int {
	clamped := int(math.Round(f.PowerRange().Clamp(float64(watts))))
	f.control(ftms.SetTargetPower(int16(clamped)))
	return clamped
}

// SetTargetLevel queues a target level clamped to the u8 range.
func (f *FitnessMachine) SetTargetLevel(level int) int {
	clamped := min(max(level, 0), math.MaxUint8)
	f.control(ftms.SetTargetLevel(uint8(clamped)))
	return clamped
}

// SetGrade switches the trainer to simulation mode at the given grade,
// rounded to GradeRange. It returns the grade actually sent.
func (f *FitnessMachine) SetGrade(percent float64) float64 {
	clamped := GradeRange.Clamp(math.Round(percent/GradeRange.Increment) * GradeRange.Increment)
	f.control(ftms.SetIndoorBikeSimulation(ftms.Simulation{
		Grade: int16(math.Round(clamped * 100)),
		Crr:   ftms.DefaultCrr,
		Cw:    ftms.DefaultCw,
	}))
	return clamped
}

func (f *FitnessMachine) PowerRange() ftms.Range {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.powerRange == nil {
		return DefaultPowerRange
	}
	return *f.powerRange
}

func (f *FitnessMachine) ResistanceRange() (ftms.Range, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.resistanceRange == nil {
		return ftms.Range{}, false
	}
	return *f.resistanceRange, true
}

func (f *FitnessMachine) Feature() (ftms.Feature, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.feature == nil {
		return ftms.Feature{}, false
	}
	return *f.feature, true
}

func (f *FitnessMachine) TrainingStatus() ftms.TrainingStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trainingStatus
}

func (f *FitnessMachine) storeFeature(buf []byte) {
	feature, err := ftms.DecodeFeature(buf)
	if err != nil {
		f.logger.Printf("FitnessMachine[%s]: %v", f.Name(), err)
		return
	}
	f.mu.Lock()
	f.feature = &feature
	f.mu.Unlock()
	f.logger.Printf("FitnessMachine[%s]: target power supported=%v, resistance supported=%v",
		f.Name(), feature.SupportsTargetPower(), feature.SupportsTargetResistance())
}

func (f *FitnessMachine) storePowerRange(buf []byte) {
	r, err := ftms.DecodeSupportedPowerRange(buf)
	if err != nil {
		f.logger.Printf("FitnessMachine[%s]: %v", f.Name(), err)
		return
	}
	f.mu.Lock()
	f.powerRange = &r
	f.mu.Unlock()
	f.logger.Printf("FitnessMachine[%s]: power range %.0f..%.0f W", f.Name(), r.Min, r.Max)
}

func (f *FitnessMachine) storeResistanceRange(buf []byte) {
	r, err := ftms.DecodeSupportedResistanceRange(buf)
	if err != nil {
		f.logger.Printf("FitnessMachine[%s]: %v", f.Name(), err)
		return
	}
	f.mu.Lock()
	f.resistanceRange = &r
	f.mu.Unlock()
}
