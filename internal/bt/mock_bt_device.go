package bt

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/go_func_utils"
)

// Verify the mocks implement the interfaces
var (
	_ Adapter    = (*MockAdapter)(nil)
	_ Peripheral = (*MockPeripheral)(nil)
)

// MockAdapter is an in-process radio with simulated peripherals, used by
// --mock runs and by tests.
type MockAdapter struct {
	logger    *log.Logger
	scanDelay time.Duration

	mu             sync.Mutex
	peripherals    map[string]*MockPeripheral
	activeScans    int
	maxActiveScans int
	scanCount      int
	connectErr     error
}

func NewMockAdapter(logger *log.Logger, scanDelay time.Duration, peripherals ...*MockPeripheral) *MockAdapter {
	if logger == nil {
		panic("MockAdapter: logger cannot be nil")
	}
	a := &MockAdapter{
		logger:      logger,
		scanDelay:   scanDelay,
		peripherals: make(map[string]*MockPeripheral),
	}
	for _, p := range peripherals {
		a.Add(p)
	}
	return a
}

func (a *MockAdapter) Add(p *MockPeripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals[strings.ToUpper(p.address)] = p
}

// SetConnectError makes every following Connect fail with err (nil clears it).
func (a *MockAdapter) SetConnectError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr = err
}

// MaxConcurrentScans is the highest number of overlapping Scan calls seen.
func (a *MockAdapter) MaxConcurrentScans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxActiveScans
}

func (a *MockAdapter) ScanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanCount
}

func (a *MockAdapter) find(target Target) *MockPeripheral {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.peripherals {
		if p.Advertising() && target.Matches(strings.ToUpper(p.address), p.name) {
			return p
		}
	}
	return nil
}

func (a *MockAdapter) Scan(ctx context.Context, target Target) (ScanResult, error) {
	a.mu.Lock()
	a.scanCount++
	a.activeScans++
	if a.activeScans > a.maxActiveScans {
		a.maxActiveScans = a.activeScans
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.activeScans--
		a.mu.Unlock()
	}()

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for {
		if p := a.find(target); p != nil {
			select {
			case <-time.After(a.scanDelay):
			case <-ctx.Done():
				return ScanResult{}, fmt.Errorf("scan for %v: %w: %v", target, ErrDeviceNotFound, ctx.Err())
			}
			a.logger.Printf("MockAdapter: found %s (%s)", p.name, p.address)
			return ScanResult{Address: strings.ToUpper(p.address), LocalName: p.name, RSSI: -50}, nil
		}
		select {
		case <-poll.C:
		case <-ctx.Done():
			return ScanResult{}, fmt.Errorf("scan for %v: %w: %v", target, ErrDeviceNotFound, ctx.Err())
		}
	}
}

func (a *MockAdapter) Connect(ctx context.Context, address string) (Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	p, ok := a.peripherals[strings.ToUpper(address)]
	connectErr := a.connectErr
	a.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("connect %s: %w", address, ErrDeviceNotFound)
	}
	if connectErr != nil {
		return nil, fmt.Errorf("connect %s: %w", address, connectErr)
	}
	p.connect()
	return p, nil
}

// MockKind selects which GATT server a MockPeripheral simulates.
type MockKind int

const (
	MockHeartRateMonitor MockKind = iota
	MockTrainer
)

// Operation records one GATT call a MockPeripheral served.
type Operation struct {
	Kind           string // subscribe, unsubscribe, read, write
	Characteristic string
	Data           []byte
}

// MockPeripheral simulates a heart rate strap or an FTMS trainer. With a
// positive notify interval it streams measurements while connected; tests
// usually leave it at zero and call Notify directly.
type MockPeripheral struct {
	logger         *log.Logger
	address        string
	name           string
	kind           MockKind
	notifyInterval time.Duration

	mu          sync.RWMutex
	advertising bool
	connected   bool
	callbacks   map[string]func([]byte)
	ops         []Operation
	attempts    map[string]int
	writeErrors map[string][]error
	readValues  map[string][]byte
	denyControl bool

	// simulated rider and trainer state
	heartRate   float64
	power       float64
	cadence     float64
	targetPower int16
	targetLevel uint8
	grade       float64 // percent, simulation mode
	running     bool
	distance    float64 // meters

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMockPeripheral(logger *log.Logger, kind MockKind, address, name string, notifyInterval time.Duration) *MockPeripheral {
	if logger == nil {
		panic("MockPeripheral: logger cannot be nil")
	}
	p := &MockPeripheral{
		logger:         logger,
		address:        address,
		name:           name,
		kind:           kind,
		notifyInterval: notifyInterval,
		advertising:    true,
		callbacks:      make(map[string]func([]byte)),
		attempts:       make(map[string]int),
		writeErrors:    make(map[string][]error),
		readValues:     make(map[string][]byte),
		heartRate:      70,
		power:          100,
		cadence:        80,
	}
	if kind == MockTrainer {
		// target power, resistance and simulation parameters supported
		p.readValues[ftms.CharUUIDFitnessMachineFeature] = []byte{0x02, 0x40, 0x00, 0x00, 0x0C, 0x20, 0x00, 0x00}
		// 25..2000 W in 1 W steps
		p.readValues[ftms.CharUUIDSupportedPowerRange] = []byte{0x19, 0x00, 0xD0, 0x07, 0x01, 0x00}
		// 0..100.0 in 1.0 steps
		p.readValues[ftms.CharUUIDSupportedResistanceRange] = []byte{0x00, 0x00, 0xE8, 0x03, 0x0A, 0x00}
	}
	return p
}

func (p *MockPeripheral) Address() string {
	return p.address
}

func (p *MockPeripheral) Name() string {
	return p.name
}

// SetAdvertising switches the peripheral on or off as far as scans go.
func (p *MockPeripheral) SetAdvertising(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertising = on
}

func (p *MockPeripheral) Advertising() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.advertising
}

func (p *MockPeripheral) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// DenyControl makes Request Control answer Control Not Permitted.
func (p *MockPeripheral) DenyControl(deny bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyControl = deny
}

// FailWrites queues errors returned by the next writes to characteristicUuid,
// one per write.
func (p *MockPeripheral) FailWrites(characteristicUuid string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErrors[characteristicUuid] = append(p.writeErrors[characteristicUuid], errs...)
}

// Operations returns the successful GATT calls in the order they were served.
func (p *MockPeripheral) Operations() []Operation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Operation(nil), p.ops...)
}

// WriteAttempts counts every write to characteristicUuid, failed ones included.
func (p *MockPeripheral) WriteAttempts(characteristicUuid string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.attempts[characteristicUuid]
}

func (p *MockPeripheral) TargetPower() int16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.targetPower
}

// Grade is the simulated grade in percent, zero outside simulation mode.
func (p *MockPeripheral) Grade() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grade
}

func (p *MockPeripheral) Subscribed(characteristicUuid string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.callbacks[characteristicUuid]
	return ok
}

func (p *MockPeripheral) connect() {
	p.mu.Lock()
	p.connected = true
	p.distance = 0
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	p.mu.Unlock()

	p.logger.Printf("MockPeripheral[%s]: connected", p.name)
	if p.notifyInterval > 0 {
		p.wg.Add(1)
		go_func_utils.SafeGo(p.logger, "mock-"+p.name, func() {
			defer p.wg.Done()
			p.simulate(stop)
		})
	}
}

// Drop simulates the peripheral going out of range.
func (p *MockPeripheral) Drop() {
	p.logger.Printf("MockPeripheral[%s]: link dropped", p.name)
	p.disconnect()
}

func (p *MockPeripheral) Disconnect() error {
	p.logger.Printf("MockPeripheral[%s]: disconnect requested", p.name)
	p.disconnect()
	return nil
}

func (p *MockPeripheral) disconnect() {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	p.callbacks = make(map[string]func([]byte))
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *MockPeripheral) owns(serviceUuid string) bool {
	switch p.kind {
	case MockHeartRateMonitor:
		return serviceUuid == ftms.ServiceUUIDHeartRate
	case MockTrainer:
		return serviceUuid == ftms.ServiceUUIDFitnessMachine
	}
	return false
}

func (p *MockPeripheral) check(serviceUuid string, characteristicUuid string) error {
	if !p.connected {
		return fmt.Errorf("%s: %w", p.address, ErrNotConnected)
	}
	if !p.owns(serviceUuid) {
		return fmt.Errorf("service %s not found on device", serviceUuid)
	}
	return nil
}

func (p *MockPeripheral) EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(serviceUuid, characteristicUuid); err != nil {
		return err
	}
	p.callbacks[characteristicUuid] = callbackFunc
	p.ops = append(p.ops, Operation{Kind: "subscribe", Characteristic: characteristicUuid})
	return nil
}

func (p *MockPeripheral) DisableNotifications(serviceUuid string, characteristicUuid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(serviceUuid, characteristicUuid); err != nil {
		return err
	}
	delete(p.callbacks, characteristicUuid)
	p.ops = append(p.ops, Operation{Kind: "unsubscribe", Characteristic: characteristicUuid})
	return nil
}

func (p *MockPeripheral) ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(serviceUuid, characteristicUuid); err != nil {
		return nil, err
	}
	v, ok := p.readValues[characteristicUuid]
	if !ok {
		return nil, fmt.Errorf("characteristic %s is not readable", characteristicUuid)
	}
	p.ops = append(p.ops, Operation{Kind: "read", Characteristic: characteristicUuid})
	return append([]byte(nil), v...), nil
}

func (p *MockPeripheral) WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error {
	p.mu.Lock()
	if err := p.check(serviceUuid, characteristicUuid); err != nil {
		p.mu.Unlock()
		return err
	}
	p.attempts[characteristicUuid]++
	if queued := p.writeErrors[characteristicUuid]; len(queued) > 0 {
		p.writeErrors[characteristicUuid] = queued[1:]
		p.mu.Unlock()
		return queued[0]
	}
	p.ops = append(p.ops, Operation{Kind: "write", Characteristic: characteristicUuid, Data: append([]byte(nil), data...)})

	var response []byte
	if characteristicUuid == ftms.CharUUIDFitnessMachineControlPoint && len(data) > 0 {
		response = p.handleControlPoint(data)
	}
	callback := p.callbacks[ftms.CharUUIDFitnessMachineControlPoint]
	p.mu.Unlock()

	if response != nil && callback != nil {
		callback(response)
	}
	return nil
}

// handleControlPoint applies a control point request and builds the
// indication. Must be called with mu held.
func (p *MockPeripheral) handleControlPoint(data []byte) []byte {
	op := ftms.OpCode(data[0])
	result := ftms.ResultSuccess
	switch op {
	case ftms.OpRequestControl:
		if p.denyControl {
			result = ftms.ResultControlNotPermitted
		}
	case ftms.OpReset:
		p.targetPower = 0
		p.targetLevel = 0
		p.grade = 0
		p.running = false
	case ftms.OpSetTargetPower:
		if len(data) < 3 {
			result = ftms.ResultInvalidParameter
			break
		}
		p.targetPower = int16(uint16(data[1]) | uint16(data[2])<<8)
		p.grade = 0
	case ftms.OpSetTargetLevel:
		if len(data) < 2 {
			result = ftms.ResultInvalidParameter
			break
		}
		p.targetLevel = data[1]
		p.grade = 0
	case ftms.OpSetIndoorBikeSimulation:
		grade, err := ftms.SimulationGrade(data)
		if err != nil {
			result = ftms.ResultInvalidParameter
			break
		}
		p.targetPower = 0
		p.targetLevel = 0
		p.grade = grade
	case ftms.OpStartOrResume:
		p.running = true
	case ftms.OpStopOrPause:
		p.running = false
	default:
		result = ftms.ResultOpCodeNotSupported
	}
	p.logger.Printf("MockPeripheral[%s]: control point %v -> %v", p.name, op, result)
	return []byte{byte(ftms.OpResponseCode), byte(op), byte(result)}
}

// Notify delivers buf to the subscriber of characteristicUuid, if any.
func (p *MockPeripheral) Notify(characteristicUuid string, buf []byte) bool {
	p.mu.RLock()
	callback, ok := p.callbacks[characteristicUuid]
	p.mu.RUnlock()
	if !ok || callback == nil {
		return false
	}
	callback(buf)
	return true
}

func (p *MockPeripheral) simulate(stop <-chan struct{}) {
	ticker := time.NewTicker(p.notifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			switch p.kind {
			case MockHeartRateMonitor:
				p.Notify(ftms.CharUUIDHeartRateMeasurement, p.nextHeartRate())
			case MockTrainer:
				p.Notify(ftms.CharUUIDIndoorBikeData, p.nextBikeData())
			}
		}
	}
}

func (p *MockPeripheral) nextHeartRate() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartRate += (60 + p.power/4 - p.heartRate) * 0.05
	bpm := uint8(math.Round(p.heartRate))
	rr := uint16(60 * 1024 / float64(bpm))
	// contact detected, RR present, 8-bit bpm
	return []byte{0x16, bpm, byte(rr), byte(rr >> 8)}
}

func (p *MockPeripheral) nextBikeData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := float64(p.targetPower)
	if target <= 0 {
		target = max(100+float64(p.targetLevel)*5+p.grade*15, 0)
	}
	p.power += (target - p.power) * 0.3
	p.cadence += (88 - p.cadence) * 0.2
	speed := 10 + p.power/12
	p.distance += speed / 3.6 * p.notifyInterval.Seconds()

	power := int16(math.Round(p.power))
	distance := uint32(p.distance)
	return ftms.EncodeIndoorBikeData(ftms.IndoorBikeData{
		InstantaneousSpeedKmh:   &speed,
		InstantaneousCadenceRpm: &p.cadence,
		TotalDistanceMeters:     &distance,
		InstantaneousPowerWatts: &power,
	})
}
