// Package device runs the per-peripheral BLE connection state machine: scan
// under the shared ScanLock, connect, drain the command queue, tear down, and
// start over while the operator still wants the device.
package device

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/bt"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/events"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
)

type Type int

const (
	TypeHeartRateMonitor Type = iota
	TypeFitnessMachine
)

func (t Type) String() string {
	if t == TypeFitnessMachine {
		return "FitnessMachine"
	}
	return "HeartRateMonitor"
}

type State int32

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Config describes one device slot.
type Config struct {
	Name    string
	Address string
	Type    Type

	ScanTimeout   time.Duration // bound on scan plus connect, default 10s
	CommandPoll   time.Duration // blocking receive timeout of the command loop, default 100ms
	RetryInterval time.Duration // pause between transient write retries, default 20ms

	// RetryCharacteristics lists characteristic UUIDs whose writes are retried
	// on transient errors for as long as the device stays wanted and connected.
	RetryCharacteristics []string
}

func (c Config) withDefaults() Config {
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 10 * time.Second
	}
	if c.CommandPoll <= 0 {
		c.CommandPoll = 100 * time.Millisecond
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 20 * time.Millisecond
	}
	return c
}

// Handler receives connection lifecycle callbacks and notifications of
// Subscribe commands that carry no callback of their own.
type Handler interface {
	OnConnected()
	OnDisconnected()
	OnNotify(char ftms.Characteristic, buf []byte)
}

// Status is a point-in-time view of a device for the UI.
type Status struct {
	Name            string
	Address         string
	Type            Type
	State           State
	Wanted          bool
	Connected       bool
	HoldsScanLock   bool
	DroppedCommands uint64
}

// Device owns one peripheral's lifecycle and consumes its CommandQueue.
type Device struct {
	cfg     Config
	adapter bt.Adapter
	lock    *ScanLock
	queue   *CommandQueue
	handler Handler
	logger  *log.Logger

	wanted        atomic.Bool
	connected     atomic.Bool
	holdsScanLock atomic.Bool
	state         atomic.Int32
	dropped       atomic.Uint64
	armed         chan struct{}

	mu sync.RWMutex // guards cfg.Address

	statusEvent *events.ChannelEvent[Status]
	errorEvent  *events.ChannelEvent[CommandError]
}

func NewDevice(cfg Config, adapter bt.Adapter, lock *ScanLock, handler Handler, logger *log.Logger) *Device {
	if adapter == nil {
		panic("Device: adapter cannot be nil")
	}
	if lock == nil {
		panic("Device: scan lock cannot be nil")
	}
	if handler == nil {
		panic("Device: handler cannot be nil")
	}
	if logger == nil {
		panic("Device: logger cannot be nil")
	}
	return &Device{
		cfg:         cfg.withDefaults(),
		adapter:     adapter,
		lock:        lock,
		queue:       NewCommandQueue(),
		handler:     handler,
		logger:      logger,
		armed:       make(chan struct{}, 1),
		statusEvent: events.NewChannelEvent[Status](true),
		errorEvent:  events.NewChannelEvent[CommandError](false),
	}
}

func (d *Device) Name() string { return d.cfg.Name }
func (d *Device) Type() Type    { return d.cfg.Type }

func (d *Device) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.Address
}

func (d *Device) Wanted() bool        { return d.wanted.Load() }
func (d *Device) Connected() bool     { return d.connected.Load() }
func (d *Device) HoldsScanLock() bool { return d.holdsScanLock.Load() }
func (d *Device) State() State        { return State(d.state.Load()) }

// DroppedCommands counts commands given up on since the device was created.
func (d *Device) DroppedCommands() uint64 { return d.dropped.Load() }

// PendingCommands is the current command queue depth.
func (d *Device) PendingCommands() int { return d.queue.Len() }

// SetWanted records the operator's intent. Setting it re-arms a device that
// gave up after a failed scan; clearing it makes the command loop exit
// within one iteration.
func (d *Device) SetWanted(wanted bool) {
	d.wanted.Store(wanted)
	if wanted {
		select {
		case d.armed <- struct{}{}:
		default:
		}
	} else {
		d.queue.Wake()
	}
	d.publish()
}

// SetAddress changes the peripheral address used by the next scan.
func (d *Device) SetAddress(address string) {
	d.mu.Lock()
	d.cfg.Address = address
	d.mu.Unlock()
	d.publish()
}

func (d *Device) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{
		Name:            d.cfg.Name,
		Address:         d.cfg.Address,
		Type:            d.cfg.Type,
		State:           d.State(),
		Wanted:          d.wanted.Load(),
		Connected:       d.connected.Load(),
		HoldsScanLock:   d.holdsScanLock.Load(),
		DroppedCommands: d.dropped.Load(),
	}
}

// ListenStatus registers ch for status changes; the latest status is replayed.
func (d *Device) ListenStatus(ch chan<- Status) func() {
	return d.statusEvent.Listen(ch)
}

// ListenErrors registers ch for dropped-command reports.
func (d *Device) ListenErrors(ch chan<- CommandError) func() {
	return d.errorEvent.Listen(ch)
}

func (d *Device) Put(cmd Command) { d.queue.Put(cmd) }

func (d *Device) Subscribe(char ftms.Characteristic) { d.Put(Subscribe{Char: char}) }

func (d *Device) Unsubscribe(char ftms.Characteristic) { d.Put(Unsubscribe{Char: char}) }

func (d *Device) Read(char ftms.Characteristic, callback func(buf []byte)) {
	d.Put(Read{Char: char, Callback: callback})
}

func (d *Device) Write(char ftms.Characteristic, payload []byte) {
	d.Put(Write{Char: char, Payload: payload})
}

func (d *Device) publish() {
	d.statusEvent.Notify(d.Status())
}

func (d *Device) setState(s State) {
	d.state.Store(int32(s))
	d.publish()
}

// Run is the per-device task. It loops until ctx ends, connecting whenever the
// device is wanted and reconnecting after every teardown.
func (d *Device) Run(ctx context.Context) {
	d.logger.Printf("Device[%s]: task started", d.cfg.Name)
	defer d.logger.Printf("Device[%s]: task exiting", d.cfg.Name)

	for {
		if ctx.Err() != nil {
			return
		}
		if !d.wanted.Load() {
			select {
			case <-ctx.Done():
				return
			case <-d.armed:
			}
			continue
		}
		d.runOnce(ctx)
	}
}

func (d *Device) runOnce(ctx context.Context) {
	p, err := d.establish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Give up until re-armed rather than rescanning for a sensor that is off
		d.logger.Printf("Device[%s]: %v (%v); waiting to be re-armed", d.cfg.Name, err, KindOf(err))
		d.connected.Store(false)
		d.state.Store(int32(StateIdle))
		d.wanted.Store(false)
		d.publish()
		return
	}

	d.logger.Printf("Device[%s]: connected to %s", d.cfg.Name, p.Address())
	// A device found by name keeps the address for the next reconnect
	d.mu.Lock()
	if d.cfg.Address == "" {
		d.cfg.Address = p.Address()
	}
	d.mu.Unlock()
	d.handler.OnConnected()
	d.connected.Store(true)
	d.setState(StateConnected)

	d.commandLoop(ctx, p)
	d.teardown(p)
}

// establish scans and connects while holding the scan lock.
func (d *Device) establish(ctx context.Context) (bt.Peripheral, error) {
	if err := d.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	d.holdsScanLock.Store(true)
	defer func() {
		d.holdsScanLock.Store(false)
		d.lock.Release()
		d.publish()
	}()

	d.mu.RLock()
	target := bt.Target{Address: d.cfg.Address, Name: d.cfg.Name}
	d.mu.RUnlock()

	scanCtx, cancel := context.WithTimeout(ctx, d.cfg.ScanTimeout)
	defer cancel()

	d.setState(StateScanning)
	res, err := d.adapter.Scan(scanCtx, target)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	d.setState(StateConnecting)
	p, err := d.adapter.Connect(scanCtx, res.Address)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return p, nil
}

func (d *Device) commandLoop(ctx context.Context, p bt.Peripheral) {
	for {
		if ctx.Err() != nil || !d.wanted.Load() {
			return
		}
		if !p.IsConnected() {
			d.logger.Printf("Device[%s]: link lost", d.cfg.Name)
			return
		}
		cmd, ok := d.queue.Next(ctx, d.cfg.CommandPoll)
		if !ok {
			continue
		}
		d.execute(ctx, p, cmd)
	}
}

// execute runs one command. Transient failures of writes to a retry
// characteristic are reissued; everything else is dropped and reported.
func (d *Device) execute(ctx context.Context, p bt.Peripheral, cmd Command) {
	for attempt := 1; ; attempt++ {
		err := d.apply(p, cmd)
		kind := KindOf(err)
		switch kind {
		case KindNone:
			if attempt > 1 {
				d.logger.Printf("Device[%s]: %v succeeded after %d attempts", d.cfg.Name, cmd, attempt)
			}
			return
		case KindTransient:
			if d.retryable(cmd) && d.wanted.Load() && p.IsConnected() && ctx.Err() == nil {
				select {
				case <-time.After(d.cfg.RetryInterval):
				case <-ctx.Done():
				}
				continue
			}
			d.drop(cmd, kind, err)
			return
		case KindNotConnected, KindNotFound, KindProtocol, KindOther:
			d.drop(cmd, kind, err)
			return
		}
	}
}

func (d *Device) retryable(cmd Command) bool {
	w, ok := cmd.(Write)
	if !ok {
		return false
	}
	for _, uuid := range d.cfg.RetryCharacteristics {
		if w.Char.UUID == uuid {
			return true
		}
	}
	return false
}

func (d *Device) apply(p bt.Peripheral, cmd Command) error {
	switch c := cmd.(type) {
	case Subscribe:
		callback := c.Callback
		if callback == nil {
			char := c.Char
			callback = func(buf []byte) { d.handler.OnNotify(char, buf) }
		}
		return p.EnableNotifications(c.Char.Service, c.Char.UUID, callback)
	case Unsubscribe:
		return p.DisableNotifications(c.Char.Service, c.Char.UUID)
	case Read:
		buf, err := p.ReadCharacteristic(c.Char.Service, c.Char.UUID)
		if err != nil {
			return err
		}
		if c.Callback != nil {
			c.Callback(buf)
		}
		return nil
	case Write:
		return p.WriteCharacteristic(c.Char.Service, c.Char.UUID, c.Payload)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func (d *Device) drop(cmd Command, kind ErrorKind, err error) {
	n := d.dropped.Add(1)
	ce := CommandError{Device: d.cfg.Name, Command: cmd, Kind: kind, Err: err, Time: time.Now()}
	d.logger.Printf("Device[%s]: %v (dropped so far: %d)", d.cfg.Name, ce, n)
	d.errorEvent.Notify(ce)
	d.publish()
}

// teardown always disconnects before reporting connected=false. Commands still
// queued refer to the old link and are discarded.
func (d *Device) teardown(p bt.Peripheral) {
	d.setState(StateDisconnecting)
	if err := p.Disconnect(); err != nil {
		d.logger.Printf("Device[%s]: disconnect error: %v", d.cfg.Name, err)
	}
	if n := d.queue.Clear(); n > 0 {
		d.logger.Printf("Device[%s]: discarded %d queued commands", d.cfg.Name, n)
	}
	d.connected.Store(false)
	d.handler.OnDisconnected()
	d.setState(StateIdle)
	d.logger.Printf("Device[%s]: disconnected", d.cfg.Name)
}
