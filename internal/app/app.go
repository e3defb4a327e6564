// Package app assembles the controller: the BLE adapter, both device
// connections, the telemetry container, the workout engine and its outputs.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/activity"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/bt"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/config"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/history"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/logsink"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

const (
	mockHeartRateAddress = "C0:FF:EE:00:00:01"
	mockTrainerAddress   = "C0:FF:EE:00:00:02"

	releaseTimeout = 2 * time.Second
)

// App owns every long running part of the controller.
type App struct {
	cfg    config.Config
	logger *log.Logger

	adapter bt.Adapter
	manager *bt.Manager // nil with simulated peripherals
	lock    *device.ScanLock
	prefs   *preferences
	alerts  *alerter
	history *history.Store

	HeartRate *device.HeartRateMonitor
	Trainer   *device.FitnessMachine
	Data      *telemetry.Container
	Catalog   *workout.Catalog
	Engine    *workout.Engine

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// New picks the adapter named by cfg: the system bluetooth adapter, or two
// simulated peripherals when cfg.Bluetooth.Mock is set.
func New(cfg config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		panic("App: logger cannot be nil")
	}
	if cfg.Bluetooth.Mock {
		return NewWithAdapter(cfg, newMockAdapter(cfg, logger), logger)
	}

	manager := bt.NewManager(bluetooth.DefaultAdapter, logger, cfg.Bluetooth.ScanTimeout)
	if err := manager.Enable(); err != nil {
		return nil, err
	}
	a, err := NewWithAdapter(cfg, manager, logger)
	if err != nil {
		manager.Shutdown()
		return nil, err
	}
	a.manager = manager
	return a, nil
}

// newMockAdapter simulates the configured sensors, streaming a measurement
// every second.
func newMockAdapter(cfg config.Config, logger *log.Logger) *bt.MockAdapter {
	peripheral := func(kind bt.MockKind, dc config.DeviceConfig, address, name string) *bt.MockPeripheral {
		if dc.Address != "" {
			address = dc.Address
		}
		if dc.Name != "" {
			name = dc.Name
		}
		return bt.NewMockPeripheral(logger, kind, address, name, time.Second)
	}
	return bt.NewMockAdapter(logger, 500*time.Millisecond,
		peripheral(bt.MockHeartRateMonitor, cfg.HeartRate, mockHeartRateAddress, "Mock HRM"),
		peripheral(bt.MockTrainer, cfg.Trainer, mockTrainerAddress, "Mock Trainer"),
	)
}

// Option adjusts how NewWithAdapter builds the controller.
type Option func(*options)

type options struct {
	engine workout.EngineConfig
}

// WithEngineConfig replaces the workout engine timings.
func WithEngineConfig(cfg workout.EngineConfig) Option {
	return func(o *options) { o.engine = cfg }
}

// NewWithAdapter builds the controller on top of adapter. Nothing runs until
// Start.
func NewWithAdapter(cfg config.Config, adapter bt.Adapter, logger *log.Logger, opts ...Option) (*App, error) {
	if adapter == nil {
		panic("App: adapter cannot be nil")
	}
	if logger == nil {
		panic("App: logger cannot be nil")
	}

	o := options{engine: workout.DefaultEngineConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	catalog := workout.NewCatalog(cfg.Workout.ProgramsFile, logger)
	if err := catalog.Load(); err != nil {
		return nil, fmt.Errorf("load programs: %w", err)
	}
	logger.Printf("App: %d programs in %s: %s", catalog.Len(), catalog.Path(), strings.Join(catalog.Names(), ", "))

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:     cfg,
		logger:  logger,
		adapter: adapter,
		lock:    device.NewScanLock(),
		prefs:   newPreferences(cfg.StateFile, logger),
		alerts:  newAlerter(logger),
		Data: telemetry.NewContainer(telemetry.User{
			Name:  cfg.User.Name,
			MaxHR: cfg.User.MaxHR,
			FTP:   cfg.User.FTP,
		}),
		Catalog: catalog,
		ctx:     ctx,
		cancel:  cancel,
	}

	a.HeartRate = device.NewHeartRateMonitor(a.deviceConfig(device.TypeHeartRateMonitor, cfg.HeartRate), adapter, a.lock, a.Data, logger)
	a.Trainer = device.NewFitnessMachine(a.deviceConfig(device.TypeFitnessMachine, cfg.Trainer), adapter, a.lock, a.Data, logger)

	out := workout.Outputs{
		NewLogSink: func(start time.Time) (workout.LogSink, error) {
			return logsink.Open(cfg.Workout.LogFormat, cfg.Workout.LogDir, start, logger)
		},
		NewTrackWriter: func(start time.Time) (workout.TrackWriter, string, error) {
			return activity.Open(cfg.Workout.ActivityFormat, cfg.Workout.ActivityDir, start, logger)
		},
		Alerter: a.alerts,
	}
	if cfg.Workout.HistoryDB != "" {
		db, err := history.InitDB(cfg.Workout.HistoryDB)
		if err != nil {
			logger.Printf("App: Session history disabled: %v", err)
		} else {
			a.history = history.NewStore(db, logger)
			out.Recorder = a.history
		}
	}

	a.Engine = workout.NewEngine(o.engine, a.Trainer, catalog, a.Data, out, logger)
	return a, nil
}

// deviceConfig resolves a device slot. A configured address wins over the one
// remembered from the last connection.
func (a *App) deviceConfig(t device.Type, dc config.DeviceConfig) device.Config {
	address := dc.Address
	if address == "" {
		address = a.prefs.address(t)
	}
	name := dc.Name
	if name == "" {
		name = t.String()
	}
	return device.Config{
		Name:        name,
		Address:     address,
		Type:        t,
		ScanTimeout: a.cfg.Bluetooth.ScanTimeout,
		CommandPoll: a.cfg.Bluetooth.CommandPoll,
	}
}

// Start runs both device tasks. Devices with a known address connect right
// away; the others wait to be toggled on.
func (a *App) Start() {
	a.startOnce.Do(func() {
		for _, d := range a.Devices() {
			a.wg.Add(2)
			go_func_utils.SafeGo(a.logger, "device-"+d.Type().String(), func() {
				defer a.wg.Done()
				d.Run(a.ctx)
			})
			go_func_utils.SafeGo(a.logger, "prefs-"+d.Type().String(), func() {
				defer a.wg.Done()
				a.rememberAddress(d)
			})
			if d.Address() != "" {
				d.SetWanted(true)
			}
		}
		if grace := a.cfg.Workout.EndGrace; grace > 0 {
			a.wg.Add(1)
			go_func_utils.SafeGo(a.logger, "workout-autosave", func() {
				defer a.wg.Done()
				a.autoSave(a.ctx, grace)
			})
		}
		a.logger.Printf("App: Started")
	})
}

func (a *App) rememberAddress(d *device.Device) {
	ch := make(chan device.Status, 8)
	unregister := d.ListenStatus(ch)
	defer unregister()
	for {
		select {
		case <-a.ctx.Done():
			return
		case s := <-ch:
			if s.Connected {
				a.prefs.setAddress(s.Type, s.Address)
			}
		}
	}
}

func (a *App) Devices() []*device.Device {
	return []*device.Device{a.HeartRate.Device, a.Trainer.Device}
}

// ToggleWanted flips whether the device of type t should be connected.
func (a *App) ToggleWanted(t device.Type) {
	for _, d := range a.Devices() {
		if d.Type() == t {
			wanted := !d.Wanted()
			a.logger.Printf("App: %s wanted=%t", d.Name(), wanted)
			d.SetWanted(wanted)
		}
	}
}

// Put forwards a workout command to the engine.
func (a *App) Put(cmd workout.Command) bool {
	return a.Engine.Put(cmd)
}

func (a *App) DeviceStatuses() []device.Status {
	devices := a.Devices()
	out := make([]device.Status, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Status())
	}
	return out
}

func (a *App) Snapshot() telemetry.Snapshot {
	return a.Data.Snapshot()
}

func (a *App) EngineStatus() workout.Status {
	return a.Engine.Status()
}

// Programs summarizes every program in the catalog, in catalog order.
func (a *App) Programs() []workout.Parameters {
	return a.Catalog.Parameters(0, a.Catalog.Len()-1)
}

// OnAlert registers callback for segment ending alerts. It runs on the
// engine goroutine and must not block.
func (a *App) OnAlert(callback func(Alert)) func() {
	return a.alerts.event.Listen(callback)
}

// TrainerInfo is what the trainer reported about itself. Nil fields were
// not read yet.
type TrainerInfo struct {
	Feature         *ftms.Feature
	PowerRange      ftms.Range
	ResistanceRange *ftms.Range
	LastResponse    *ftms.ControlPointResponse
}

func (a *App) TrainerInfo() TrainerInfo {
	info := TrainerInfo{PowerRange: a.Trainer.PowerRange()}
	if f, ok := a.Trainer.Feature(); ok {
		info.Feature = &f
	}
	if r, ok := a.Trainer.ResistanceRange(); ok {
		info.ResistanceRange = &r
	}
	if r, ok := a.Trainer.LastResponse(); ok {
		info.LastResponse = &r
	}
	return info
}

// RecentSessions lists the latest recorded workouts, newest first.
func (a *App) RecentSessions(ctx context.Context, limit int) ([]workout.Session, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.Recent(ctx, limit)
}

// Shutdown stops the engine (saving an active workout), gives the trainer a
// moment to receive its release commands, then stops the device tasks.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Printf("App: Shutting down")
		a.Engine.Shutdown()

		deadline := time.Now().Add(releaseTimeout)
		for a.Trainer.Connected() && a.Trainer.PendingCommands() > 0 && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}

		for _, d := range a.Devices() {
			d.SetWanted(false)
		}
		a.cancel()
		a.wg.Wait()

		if a.history != nil {
			if err := a.history.Close(); err != nil {
				a.logger.Printf("App: Closing history: %v", err)
			}
		}
		if a.manager != nil {
			a.manager.Shutdown()
		}
		a.logger.Printf("App: Shutdown complete")
	})
}
