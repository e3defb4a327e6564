package bt

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/safe_map"

	"tinygo.org/x/bluetooth"
)

// Verify Manager implements Adapter
var _ Adapter = (*Manager)(nil)

// Manager drives a tinygo bluetooth adapter. It remembers the address object of
// every matched scan result, so Connect works with whatever address type the
// platform reports.
type Manager struct {
	adapter        *bluetooth.Adapter
	logger         *log.Logger
	connectTimeout time.Duration

	scanMu      sync.Mutex // the radio runs one scan at a time
	scanned     *safe_map.SafeMap[string, bluetooth.Address]
	peripherals *safe_map.SafeMap[string, *btPeripheral]
}

func NewManager(adapter *bluetooth.Adapter, logger *log.Logger, connectTimeout time.Duration) *Manager {
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Manager{
		adapter:        adapter,
		logger:         logger,
		connectTimeout: connectTimeout,
		scanned:        safe_map.NewSafeMap[string, bluetooth.Address](),
		peripherals:    safe_map.NewSafeMap[string, *btPeripheral](),
	}
}

// Enable powers the adapter and installs the connect handler that tracks link
// loss for every peripheral this manager connected.
func (m *Manager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		address := strings.ToUpper(device.Address.String())
		p, ok := m.peripherals.Load(address)
		if connected {
			m.logger.Printf("BTManager: device connected: %s", address)
			return
		}
		m.logger.Printf("BTManager: device disconnected: %s", address)
		if ok {
			p.markDisconnected()
			m.peripherals.Delete(address)
		}
	})
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	return nil
}

// Scan blocks until an advertisement matching target is seen or ctx ends.
func (m *Manager) Scan(ctx context.Context, target Target) (ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}

	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	stopScan := func() {
		if err := m.adapter.StopScan(); err != nil && !strings.Contains(err.Error(), "no scan in progress") {
			m.logger.Printf("BTManager: failed to stop scan: %v", err)
		}
	}

	m.logger.Printf("BTManager: scanning for %v", target)

	var (
		mu     sync.Mutex
		result *ScanResult
	)
	err := runScan(ctx, m.logger, func() error {
		return m.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			address := strings.ToUpper(r.Address.String())
			if !target.Matches(address, r.LocalName()) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result != nil {
				return
			}
			m.scanned.Store(address, r.Address)
			result = &ScanResult{Address: address, LocalName: r.LocalName(), RSSI: r.RSSI}
			stopScan()
		})
	}, stopScan)

	mu.Lock()
	defer mu.Unlock()
	if result != nil {
		m.logger.Printf("BTManager: found %s (%s) [RSSI: %d]", result.LocalName, result.Address, result.RSSI)
		return *result, nil
	}
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan for %v: %w", target, err)
	}
	return ScanResult{}, fmt.Errorf("scan for %v: %w: %v", target, ErrDeviceNotFound, ctx.Err())
}

// runScan runs scan, calling stop if ctx ends first. The stopper goroutine
// has exited by the time runScan returns, so it cannot stop a later scan.
func runScan(ctx context.Context, logger *log.Logger, scan func() error, stop func()) error {
	finished := make(chan struct{})
	stopped := make(chan struct{})
	go_func_utils.SafeGo(logger, "bt-scan-stopper", func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			stop()
		case <-finished:
		}
	})

	err := scan()
	close(finished)
	<-stopped
	return err
}

// Connect opens a link to a previously scanned address. The connection
// timeout comes from ctx when it carries a deadline.
func (m *Manager) Connect(ctx context.Context, address string) (Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	address = strings.ToUpper(address)
	addr, ok := m.scanned.Load(address)
	if !ok {
		return nil, fmt.Errorf("connect %s: %w (not seen by a scan)", address, ErrDeviceNotFound)
	}

	timeout := m.connectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	params := bluetooth.ConnectionParams{ConnectionTimeout: bluetooth.NewDuration(timeout)}

	m.logger.Printf("BTManager: connecting to %s (timeout %v)", address, timeout)
	device, err := m.adapter.Connect(addr, params)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	p := newBtPeripheral(m.logger, address, device)
	m.peripherals.Store(address, p)
	return p, nil
}

// Shutdown disconnects every peripheral still linked through this manager.
func (m *Manager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	m.peripherals.Range(func(address string, p *btPeripheral) bool {
		if err := p.Disconnect(); err != nil {
			m.logger.Printf("BTManager: error disconnecting from %s: %v", address, err)
		}
		return true
	})
	m.peripherals.Clear()
	m.logger.Println("BTManager: Shutdown complete")
}
