package bt

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/safe_map"
	"tinygo.org/x/bluetooth"
)

// Verify btPeripheral implements Peripheral
var _ Peripheral = (*btPeripheral)(nil)

// btPeripheral is a connected tinygo device with a lazily filled service and
// characteristic cache.
type btPeripheral struct {
	address   string
	device    bluetooth.Device
	logger    *log.Logger
	connected atomic.Bool

	bleMu                  sync.Mutex // serializes GATT operations and discovery
	allServicesDiscovered  bool
	serviceByUuid          *safe_map.SafeMap[string, *bluetooth.DeviceService]
	characteristicByUuid   *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic]
	serviceCharsDiscovered *safe_map.SafeMap[string, bool]
}

func newBtPeripheral(logger *log.Logger, address string, device bluetooth.Device) *btPeripheral {
	if logger == nil {
		panic("btPeripheral: logger cannot be nil")
	}
	p := &btPeripheral{
		address:                address,
		device:                 device,
		logger:                 logger,
		serviceByUuid:          safe_map.NewSafeMap[string, *bluetooth.DeviceService](),
		characteristicByUuid:   safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
		serviceCharsDiscovered: safe_map.NewSafeMap[string, bool](),
	}
	p.connected.Store(true)
	return p
}

func (p *btPeripheral) Address() string {
	return p.address
}

func (p *btPeripheral) IsConnected() bool {
	return p.connected.Load()
}

// markDisconnected is called from the adapter connect handler. Cached GATT
// handles are invalid after a disconnect.
func (p *btPeripheral) markDisconnected() {
	p.connected.Store(false)
	p.serviceByUuid.Clear()
	p.characteristicByUuid.Clear()
	p.serviceCharsDiscovered.Clear()
	p.bleMu.Lock()
	p.allServicesDiscovered = false
	p.bleMu.Unlock()
}

func (p *btPeripheral) EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error {
	p.bleMu.Lock()
	defer p.bleMu.Unlock()

	characteristic, err := p.characteristic(serviceUuid, characteristicUuid)
	if err != nil {
		return err
	}
	if err := characteristic.EnableNotifications(callbackFunc); err != nil {
		return fmt.Errorf("enable notifications on %s: %w", characteristicUuid, err)
	}
	p.logger.Printf("BTDevice[%s]: notifications enabled for %s", p.address, characteristicUuid)
	return nil
}

func (p *btPeripheral) DisableNotifications(serviceUuid string, characteristicUuid string) error {
	p.bleMu.Lock()
	defer p.bleMu.Unlock()

	characteristic, err := p.characteristic(serviceUuid, characteristicUuid)
	if err != nil {
		return err
	}
	// A nil callback disables notifications
	if err := characteristic.EnableNotifications(nil); err != nil {
		return fmt.Errorf("disable notifications on %s: %w", characteristicUuid, err)
	}
	p.logger.Printf("BTDevice[%s]: notifications disabled for %s", p.address, characteristicUuid)
	return nil
}

func (p *btPeripheral) ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error) {
	p.bleMu.Lock()
	defer p.bleMu.Unlock()

	characteristic, err := p.characteristic(serviceUuid, characteristicUuid)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := characteristic.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", characteristicUuid, err)
	}
	return buf[:n], nil
}

func (p *btPeripheral) WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error {
	p.bleMu.Lock()
	defer p.bleMu.Unlock()

	characteristic, err := p.characteristic(serviceUuid, characteristicUuid)
	if err != nil {
		return err
	}
	if _, err := writeCharacteristic(characteristic, data); err != nil {
		return fmt.Errorf("write %s: %w", characteristicUuid, err)
	}
	return nil
}

func (p *btPeripheral) Disconnect() error {
	if !p.connected.Load() {
		return nil
	}
	err := p.device.Disconnect()
	p.markDisconnected()
	return err
}

// characteristic resolves a characteristic through the cache, discovering all
// services once and all characteristics of a service once. Discovering single
// services repeatedly interrupts services that are already in use.
// Must be called with bleMu held.
func (p *btPeripheral) characteristic(serviceUuidStr, charUuidStr string) (*bluetooth.DeviceCharacteristic, error) {
	if !p.connected.Load() {
		return nil, fmt.Errorf("%s: %w", p.address, ErrNotConnected)
	}

	serviceUuid, err := bluetooth.ParseUUID(serviceUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUuidStr, err)
	}
	charUuid, err := bluetooth.ParseUUID(charUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", charUuidStr, err)
	}
	serviceKey := serviceUuid.String()
	comboKey := serviceKey + "_" + charUuid.String()

	if c, ok := p.characteristicByUuid.Load(comboKey); ok {
		return c, nil
	}

	if discovered, _ := p.serviceCharsDiscovered.Load(serviceKey); !discovered {
		service, err := p.service(serviceKey)
		if err != nil {
			return nil, err
		}
		p.logger.Printf("BTDevice[%s]: discovering characteristics of %s", p.address, serviceKey)
		chars, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discover characteristics of %s: %w", serviceKey, err)
		}
		for i := range chars {
			c := &chars[i]
			p.characteristicByUuid.Store(serviceKey+"_"+c.UUID().String(), c)
		}
		p.serviceCharsDiscovered.Store(serviceKey, true)
	}

	c, ok := p.characteristicByUuid.Load(comboKey)
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s", charUuidStr, serviceUuidStr)
	}
	return c, nil
}

func (p *btPeripheral) service(serviceKey string) (*bluetooth.DeviceService, error) {
	if s, ok := p.serviceByUuid.Load(serviceKey); ok {
		return s, nil
	}
	if !p.allServicesDiscovered {
		p.logger.Printf("BTDevice[%s]: discovering all services", p.address)
		services, err := p.device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("discover services: %w", err)
		}
		for i := range services {
			s := &services[i]
			p.serviceByUuid.Store(s.UUID().String(), s)
		}
		p.allServicesDiscovered = true
	}
	s, ok := p.serviceByUuid.Load(serviceKey)
	if !ok {
		return nil, fmt.Errorf("service %s not found on device", serviceKey)
	}
	return s, nil
}
