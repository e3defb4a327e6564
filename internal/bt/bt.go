// Package bt wraps the tinygo bluetooth central API behind two small
// interfaces so device connections can run against real hardware or the
// simulated peripherals in mock.go.
package bt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNotConnected   = errors.New("peripheral not connected")
)

// Target identifies the peripheral a scan should stop at. Address wins when
// set; otherwise the advertised local name must match.
type Target struct {
	Address string
	Name    string
}

func (t Target) Matches(address, localName string) bool {
	if t.Address != "" {
		return strings.EqualFold(t.Address, address)
	}
	return t.Name != "" && t.Name == localName
}

func (t Target) String() string {
	if t.Address != "" {
		return t.Address
	}
	return fmt.Sprintf("name=%q", t.Name)
}

// ScanResult is what a scan reports about the matched advertisement.
type ScanResult struct {
	Address   string
	LocalName string
	RSSI      int16
}

// Adapter is the shared BLE radio. Scan and Connect are expected to be
// serialized by the caller (see device.ScanLock).
type Adapter interface {
	Scan(ctx context.Context, target Target) (ScanResult, error)
	Connect(ctx context.Context, address string) (Peripheral, error)
}

// Peripheral is one connected GATT server. Services and characteristics are
// addressed by their full 128-bit UUID strings.
type Peripheral interface {
	Address() string
	IsConnected() bool
	EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error
	DisableNotifications(serviceUuid string, characteristicUuid string) error
	ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error)
	WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error
	Disconnect() error
}

// transientMarkers are fragments of BlueZ/D-Bus errors that clear up when the
// same operation is simply issued again.
var transientMarkers = []string{
	"In Progress",
	"InProgress",
	"in progress",
	"Resource temporarily unavailable",
	"Operation now in progress",
	"busy",
}

// IsTransient reports whether err is a known transient transport error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// TransientError marks an error as retryable. The simulated peripherals use it
// to reproduce flaky control point writes.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Transient() bool { return true }
