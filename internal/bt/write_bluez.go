//go:build !darwin && !windows

package bt

import "tinygo.org/x/bluetooth"

// writeCharacteristic writes to a characteristic. Outside darwin and windows
// the adapter only offers WriteValue without a write type; BlueZ then sends a
// write request when the characteristic allows one, which the control point
// does.
func writeCharacteristic(c *bluetooth.DeviceCharacteristic, data []byte) (int, error) {
	return c.WriteWithoutResponse(data)
}
