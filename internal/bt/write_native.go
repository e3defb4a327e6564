//go:build darwin || windows

package bt

import "tinygo.org/x/bluetooth"

// writeCharacteristic writes to a characteristic with a write request.
func writeCharacteristic(c *bluetooth.DeviceCharacteristic, data []byte) (int, error) {
	return c.Write(data)
}
