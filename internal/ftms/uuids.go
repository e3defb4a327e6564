// Package ftms encodes and decodes the Bluetooth SIG Heart Rate and Fitness
// Machine Service frames used to talk to a heart rate strap and a smart trainer.
//
// Everything in this package is pure: no BLE, no I/O, no shared state.
package ftms

// Full 128-bit forms of the 16-bit SIG assigned UUIDs.
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	ServiceUUIDFitnessMachine          = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDFitnessMachineFeature      = "00002acc-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData             = "00002ad2-0000-1000-8000-00805f9b34fb"
	CharUUIDTrainingStatus             = "00002ad3-0000-1000-8000-00805f9b34fb"
	CharUUIDSupportedResistanceRange   = "00002ad6-0000-1000-8000-00805f9b34fb"
	CharUUIDSupportedPowerRange        = "00002ad8-0000-1000-8000-00805f9b34fb"
	CharUUIDFitnessMachineControlPoint = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDFitnessMachineStatus       = "00002ada-0000-1000-8000-00805f9b34fb"
)

// Characteristic addresses one GATT characteristic inside its service.
type Characteristic struct {
	Service string
	UUID    string
	Name    string
}

func (c Characteristic) String() string {
	if c.Name != "" {
		return c.Name
	}
	return c.UUID
}

var (
	HeartRateMeasurementChar = Characteristic{ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, "Heart Rate Measurement"}

	FitnessMachineFeature      = Characteristic{ServiceUUIDFitnessMachine, CharUUIDFitnessMachineFeature, "Fitness Machine Feature"}
	IndoorBikeDataChar         = Characteristic{ServiceUUIDFitnessMachine, CharUUIDIndoorBikeData, "Indoor Bike Data"}
	TrainingStatusChar         = Characteristic{ServiceUUIDFitnessMachine, CharUUIDTrainingStatus, "Training Status"}
	SupportedResistanceRange   = Characteristic{ServiceUUIDFitnessMachine, CharUUIDSupportedResistanceRange, "Supported Resistance Level Range"}
	SupportedPowerRange        = Characteristic{ServiceUUIDFitnessMachine, CharUUIDSupportedPowerRange, "Supported Power Range"}
	FitnessMachineControlPoint = Characteristic{ServiceUUIDFitnessMachine, CharUUIDFitnessMachineControlPoint, "Fitness Machine Control Point"}
	FitnessMachineStatusChar   = Characteristic{ServiceUUIDFitnessMachine, CharUUIDFitnessMachineStatus, "Fitness Machine Status"}
)
