package device

import (
	"log"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/bt"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
)

// HeartRateSink receives decoded heart rate measurements.
type HeartRateSink interface {
	UpdateHeartRate(m ftms.HeartRateMeasurement)
}

// HeartRateMonitor subscribes to Heart Rate Measurement on every connect and
// feeds the decoded values to its sink.
type HeartRateMonitor struct {
	*Device
	sink   HeartRateSink
	logger *log.Logger
}

func NewHeartRateMonitor(cfg Config, adapter bt.Adapter, lock *ScanLock, sink HeartRateSink, logger *log.Logger) *HeartRateMonitor {
	if sink == nil {
		panic("HeartRateMonitor: sink cannot be nil")
	}
	cfg.Type = TypeHeartRateMonitor
	h := &HeartRateMonitor{sink: sink, logger: logger}
	h.Device = NewDevice(cfg, adapter, lock, h, logger)
	return h
}

func (h *HeartRateMonitor) OnConnected() {
	h.Subscribe(ftms.HeartRateMeasurementChar)
}

func (h *HeartRateMonitor) OnDisconnected() {}

func (h *HeartRateMonitor) OnNotify(char ftms.Characteristic, buf []byte) {
	if char.UUID != ftms.CharUUIDHeartRateMeasurement {
		return
	}
	m, err := ftms.DecodeHeartRate(buf)
	if err != nil {
		h.logger.Printf("HeartRateMonitor[%s]: % X: %v", h.Name(), buf, err)
		return
	}
	h.sink.UpdateHeartRate(m)
}
