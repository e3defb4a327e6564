package app

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/device"
)

type preferencesData struct {
	AddressByDeviceType map[string]string `json:"address_by_device_type"`
}

// preferences remembers the address each device slot last connected to, so a
// sensor configured by name is reconnected by address on the next start.
type preferences struct {
	filePath string
	logger   *log.Logger

	mu   sync.Mutex
	data preferencesData
}

func newPreferences(filePath string, logger *log.Logger) *preferences {
	p := &preferences{
		filePath: filePath,
		logger:   logger,
	}
	p.load()
	return p
}

func (p *preferences) address(t device.Type) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.AddressByDeviceType[t.String()]
}

// setAddress stores address for t, writing the file only when it changed.
func (p *preferences) setAddress(t device.Type, address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if address == "" || p.data.AddressByDeviceType[t.String()] == address {
		return
	}
	p.logger.Printf("Preferences: %s -> %q", t, address)
	p.data.AddressByDeviceType[t.String()] = address
	p.save()
}

func (p *preferences) load() {
	p.data = preferencesData{AddressByDeviceType: make(map[string]string)}
	if p.filePath == "" {
		return
	}
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("Preferences: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("Preferences: load %s failed to parse: %v", p.filePath, err)
	}
	if p.data.AddressByDeviceType == nil {
		p.data.AddressByDeviceType = make(map[string]string)
	}
}

// save expects p.mu held.
func (p *preferences) save() {
	if p.filePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0o755); err != nil {
		p.logger.Printf("Preferences: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("Preferences: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0o644); err != nil {
		p.logger.Printf("Preferences: save %s failed: %v", p.filePath, err)
	}
}
