package device

import (
	"sync"

	"github.com/BearBump/FleetTrack/internal/sampler"
)

// Source resolves the location device of a driver.
type Source interface {
	For(driverID string) sampler.Device
}

// Mux routes drivers to attached devices (route replays, mostly) and falls
// back to another source for everyone else.
type Mux struct {
	fallback Source

	mu       sync.RWMutex
	attached map[string]sampler.Device
}

func NewMux(fallback Source) *Mux {
	return &Mux{fallback: fallback, attached: make(map[string]sampler.Device)}
}

func (m *Mux) Attach(driverID string, dev sampler.Device) {
	m.mu.Lock()
	m.attached[driverID] = dev
	m.mu.Unlock()
}

func (m *Mux) Detach(driverID string) {
	m.mu.Lock()
	delete(m.attached, driverID)
	m.mu.Unlock()
}

func (m *Mux) For(driverID string) sampler.Device {
	m.mu.RLock()
	dev, ok := m.attached[driverID]
	m.mu.RUnlock()
	if ok {
		return dev
	}
	return m.fallback.For(driverID)
}
