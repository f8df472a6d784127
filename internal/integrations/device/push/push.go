// Package push implements devices fed by driver apps over HTTP: the app
// posts its samples and permission state, and the tracker watches them like
// any other location source.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/FleetTrack/internal/integrations/device"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/pkg/errors"
)

const DefaultMaxFixAge = 30 * time.Second

type Device struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	perms   sampler.Permissions
	last    *models.LocationSample
	lastAt  time.Time
	waiters []chan models.LocationSample
	streams *device.Streams
}

// New returns a device that assumes the app was installed with location
// access granted until it reports otherwise.
func New(maxAge time.Duration) *Device {
	if maxAge <= 0 {
		maxAge = DefaultMaxFixAge
	}
	return &Device{
		maxAge:  maxAge,
		now:     time.Now,
		perms:   sampler.Permissions{Foreground: true, Background: true},
		streams: device.NewStreams(),
	}
}

// Push records a sample reported by the app and forwards it to watchers of mode.
func (d *Device) Push(mode sampler.Mode, s models.LocationSample) error {
	if err := s.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	if !d.perms.Foreground {
		d.mu.Unlock()
		return sampler.ErrPermissionDenied
	}
	cp := s
	d.last = &cp
	d.lastAt = d.now()
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	for _, w := range waiters {
		w <- s
	}
	d.streams.Emit(mode, sampler.Fix{Sample: s})
	return nil
}

// ReportPermissions updates the permission state. Losing foreground access
// fails every running watch; losing background access only ends the
// background streams.
func (d *Device) ReportPermissions(p sampler.Permissions) {
	if !p.Foreground {
		p.Background = false
	}

	d.mu.Lock()
	d.perms = p
	d.mu.Unlock()

	if !p.Foreground {
		fail := sampler.Fix{Err: errors.Wrap(sampler.ErrPermissionDenied, "revoked by device")}
		d.streams.Emit(sampler.ModeForeground, fail)
		d.streams.CloseMode(sampler.ModeBackground)
		return
	}
	if !p.Background {
		d.streams.CloseMode(sampler.ModeBackground)
	}
}

func (d *Device) Last() (models.LocationSample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return models.LocationSample{}, false
	}
	return *d.last, true
}

func (d *Device) Permissions(ctx context.Context) (sampler.Permissions, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perms, nil
}

// RequestForeground cannot prompt the driver from the server; it reports
// the state last sent by the app.
func (d *Device) RequestForeground(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perms.Foreground, nil
}

func (d *Device) RequestBackground(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perms.Background, nil
}

// CurrentFix returns the last sample if it is fresh enough, otherwise waits
// for the next push.
func (d *Device) CurrentFix(ctx context.Context, accuracy sampler.Accuracy) (models.LocationSample, error) {
	d.mu.Lock()
	if !d.perms.Foreground {
		d.mu.Unlock()
		return models.LocationSample{}, sampler.ErrPermissionDenied
	}
	if d.last != nil && d.now().Sub(d.lastAt) <= d.maxAge {
		s := *d.last
		d.mu.Unlock()
		return s, nil
	}
	w := make(chan models.LocationSample, 1)
	d.waiters = append(d.waiters, w)
	d.mu.Unlock()

	select {
	case s := <-w:
		return s, nil
	case <-ctx.Done():
		d.dropWaiter(w)
		return models.LocationSample{}, ctx.Err()
	}
}

func (d *Device) dropWaiter(w chan models.LocationSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.waiters {
		if x == w {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			return
		}
	}
}

func (d *Device) Watch(ctx context.Context, mode sampler.Mode, accuracy sampler.Accuracy) (<-chan sampler.Fix, error) {
	d.mu.Lock()
	perms := d.perms
	d.mu.Unlock()
	if !perms.Foreground || (mode == sampler.ModeBackground && !perms.Background) {
		return nil, sampler.ErrPermissionDenied
	}
	return d.streams.Add(ctx, mode), nil
}

// Registry keeps one push device per driver.
type Registry struct {
	maxAge time.Duration

	mu      sync.Mutex
	devices map[string]*Device
}

func NewRegistry(maxAge time.Duration) *Registry {
	return &Registry{maxAge: maxAge, devices: make(map[string]*Device)}
}

// Device returns the driver's device, creating it on first use.
func (r *Registry) Device(driverID string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[driverID]
	if !ok {
		d = New(r.maxAge)
		r.devices[driverID] = d
	}
	return d
}

func (r *Registry) For(driverID string) sampler.Device {
	return r.Device(driverID)
}
