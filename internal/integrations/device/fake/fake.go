// Package fake is a scripted location device for tests and local runs.
package fake

import (
	"context"
	"sync"

	"github.com/BearBump/FleetTrack/internal/integrations/device"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
)

type Device struct {
	mu sync.Mutex

	perms    sampler.Permissions
	permsErr error
	grantFG  bool
	grantBG  bool

	fix      models.LocationSample
	fixErr   error
	hang     bool
	watchErr error

	fgRequests int
	bgRequests int

	streams *device.Streams
}

// New returns a device that has no permissions yet and grants whatever is asked.
func New() *Device {
	return &Device{grantFG: true, grantBG: true, streams: device.NewStreams()}
}

// Granted returns a device with both permissions already granted.
func Granted() *Device {
	d := New()
	d.perms = sampler.Permissions{Foreground: true, Background: true}
	return d
}

func (d *Device) SetPermissions(p sampler.Permissions) {
	d.mu.Lock()
	d.perms = p
	d.mu.Unlock()
}

func (d *Device) SetPermissionsError(err error) {
	d.mu.Lock()
	d.permsErr = err
	d.mu.Unlock()
}

// SetGrants scripts the answers to permission requests.
func (d *Device) SetGrants(foreground, background bool) {
	d.mu.Lock()
	d.grantFG, d.grantBG = foreground, background
	d.mu.Unlock()
}

func (d *Device) SetFix(s models.LocationSample, err error) {
	d.mu.Lock()
	d.fix, d.fixErr, d.hang = s, err, false
	d.mu.Unlock()
}

// Hang makes CurrentFix block until its context is done.
func (d *Device) Hang() {
	d.mu.Lock()
	d.hang = true
	d.mu.Unlock()
}

func (d *Device) SetWatchError(err error) {
	d.mu.Lock()
	d.watchErr = err
	d.mu.Unlock()
}

func (d *Device) Requests() (foreground, background int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fgRequests, d.bgRequests
}

func (d *Device) Emit(mode sampler.Mode, s models.LocationSample) {
	d.streams.Emit(mode, sampler.Fix{Sample: s})
}

func (d *Device) Fail(mode sampler.Mode, err error) {
	d.streams.Emit(mode, sampler.Fix{Err: err})
}

func (d *Device) CloseStreams(mode sampler.Mode) {
	d.streams.CloseMode(mode)
}

func (d *Device) Watchers(mode sampler.Mode) int {
	return d.streams.Count(mode)
}

func (d *Device) Permissions(ctx context.Context) (sampler.Permissions, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.permsErr != nil {
		return sampler.Permissions{}, d.permsErr
	}
	return d.perms, nil
}

func (d *Device) RequestForeground(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fgRequests++
	d.perms.Foreground = d.perms.Foreground || d.grantFG
	return d.perms.Foreground, nil
}

func (d *Device) RequestBackground(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bgRequests++
	d.perms.Background = d.perms.Background || (d.perms.Foreground && d.grantBG)
	return d.perms.Background, nil
}

func (d *Device) CurrentFix(ctx context.Context, accuracy sampler.Accuracy) (models.LocationSample, error) {
	d.mu.Lock()
	hang, fix, err := d.hang, d.fix, d.fixErr
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return models.LocationSample{}, ctx.Err()
	}
	return fix, err
}

func (d *Device) Watch(ctx context.Context, mode sampler.Mode, accuracy sampler.Accuracy) (<-chan sampler.Fix, error) {
	d.mu.Lock()
	err := d.watchErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.streams.Add(ctx, mode), nil
}
