// Package replay drives a location device along a fixed route, for
// simulations and demos.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/pkg/errors"
)

var ErrShortRoute = errors.New("route needs at least two points")

type Device struct {
	route    []models.Coordinate
	cum      []float64
	speed    float64
	interval time.Duration
	now      func() time.Time

	mu  sync.Mutex
	pos models.LocationSample
}

// New replays route at speedMps, emitting one sample per interval.
func New(route []models.Coordinate, speedMps float64, interval time.Duration) (*Device, error) {
	if len(route) < 2 {
		return nil, ErrShortRoute
	}
	if speedMps <= 0 {
		return nil, errors.New("speed must be positive")
	}
	if interval <= 0 {
		interval = time.Second
	}
	cum := make([]float64, len(route))
	for i := 1; i < len(route); i++ {
		cum[i] = cum[i-1] + geo.DistanceMeters(route[i-1], route[i])
	}
	d := &Device{
		route:    route,
		cum:      cum,
		speed:    speedMps,
		interval: interval,
		now:      time.Now,
	}
	d.pos = d.sampleAt(0, d.now())
	return d, nil
}

func FromGeoJSON(raw []byte, speedMps float64, interval time.Duration) (*Device, error) {
	route, err := geo.LineStringFromGeoJSON(raw)
	if err != nil {
		return nil, err
	}
	return New(route, speedMps, interval)
}

func (d *Device) Length() float64 {
	return d.cum[len(d.cum)-1]
}

// At returns the point distance meters along the route, clamped to its ends.
func (d *Device) At(distance float64) models.Coordinate {
	c, _ := d.locate(distance)
	return c
}

func (d *Device) locate(distance float64) (models.Coordinate, float64) {
	last := len(d.route) - 1
	if distance <= 0 {
		return d.route[0], geo.Bearing(d.route[0], d.route[1])
	}
	if distance >= d.cum[last] {
		return d.route[last], geo.Bearing(d.route[last-1], d.route[last])
	}
	i := 1
	for d.cum[i] < distance {
		i++
	}
	a, b := d.route[i-1], d.route[i]
	bearing := geo.Bearing(a, b)
	return geo.Destination(a, bearing, distance-d.cum[i-1]), bearing
}

func (d *Device) sampleAt(distance float64, at time.Time) models.LocationSample {
	c, bearing := d.locate(distance)
	speed := d.speed
	if distance >= d.Length() {
		speed = 0
	}
	acc := 5.0
	return models.LocationSample{
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		Accuracy:  &acc,
		Heading:   &bearing,
		Speed:     &speed,
		Timestamp: at,
	}
}

func (d *Device) Permissions(ctx context.Context) (sampler.Permissions, error) {
	return sampler.Permissions{Foreground: true, Background: true}, nil
}

func (d *Device) RequestForeground(ctx context.Context) (bool, error) { return true, nil }

func (d *Device) RequestBackground(ctx context.Context) (bool, error) { return true, nil }

func (d *Device) CurrentFix(ctx context.Context, accuracy sampler.Accuracy) (models.LocationSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.pos
	s.Timestamp = d.now()
	return s, nil
}

// Watch starts a replay from the beginning of the route. Background watches
// stay silent; the foreground stream carries the whole replay and keeps
// reporting the final point once the route is done.
func (d *Device) Watch(ctx context.Context, mode sampler.Mode, accuracy sampler.Accuracy) (<-chan sampler.Fix, error) {
	out := make(chan sampler.Fix)
	if mode == sampler.ModeBackground {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}

	go func() {
		defer close(out)
		start := d.now()
		t := time.NewTicker(d.interval)
		defer t.Stop()

		for step := 0; ; step++ {
			elapsed := time.Duration(step) * d.interval
			s := d.sampleAt(d.speed*elapsed.Seconds(), start.Add(elapsed))
			d.mu.Lock()
			d.pos = s
			d.mu.Unlock()

			select {
			case out <- sampler.Fix{Sample: s}:
			case <-ctx.Done():
				return
			}
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
