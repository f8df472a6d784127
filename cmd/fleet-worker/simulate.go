package main

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/FleetTrack/internal/integrations/device"
	"github.com/BearBump/FleetTrack/internal/integrations/device/replay"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errSimulationRunning = errors.New("simulation already running for driver")

type simTracker interface {
	Begin(ctx context.Context, driverID, vehicleID string) (*models.Trip, error)
	End(ctx context.Context, driverID string) (*models.Trip, error)
}

// simulator drives trips along GeoJSON routes through the regular tracker,
// so simulated drivers produce the same events as real ones.
type simulator struct {
	tracker  simTracker
	mux      *device.Mux
	speed    float64
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

func newSimulator(tracker simTracker, mux *device.Mux, speedMps float64, interval time.Duration) *simulator {
	return &simulator{
		tracker:  tracker,
		mux:      mux,
		speed:    speedMps,
		interval: interval,
		log:      logrus.WithField("component", "simulator"),
		running:  make(map[string]struct{}),
	}
}

type simulation struct {
	Trip     *models.Trip  `json:"trip"`
	LengthM  float64       `json:"lengthMeters"`
	Duration time.Duration `json:"durationNs"`
}

// Start begins a trip for driverID on the route and ends it once the route
// has been driven. ctx bounds the whole simulation.
func (s *simulator) Start(ctx context.Context, driverID, vehicleID string, route []byte) (*simulation, error) {
	if driverID == "" || vehicleID == "" {
		return nil, errors.New("driverId and vehicleId are required")
	}
	dev, err := replay.FromGeoJSON(route, s.speed, s.interval)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, ok := s.running[driverID]; ok {
		s.mu.Unlock()
		return nil, errors.Wrap(errSimulationRunning, driverID)
	}
	s.running[driverID] = struct{}{}
	s.mu.Unlock()

	s.mux.Attach(driverID, dev)
	trip, err := s.tracker.Begin(ctx, driverID, vehicleID)
	if err != nil {
		s.finish(driverID)
		return nil, err
	}

	// one extra tick lets the final point reach the trip before it ends
	drive := time.Duration(dev.Length()/s.speed*float64(time.Second)) + s.interval
	log := s.log.WithFields(logrus.Fields{"driver_id": driverID, "trip_id": trip.ID})
	log.WithField("route_m", dev.Length()).Info("simulation started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(driverID)

		timer := time.NewTimer(drive)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, err := s.tracker.End(endCtx, driverID); err != nil {
			log.WithError(err).Warn("simulated trip not ended")
			return
		}
		log.Info("simulation finished")
	}()

	return &simulation{Trip: trip, LengthM: dev.Length(), Duration: drive}, nil
}

func (s *simulator) finish(driverID string) {
	s.mux.Detach(driverID)
	s.mu.Lock()
	delete(s.running, driverID)
	s.mu.Unlock()
}

func (s *simulator) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Wait blocks until every simulation goroutine has returned.
func (s *simulator) Wait() {
	s.wg.Wait()
}
