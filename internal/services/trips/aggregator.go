// Package trips owns trip state: the per-trip aggregator that derives route
// statistics, and the tracker that binds aggregators to location streams.
package trips

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyActive = errors.New("trip already active")
	ErrNotActive     = errors.New("no active trip")
	ErrFinished      = errors.New("trip already finished")
	ErrPersistence   = errors.New("trip persistence failed")
)

type State int

const (
	StateIdle State = iota
	StateActive
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

type Persister interface {
	SaveTrip(ctx context.Context, t *models.Trip) error
}

// Aggregator holds one trip and its statistics. It is not safe for
// concurrent use.
type Aggregator struct {
	store Persister
	now   func() time.Time
	newID func() string
	log   *logrus.Entry

	state State
	trip  *models.Trip
	dirty bool
}

func NewAggregator(store Persister) *Aggregator {
	return &Aggregator{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logrus.WithField("component", "trip_aggregator"),
	}
}

func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	if now != nil {
		a.now = now
	}
	return a
}

func (a *Aggregator) WithIDs(newID func() string) *Aggregator {
	if newID != nil {
		a.newID = newID
	}
	return a
}

func (a *Aggregator) State() State { return a.state }

// Dirty reports whether the last write of the trip failed.
func (a *Aggregator) Dirty() bool { return a.dirty }

// Snapshot returns a copy of the trip, or nil before the first Start.
func (a *Aggregator) Snapshot() *models.Trip { return a.trip.Clone() }

func (a *Aggregator) TripID() string {
	if a.trip == nil {
		return ""
	}
	return a.trip.ID
}

// Start opens a new trip seeded with initial. A persistence failure is
// returned together with the trip id: the trip is active regardless.
func (a *Aggregator) Start(ctx context.Context, driverID, vehicleID string, initial models.LocationSample) (string, error) {
	switch a.state {
	case StateActive:
		return "", errors.Wrapf(ErrAlreadyActive, "trip %s", a.trip.ID)
	case StateCompleted, StateCancelled:
		return "", ErrFinished
	}
	if driverID == "" || vehicleID == "" {
		return "", errors.New("driver and vehicle are required")
	}
	if err := initial.Validate(); err != nil {
		return "", err
	}

	now := a.now()
	a.trip = &models.Trip{
		ID:            a.newID(),
		DriverID:      driverID,
		VehicleID:     vehicleID,
		Status:        models.TripStatusActive,
		StartTime:     now,
		StartLocation: initial,
		Locations:     []models.LocationSample{initial},
		LastUpdated:   now,
	}
	a.state = StateActive
	a.log.WithFields(logrus.Fields{"trip_id": a.trip.ID, "driver_id": driverID, "vehicle_id": vehicleID}).Info("trip started")
	return a.trip.ID, a.persist(ctx)
}

// Restore adopts an active trip loaded from storage, e.g. after a restart.
func (a *Aggregator) Restore(t *models.Trip) error {
	if a.state != StateIdle {
		return errors.Wrapf(ErrAlreadyActive, "aggregator is %s", a.state)
	}
	if t == nil || t.Status != models.TripStatusActive || len(t.Locations) == 0 {
		return errors.Wrap(ErrNotActive, "restore needs an active trip with locations")
	}
	a.trip = t.Clone()
	a.state = StateActive
	return nil
}

// AddSample appends s to the active trip. Outside the Active state the
// sample is dropped with a warning and nil is returned.
func (a *Aggregator) AddSample(ctx context.Context, s models.LocationSample) error {
	if a.state != StateActive {
		a.log.WithFields(logrus.Fields{"trip_id": a.TripID(), "state": a.state.String()}).Warn("sample dropped: trip not active")
		return nil
	}
	if err := s.Validate(); err != nil {
		return err
	}
	a.appendSample(s)
	a.trip.LastUpdated = a.now()
	a.recompute(a.trip.LastUpdated)
	return a.persist(ctx)
}

// Stop completes the trip with final as its last sample.
func (a *Aggregator) Stop(ctx context.Context, final models.LocationSample) (*models.Trip, error) {
	if a.state != StateActive {
		return nil, ErrNotActive
	}
	if err := final.Validate(); err != nil {
		return nil, err
	}
	a.appendSample(final)
	end := a.now()
	a.finish(end, models.TripStatusCompleted)
	endLoc := final
	a.trip.EndLocation = &endLoc
	a.state = StateCompleted
	a.log.WithFields(logrus.Fields{
		"trip_id":  a.trip.ID,
		"distance": a.trip.TotalDistance,
		"samples":  len(a.trip.Locations),
	}).Info("trip completed")
	return a.trip.Clone(), a.persist(ctx)
}

// Cancel ends the trip without a final sample, keeping what was recorded.
func (a *Aggregator) Cancel(ctx context.Context, reason string) (*models.Trip, error) {
	if a.state != StateActive {
		return nil, ErrNotActive
	}
	a.finish(a.now(), models.TripStatusCancelled)
	a.trip.CancelReason = reason
	a.state = StateCancelled
	a.log.WithFields(logrus.Fields{"trip_id": a.trip.ID, "reason": reason}).Warn("trip cancelled")
	return a.trip.Clone(), a.persist(ctx)
}

// Reset returns a finished aggregator to Idle. Unflushed state is dropped.
func (a *Aggregator) Reset() error {
	if a.state == StateActive {
		return errors.Wrapf(ErrAlreadyActive, "trip %s", a.trip.ID)
	}
	a.state = StateIdle
	a.trip = nil
	a.dirty = false
	return nil
}

// Flush retries the full trip write after a failure.
func (a *Aggregator) Flush(ctx context.Context) error {
	if !a.dirty || a.trip == nil {
		return nil
	}
	return a.persist(ctx)
}

func (a *Aggregator) appendSample(s models.LocationSample) {
	if last := a.trip.Locations[len(a.trip.Locations)-1]; s.Timestamp.Before(last.Timestamp) {
		a.trip.OutOfOrderSamples++
		a.log.WithFields(logrus.Fields{
			"trip_id":  a.trip.ID,
			"previous": last.Timestamp,
			"sample":   s.Timestamp,
		}).Warn("out-of-order sample kept in arrival order")
	}
	a.trip.Locations = append(a.trip.Locations, s)
}

func (a *Aggregator) finish(end time.Time, status models.TripStatus) {
	a.trip.EndTime = &end
	a.trip.Duration = end.Sub(a.trip.StartTime).Milliseconds()
	a.trip.Status = status
	a.trip.LastUpdated = end
	a.recompute(end)
}

func (a *Aggregator) recompute(at time.Time) {
	a.trip.TotalDistance = geo.RouteDistance(a.trip.Locations)
	a.trip.AverageSpeed = 0
	if elapsed := at.Sub(a.trip.StartTime).Seconds(); elapsed > 0 {
		a.trip.AverageSpeed = a.trip.TotalDistance / elapsed
	}
}

func (a *Aggregator) persist(ctx context.Context) error {
	if err := a.store.SaveTrip(ctx, a.trip.Clone()); err != nil {
		a.dirty = true
		a.log.WithError(err).WithField("trip_id", a.trip.ID).Warn("trip write failed, kept in memory")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	a.dirty = false
	return nil
}
