package trips

import (
	"context"
	"errors"
	"sync"

	"github.com/BearBump/FleetTrack/internal/broker/messages"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/sirupsen/logrus"
)

// Session binds one aggregator to one location subscription. Every
// aggregator call goes through mu.
type Session struct {
	driverID  string
	vehicleID string

	t       *Tracker
	sampler *sampler.Sampler
	ctx     context.Context
	log     *logrus.Entry

	mu   sync.Mutex
	agg  *Aggregator
	sub  *sampler.Subscription
	last models.LocationSample
	done bool
}

func (s *Session) DriverID() string  { return s.driverID }
func (s *Session) VehicleID() string { return s.vehicleID }

func (s *Session) Snapshot() *models.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Snapshot()
}

// Key identifies the session for the flusher.
func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.TripID()
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Dirty()
}

// Flush retries a failed trip write.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Flush(ctx)
}

func (s *Session) handle(u sampler.Update) {
	if u.Err != nil {
		s.log.WithError(u.Err).Warn("location tracking lost")
		if _, err := s.t.cancelSession(s.ctx, s, "tracking_lost: "+u.Err.Error()); err != nil && !errors.Is(err, ErrNotActive) {
			s.log.WithError(err).Warn("cancel after tracking loss")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.agg.State() != StateActive {
		s.log.WithField("state", s.agg.State().String()).Warn("sample dropped: trip not active")
		return
	}

	err := s.agg.AddSample(s.ctx, u.Sample)
	switch {
	case err == nil:
	case isPersistence(err):
		s.t.notifyDirty()
	default:
		s.log.WithError(err).Warn("sample rejected")
		return
	}
	s.last = u.Sample

	tripID := s.agg.TripID()
	s.t.recordLocation(s.ctx, s.driverID, tripID, u.Sample)
	sample := u.Sample
	s.t.publish(s.ctx, messages.TripEvent{
		Type:      messages.TripSample,
		TripID:    tripID,
		DriverID:  s.driverID,
		VehicleID: s.vehicleID,
		Sample:    &sample,
		At:        s.t.now(),
	})
}
