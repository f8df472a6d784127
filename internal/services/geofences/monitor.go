package geofences

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FleetTrack/internal/broker/messages"
	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type visitKey struct {
	driverID   string
	geofenceID string
}

type visit struct {
	since   time.Time
	dwelled bool
}

type MonitorStats struct {
	Fences  int   `json:"fences"`
	Inside  int   `json:"inside"`
	Events  int64 `json:"events"`
	Alerts  int64 `json:"alerts"`
	Skipped int64 `json:"skipped"`
}

// Monitor tracks, per driver and geofence, whether the driver is inside and
// raises alerts on transitions. Time inside is measured on sample timestamps.
type Monitor struct {
	repo  Repository
	pub   Publisher
	topic string
	log   *logrus.Entry

	mu     sync.Mutex
	fences []models.Geofence
	visits map[visitKey]*visit
	unsub  docstore.Unsubscribe

	events  atomic.Int64
	alerts  atomic.Int64
	skipped atomic.Int64
}

func NewMonitor(repo Repository, pub Publisher, topic string) *Monitor {
	return &Monitor{
		repo:   repo,
		pub:    pub,
		topic:  topic,
		log:    logrus.WithField("component", "geofence-monitor"),
		visits: map[visitKey]*visit{},
	}
}

// Start loads the geofence set and keeps it current until Stop or ctx is
// done.
func (m *Monitor) Start(ctx context.Context) error {
	fences, err := m.repo.ListGeofences(ctx)
	if err != nil {
		return errors.Wrap(err, "load geofences")
	}
	m.SetGeofences(fences)

	unsub, err := m.repo.SubscribeGeofences(ctx, func(fences []models.Geofence, err error) {
		if err != nil {
			m.log.WithError(err).Warn("geofence subscription error")
			return
		}
		m.SetGeofences(fences)
	})
	if err != nil {
		return errors.Wrap(err, "subscribe geofences")
	}

	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// SetGeofences replaces the monitored set. Visit state of fences that are
// gone is dropped.
func (m *Monitor) SetGeofences(fences []models.Geofence) {
	valid := make([]models.Geofence, 0, len(fences))
	ids := make(map[string]struct{}, len(fences))
	for _, g := range fences {
		if err := g.Validate(); err != nil {
			m.log.WithError(err).WithField("geofence_id", g.ID).Warn("skipping invalid geofence")
			continue
		}
		valid = append(valid, g)
		ids[g.ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fences = valid
	for k := range m.visits {
		if _, ok := ids[k.geofenceID]; !ok {
			delete(m.visits, k)
		}
	}
}

// HandleMessage decodes a trip event from the broker and evaluates it.
// Undecodable messages are skipped; only storage failures are returned.
func (m *Monitor) HandleMessage(ctx context.Context, key, value []byte) error {
	var ev messages.TripEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		m.skipped.Add(1)
		m.log.WithError(err).WithField("key", string(key)).Warn("skipping undecodable trip event")
		return nil
	}
	_, err := m.Evaluate(ctx, ev)
	return err
}

type change struct {
	key    visitKey
	v      *visit
	remove bool
}

// Evaluate applies one trip event. A terminal event forgets the driver.
// Alerts are stored before the visit state moves on, so an event whose
// alerts could not be stored can be evaluated again.
func (m *Monitor) Evaluate(ctx context.Context, ev messages.TripEvent) ([]models.GeofenceAlert, error) {
	m.events.Add(1)
	if ev.DriverID == "" {
		m.skipped.Add(1)
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Terminal() {
		for k := range m.visits {
			if k.driverID == ev.DriverID {
				delete(m.visits, k)
			}
		}
		return nil, nil
	}
	if ev.Sample == nil {
		return nil, nil
	}

	at := ev.Sample.Timestamp
	pt := ev.Sample.Coordinate()

	var (
		alerts  []models.GeofenceAlert
		changes []change
	)
	for _, g := range m.fences {
		k := visitKey{driverID: ev.DriverID, geofenceID: g.ID}
		v, was := m.visits[k]
		inside := geo.IsWithinGeofence(pt, g)

		switch {
		case inside && !was:
			changes = append(changes, change{key: k, v: &visit{since: at}})
			if g.Alerts.OnEntry {
				alerts = append(alerts, newAlert(g, models.GeofenceAlertEntry, ev, pt, at))
			}
		case inside && was:
			if g.Alerts.OnDwell && !v.dwelled && at.Sub(v.since) >= g.Alerts.DwellTime {
				changes = append(changes, change{key: k, v: &visit{since: v.since, dwelled: true}})
				alerts = append(alerts, newAlert(g, models.GeofenceAlertDwell, ev, pt, at))
			}
		case !inside && was:
			changes = append(changes, change{key: k, remove: true})
			if g.Alerts.OnExit {
				alerts = append(alerts, newAlert(g, models.GeofenceAlertExit, ev, pt, at))
			}
		}
	}

	for _, a := range alerts {
		if err := m.repo.SaveAlert(ctx, a); err != nil {
			return nil, errors.Wrapf(err, "save %s alert for geofence %s", a.Kind, a.GeofenceID)
		}
	}

	for _, c := range changes {
		if c.remove {
			delete(m.visits, c.key)
		} else {
			m.visits[c.key] = c.v
		}
	}

	for _, a := range alerts {
		m.alerts.Add(1)
		m.publish(ctx, a)
	}
	return alerts, nil
}

func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	fences, inside := len(m.fences), len(m.visits)
	m.mu.Unlock()
	return MonitorStats{
		Fences:  fences,
		Inside:  inside,
		Events:  m.events.Load(),
		Alerts:  m.alerts.Load(),
		Skipped: m.skipped.Load(),
	}
}

func (m *Monitor) publish(ctx context.Context, a models.GeofenceAlert) {
	log := m.log.WithFields(logrus.Fields{
		"geofence_id": a.GeofenceID,
		"driver_id":   a.DriverID,
		"kind":        a.Kind,
	})
	if m.pub == nil {
		log.Info("geofence alert")
		return
	}
	b, err := json.Marshal(messages.NewGeofenceAlert(a))
	if err != nil {
		log.WithError(err).Error("encode geofence alert")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := m.pub.Publish(ctx, m.topic, []byte(a.DriverID), b); err != nil {
		log.WithError(err).Warn("publish geofence alert")
	}
}

// newAlert derives the id from the transition itself so that storing the
// same alert twice overwrites one record.
func newAlert(g models.Geofence, kind models.GeofenceAlertKind, ev messages.TripEvent, pt models.Coordinate, at time.Time) models.GeofenceAlert {
	name := fmt.Sprintf("%s|%s|%s|%s|%d", ev.TripID, ev.DriverID, g.ID, kind, at.UnixNano())
	return models.GeofenceAlert{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(),
		GeofenceID:   g.ID,
		GeofenceName: g.Name,
		Kind:         kind,
		TripID:       ev.TripID,
		DriverID:     ev.DriverID,
		VehicleID:    ev.VehicleID,
		Location:     pt,
		At:           at,
	}
}
