package trips

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/BearBump/FleetTrack/internal/broker/messages"
	"github.com/BearBump/FleetTrack/internal/cache"
	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/integrations/device"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/BearBump/FleetTrack/internal/services/barcodes"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrVehicleInUse = pkgerrors.New("vehicle is on another driver's trip")

type Repository interface {
	Persister
	ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error)
	SetDriverLocation(ctx context.Context, loc models.DriverLocation) error
	ClearDriverLocation(ctx context.Context, driverID string) error
	GetDriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type ScanResolver interface {
	Resolve(ctx context.Context, raw, scannedBy string) barcodes.ScanResult
}

type Settings struct {
	Watch       sampler.WatchOptions
	FixTimeout  time.Duration
	LocationTTL time.Duration
	EventsTopic string
}

func DefaultSettings() Settings {
	return Settings{
		Watch: sampler.WatchOptions{
			Accuracy:          sampler.AccuracyHigh,
			MinInterval:       5 * time.Second,
			MinDistanceMeters: 10,
			Background:        true,
		},
		FixTimeout:  sampler.DefaultFixTimeout,
		LocationTTL: 10 * time.Minute,
		EventsTopic: "trip.events",
	}
}

const publishTimeout = 5 * time.Second

// Tracker runs the trips of many drivers, one Session per driver.
type Tracker struct {
	repo     Repository
	devices  device.Source
	settings Settings
	now      func() time.Time
	log      *logrus.Entry

	cache   cache.BytesCache
	pub     Publisher
	scans   ScanResolver
	onDirty func()

	mu       sync.Mutex
	sessions map[string]*Session
	starting map[string]string
	ended    map[*Session]struct{}
}

func NewTracker(repo Repository, devices device.Source, settings Settings) *Tracker {
	return &Tracker{
		repo:     repo,
		devices:  devices,
		settings: settings,
		now:      time.Now,
		log:      logrus.WithField("component", "trip_tracker"),
		sessions: make(map[string]*Session),
		starting: make(map[string]string),
		ended:    make(map[*Session]struct{}),
	}
}

func (t *Tracker) WithCache(c cache.BytesCache) *Tracker {
	t.cache = c
	return t
}

func (t *Tracker) WithPublisher(p Publisher) *Tracker {
	t.pub = p
	return t
}

func (t *Tracker) WithScans(r ScanResolver) *Tracker {
	t.scans = r
	return t
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	if now != nil {
		t.now = now
	}
	return t
}

// OnDirty registers fn to be called whenever a trip write fails.
func (t *Tracker) OnDirty(fn func()) *Tracker {
	t.onDirty = fn
	return t
}

func (t *Tracker) notifyDirty() {
	if t.onDirty != nil {
		t.onDirty()
	}
}

func isPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

func (t *Tracker) reserve(driverID, vehicleID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[driverID]; ok {
		return pkgerrors.Wrapf(ErrAlreadyActive, "driver %s on vehicle %s", driverID, s.vehicleID)
	}
	if _, ok := t.starting[driverID]; ok {
		return pkgerrors.Wrapf(ErrAlreadyActive, "driver %s is starting a trip", driverID)
	}
	for d, s := range t.sessions {
		if s.vehicleID == vehicleID {
			return pkgerrors.Wrapf(ErrVehicleInUse, "vehicle %s, driver %s", vehicleID, d)
		}
	}
	for d, v := range t.starting {
		if v == vehicleID {
			return pkgerrors.Wrapf(ErrVehicleInUse, "vehicle %s, driver %s", vehicleID, d)
		}
	}
	t.starting[driverID] = vehicleID
	return nil
}

func (t *Tracker) release(driverID string) {
	t.mu.Lock()
	delete(t.starting, driverID)
	t.mu.Unlock()
}

func (t *Tracker) newSession(ctx context.Context, driverID, vehicleID string) *Session {
	smp := sampler.New(t.devices.For(driverID)).WithFixTimeout(t.settings.FixTimeout)
	return &Session{
		driverID:  driverID,
		vehicleID: vehicleID,
		t:         t,
		sampler:   smp,
		ctx:       context.WithoutCancel(ctx),
		log:       t.log.WithFields(logrus.Fields{"driver_id": driverID, "vehicle_id": vehicleID}),
		agg:       NewAggregator(t.repo).WithClock(t.now),
	}
}

// Begin starts a trip for the driver from a fresh location fix and keeps
// recording until End or Cancel. A failed first write does not stop the
// trip; the flusher retries it.
func (t *Tracker) Begin(ctx context.Context, driverID, vehicleID string) (*models.Trip, error) {
	if driverID == "" || vehicleID == "" {
		return nil, pkgerrors.New("driverId and vehicleId are required")
	}
	if err := t.reserve(driverID, vehicleID); err != nil {
		return nil, err
	}
	defer t.release(driverID)

	s := t.newSession(ctx, driverID, vehicleID)
	initial, err := s.sampler.CurrentSample(ctx, t.settings.Watch.Accuracy)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "initial location")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tripID, err := s.agg.Start(ctx, driverID, vehicleID, initial)
	if err != nil && !isPersistence(err) {
		return nil, err
	}
	if err != nil {
		t.notifyDirty()
	}
	s.log = s.log.WithField("trip_id", tripID)
	s.last = initial

	if err := t.watch(s); err != nil {
		trip, _ := s.agg.Cancel(s.ctx, "watch_failed: "+err.Error())
		t.finishLocked(s, trip)
		return nil, err
	}
	t.register(s)

	t.recordLocation(s.ctx, driverID, tripID, initial)
	t.publish(s.ctx, messages.TripEvent{
		Type: messages.TripStarted, TripID: tripID, DriverID: driverID, VehicleID: vehicleID,
		Sample: &initial, Trip: s.agg.Snapshot(), At: t.now(),
	})
	return s.agg.Snapshot(), nil
}

// Resume picks up the driver's active trip from storage, e.g. after a
// restart, and continues recording it.
func (t *Tracker) Resume(ctx context.Context, driverID string) (*models.Trip, error) {
	stored, err := t.repo.ActiveTrip(ctx, driverID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, pkgerrors.Wrapf(ErrNotActive, "driver %s", driverID)
		}
		return nil, err
	}
	if err := t.reserve(driverID, stored.VehicleID); err != nil {
		return nil, err
	}
	defer t.release(driverID)

	s := t.newSession(ctx, driverID, stored.VehicleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.agg.Restore(stored); err != nil {
		return nil, err
	}
	s.log = s.log.WithField("trip_id", stored.ID)
	s.last = stored.Locations[len(stored.Locations)-1]
	if err := t.watch(s); err != nil {
		return nil, err
	}
	t.register(s)
	s.log.Info("trip resumed")
	return s.agg.Snapshot(), nil
}

func (t *Tracker) watch(s *Session) error {
	if t.settings.Watch.Background {
		if _, err := s.sampler.RequestPermissions(s.ctx, sampler.ScopeBackground); err != nil {
			s.log.WithError(err).Warn("background permission request failed")
		}
	}
	sub, err := s.sampler.StartWatching(s.ctx, t.settings.Watch, s.handle)
	if err != nil {
		return pkgerrors.Wrap(err, "start location watch")
	}
	s.sub = sub
	return nil
}

func (t *Tracker) register(s *Session) {
	t.mu.Lock()
	t.sessions[s.driverID] = s
	t.mu.Unlock()
}

func (t *Tracker) session(driverID string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[driverID]
	if !ok {
		return nil, pkgerrors.Wrapf(ErrNotActive, "driver %s", driverID)
	}
	return s, nil
}

// End completes the driver's trip. The final sample is a fresh fix, or the
// last recorded sample when no fix can be had.
func (t *Tracker) End(ctx context.Context, driverID string) (*models.Trip, error) {
	s, err := t.session(driverID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sub.Stop()
	s.mu.Unlock()

	final, fixErr := s.sampler.CurrentSample(ctx, t.settings.Watch.Accuracy)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, pkgerrors.Wrapf(ErrNotActive, "driver %s", driverID)
	}
	if fixErr != nil {
		s.log.WithError(fixErr).Warn("no final fix, ending at last recorded sample")
		final = s.last
	}

	trip, err := s.agg.Stop(ctx, final)
	if err != nil && !isPersistence(err) {
		return nil, err
	}
	if err != nil {
		t.notifyDirty()
	}
	t.finishLocked(s, trip)
	t.publish(s.ctx, messages.TripEvent{
		Type: messages.TripCompleted, TripID: trip.ID, DriverID: s.driverID, VehicleID: s.vehicleID,
		Sample: &final, Trip: trip, At: t.now(),
	})
	return trip, nil
}

// Cancel ends the driver's trip without a final sample.
func (t *Tracker) Cancel(ctx context.Context, driverID, reason string) (*models.Trip, error) {
	s, err := t.session(driverID)
	if err != nil {
		return nil, err
	}
	return t.cancelSession(ctx, s, reason)
}

// cancelSession may run on the sampler goroutine before Begin has stored
// s.sub; finishLocked stops the subscription under s.mu.
func (t *Tracker) cancelSession(ctx context.Context, s *Session, reason string) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, ErrNotActive
	}
	trip, err := s.agg.Cancel(ctx, reason)
	if err != nil && !isPersistence(err) {
		return nil, err
	}
	if err != nil {
		t.notifyDirty()
	}
	t.finishLocked(s, trip)
	t.publish(s.ctx, messages.TripEvent{
		Type: messages.TripCancelled, TripID: trip.ID, DriverID: s.driverID, VehicleID: s.vehicleID,
		Trip: trip, At: t.now(),
	})
	return trip, nil
}

// finishLocked retires a session whose trip just ended. s.mu must be held.
func (t *Tracker) finishLocked(s *Session, trip *models.Trip) {
	s.done = true
	if s.sub != nil {
		s.sub.Stop()
	}

	t.mu.Lock()
	if cur, ok := t.sessions[s.driverID]; ok && cur == s {
		delete(t.sessions, s.driverID)
	}
	if s.agg.Dirty() {
		t.ended[s] = struct{}{}
	}
	t.mu.Unlock()

	if err := t.repo.ClearDriverLocation(s.ctx, s.driverID); err != nil {
		s.log.WithError(err).Warn("clear driver location")
	}
	if t.cache != nil {
		if err := t.cache.Del(s.ctx, cache.DriverLocationKey(s.driverID)); err != nil {
			s.log.WithError(err).Warn("drop cached driver location")
		}
	}
	if trip != nil {
		s.log.WithField("status", trip.Status).Info("session closed")
	}
}

// Get returns the driver's active trip.
func (t *Tracker) Get(driverID string) (*models.Trip, bool) {
	s, err := t.session(driverID)
	if err != nil {
		return nil, false
	}
	return s.Snapshot(), true
}

// Active returns the trips currently being recorded.
func (t *Tracker) Active() []*models.Trip {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	out := make([]*models.Trip, 0, len(sessions))
	for _, s := range sessions {
		if trip := s.Snapshot(); trip != nil {
			out = append(out, trip)
		}
	}
	return out
}

// DirtySessions returns sessions whose last trip write failed, including
// ended ones. Ended sessions are forgotten once their write succeeds.
func (t *Tracker) DirtySessions() []*Session {
	t.mu.Lock()
	candidates := make([]*Session, 0, len(t.sessions)+len(t.ended))
	for _, s := range t.sessions {
		candidates = append(candidates, s)
	}
	for s := range t.ended {
		candidates = append(candidates, s)
	}
	t.mu.Unlock()

	var out []*Session
	for _, s := range candidates {
		if s.Dirty() {
			out = append(out, s)
			continue
		}
		t.mu.Lock()
		delete(t.ended, s)
		t.mu.Unlock()
	}
	return out
}

// Close stops recording without ending any trip; active trips stay active
// in storage and can be resumed.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.sessions = make(map[string]*Session)
	t.mu.Unlock()

	for _, s := range sessions {
		s.sub.Stop()
		<-s.sub.Done()
		s.mu.Lock()
		s.done = true
		if err := s.agg.Flush(ctx); err != nil {
			s.log.WithError(err).Error("trip not flushed on shutdown")
		}
		s.mu.Unlock()
	}
}

func (t *Tracker) recordLocation(ctx context.Context, driverID, tripID string, sample models.LocationSample) {
	loc := models.DriverLocation{
		DriverID:    driverID,
		TripID:      tripID,
		Location:    sample,
		Geohash:     geo.Geohash(sample.Coordinate(), geo.DefaultGeohashPrecision),
		LastUpdated: t.now(),
	}
	if err := t.repo.SetDriverLocation(ctx, loc); err != nil {
		t.log.WithError(err).WithField("driver_id", driverID).Warn("driver location not stored")
	}
	if t.cache == nil {
		return
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := t.cache.Set(ctx, cache.DriverLocationKey(driverID), b, t.settings.LocationTTL); err != nil {
		t.log.WithError(err).WithField("driver_id", driverID).Warn("driver location not cached")
	}
}

// DriverLocation returns the driver's last known location, from the cache
// when possible.
func (t *Tracker) DriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	if t.cache != nil {
		if b, ok, err := t.cache.Get(ctx, cache.DriverLocationKey(driverID)); err == nil && ok {
			var loc models.DriverLocation
			if json.Unmarshal(b, &loc) == nil {
				return &loc, nil
			}
		}
	}
	return t.repo.GetDriverLocation(ctx, driverID)
}

func (t *Tracker) publish(ctx context.Context, ev messages.TripEvent) {
	if t.pub == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.log.WithError(err).Error("encode trip event")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := t.pub.Publish(ctx, t.settings.EventsTopic, []byte(ev.TripID), b); err != nil {
		t.log.WithError(err).WithFields(logrus.Fields{"trip_id": ev.TripID, "type": ev.Type}).Warn("trip event not published")
	}
}
