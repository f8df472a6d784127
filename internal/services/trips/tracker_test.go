package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/internal/broker/messages"
	"github.com/BearBump/FleetTrack/internal/cache"
	"github.com/BearBump/FleetTrack/internal/cache/rediscache"
	"github.com/BearBump/FleetTrack/internal/integrations/device/fake"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/BearBump/FleetTrack/internal/services/barcodes"
	"github.com/BearBump/FleetTrack/internal/storage/fleetrepo"
	"github.com/BearBump/FleetTrack/internal/storage/memdocs"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, topic string, key, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

func (m *publisherMock) types() []messages.TripEventType {
	var out []messages.TripEventType
	for _, c := range m.Calls {
		var ev messages.TripEvent
		if json.Unmarshal(c.Arguments.Get(3).([]byte), &ev) == nil {
			out = append(out, ev.Type)
		}
	}
	return out
}

type devices struct {
	mu sync.Mutex
	m  map[string]*fake.Device
}

func (d *devices) For(driverID string) sampler.Device {
	return d.get(driverID)
}

func (d *devices) get(driverID string) *fake.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.m[driverID]
	if !ok {
		dev = fake.Granted()
		d.m[driverID] = dev
	}
	return dev
}

// lostOnWatch reports permission loss as the very first watch fix.
type lostOnWatch struct {
	*fake.Device
}

func (d lostOnWatch) Watch(ctx context.Context, mode sampler.Mode, accuracy sampler.Accuracy) (<-chan sampler.Fix, error) {
	ch := make(chan sampler.Fix, 1)
	ch <- sampler.Fix{Err: sampler.ErrPermissionDenied}
	return ch, nil
}

type sourceFunc func(driverID string) sampler.Device

func (f sourceFunc) For(driverID string) sampler.Device { return f(driverID) }

type TrackerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memdocs.Store
	repo    *fleetrepo.Repo
	mr      *miniredis.Miniredis
	cache   *rediscache.RedisCache
	pub     *publisherMock
	devices *devices
	tracker *Tracker
	dirty   chan struct{}
}

func (s *TrackerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memdocs.New()
	s.repo = fleetrepo.New(s.store)
	s.mr = miniredis.RunT(s.T())
	s.cache = rediscache.New(s.mr.Addr())
	s.pub = &publisherMock{}
	s.pub.On("Publish", mock.Anything, "trip.events", mock.Anything, mock.Anything).Return(nil)
	s.devices = &devices{m: map[string]*fake.Device{}}
	s.dirty = make(chan struct{}, 16)

	settings := DefaultSettings()
	settings.Watch = sampler.WatchOptions{Accuracy: sampler.AccuracyHigh}
	settings.FixTimeout = 100 * time.Millisecond

	s.tracker = NewTracker(s.repo, s.devices, settings).
		WithCache(s.cache).
		WithPublisher(s.pub).
		WithScans(barcodes.New(s.repo)).
		OnDirty(func() { s.dirty <- struct{}{} })
}

func (s *TrackerSuite) TearDownTest() {
	s.tracker.Close(s.ctx)
	s.store.Close()
	_ = s.cache.Close()
}

func (s *TrackerSuite) fix(driverID string, smp models.LocationSample) *fake.Device {
	dev := s.devices.get(driverID)
	dev.SetFix(smp, nil)
	return dev
}

func (s *TrackerSuite) waitLocations(driverID string, n int) *models.Trip {
	var trip *models.Trip
	s.Require().Eventually(func() bool {
		var ok bool
		trip, ok = s.tracker.Get(driverID)
		return ok && len(trip.Locations) == n
	}, 2*time.Second, 5*time.Millisecond)
	return trip
}

func (s *TrackerSuite) TestBeginSampleEnd() {
	smp := line(time.Now(), 4)
	dev := s.fix("d1", smp[0])

	trip, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusActive, trip.Status)

	stored, err := s.repo.ActiveTrip(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Equal(trip.ID, stored.ID)

	dev.Emit(sampler.ModeForeground, smp[1])
	dev.Emit(sampler.ModeForeground, smp[2])
	s.waitLocations("d1", 3)

	loc, err := s.tracker.DriverLocation(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Equal(trip.ID, loc.TripID)
	s.Require().Equal(smp[2].Latitude, loc.Location.Latitude)
	s.Require().True(s.mr.Exists(cache.DriverLocationKey("d1")))

	dev.SetFix(smp[3], nil)
	done, err := s.tracker.End(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusCompleted, done.Status)
	s.Require().InDelta(300, done.TotalDistance, 0.5)
	s.Require().Equal(smp[3], *done.EndLocation)

	_, ok := s.tracker.Get("d1")
	s.Require().False(ok)
	got, err := s.repo.GetTrip(s.ctx, trip.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusCompleted, got.Status)

	s.Require().False(s.mr.Exists(cache.DriverLocationKey("d1")))
	cleared, err := s.repo.GetDriverLocation(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Empty(cleared.TripID)

	s.Require().Equal([]messages.TripEventType{
		messages.TripStarted, messages.TripSample, messages.TripSample, messages.TripCompleted,
	}, s.pub.types())

	_, err = s.tracker.End(s.ctx, "d1")
	s.Require().ErrorIs(err, ErrNotActive)
}

func (s *TrackerSuite) TestBegin_Conflicts() {
	smp := line(time.Now(), 1)
	s.fix("d1", smp[0])
	s.fix("d2", smp[0])

	_, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)

	_, err = s.tracker.Begin(s.ctx, "d1", "v2")
	s.Require().ErrorIs(err, ErrAlreadyActive)
	_, err = s.tracker.Begin(s.ctx, "d2", "v1")
	s.Require().ErrorIs(err, ErrVehicleInUse)

	s.Require().Len(s.tracker.Active(), 1)
}

func (s *TrackerSuite) TestBegin_WithoutPermission() {
	dev := s.devices.get("d1")
	dev.SetPermissions(sampler.Permissions{})
	dev.SetGrants(false, false)

	_, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().ErrorIs(err, sampler.ErrPermissionDenied)
	s.Require().Empty(s.tracker.Active())

	dev.SetPermissions(sampler.Permissions{Foreground: true})
	dev.SetFix(line(time.Now(), 1)[0], nil)
	_, err = s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)
}

func (s *TrackerSuite) TestPermissionLossCancelsTrip() {
	smp := line(time.Now(), 2)
	dev := s.fix("d1", smp[0])

	trip, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)
	dev.Emit(sampler.ModeForeground, smp[1])
	s.waitLocations("d1", 2)

	dev.Fail(sampler.ModeForeground, sampler.ErrPermissionDenied)
	s.Require().Eventually(func() bool {
		_, ok := s.tracker.Get("d1")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	got, err := s.repo.GetTrip(s.ctx, trip.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusCancelled, got.Status)
	s.Require().True(strings.HasPrefix(got.CancelReason, "tracking_lost: "))
	s.Require().Len(got.Locations, 2)
	s.Require().Nil(got.EndLocation)
}

func (s *TrackerSuite) TestPermissionLostOnFirstWatchFix() {
	smp := line(time.Now(), 1)[0]
	settings := DefaultSettings()
	settings.Watch = sampler.WatchOptions{Accuracy: sampler.AccuracyHigh}
	tracker := NewTracker(s.repo, sourceFunc(func(string) sampler.Device {
		dev := fake.Granted()
		dev.SetFix(smp, nil)
		return lostOnWatch{Device: dev}
	}), settings)
	defer tracker.Close(s.ctx)

	for i := 0; i < 20; i++ {
		driverID := fmt.Sprintf("d%d", i)
		trip, err := tracker.Begin(s.ctx, driverID, fmt.Sprintf("v%d", i))
		s.Require().NoError(err)

		s.Require().Eventually(func() bool {
			got, err := s.repo.GetTrip(s.ctx, trip.ID)
			return err == nil && got.Status == models.TripStatusCancelled
		}, 2*time.Second, 5*time.Millisecond)
		_, ok := tracker.Get(driverID)
		s.Require().False(ok)

		got, err := s.repo.GetTrip(s.ctx, trip.ID)
		s.Require().NoError(err)
		s.Require().True(strings.HasPrefix(got.CancelReason, "tracking_lost: "))
	}
}

func (s *TrackerSuite) TestEnd_FallsBackToLastSample() {
	smp := line(time.Now(), 2)
	dev := s.fix("d1", smp[0])

	_, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)
	dev.Emit(sampler.ModeForeground, smp[1])
	s.waitLocations("d1", 2)

	dev.Hang()
	done, err := s.tracker.End(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Equal(smp[1], *done.EndLocation)
	s.Require().Len(done.Locations, 3)
	s.Require().InDelta(100, done.TotalDistance, 0.5)
}

func (s *TrackerSuite) TestLateSampleAfterEndIsDropped() {
	smp := line(time.Now(), 3)
	s.fix("d1", smp[1])
	_, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)
	sess, err := s.tracker.session("d1")
	s.Require().NoError(err)

	done, err := s.tracker.End(s.ctx, "d1")
	s.Require().NoError(err)

	sess.handle(sampler.Update{Sample: smp[2]})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.Require().Equal(StateCompleted, sess.agg.State())
	s.Require().Len(sess.agg.Snapshot().Locations, len(done.Locations))
}

func (s *TrackerSuite) TestCancel() {
	s.fix("d1", line(time.Now(), 1)[0])
	_, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)

	trip, err := s.tracker.Cancel(s.ctx, "d1", "driver_request")
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusCancelled, trip.Status)
	s.Require().Equal("driver_request", trip.CancelReason)

	_, err = s.tracker.Cancel(s.ctx, "d1", "again")
	s.Require().ErrorIs(err, ErrNotActive)
}

func (s *TrackerSuite) TestPersistenceFailureIsRetried() {
	smp := line(time.Now(), 2)
	dev := s.fix("d1", smp[0])
	trip, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)

	s.store.FailWrites(errors.New("offline"))
	dev.Emit(sampler.ModeForeground, smp[1])
	s.waitLocations("d1", 2)

	select {
	case <-s.dirty:
	case <-time.After(2 * time.Second):
		s.FailNow("dirty hook not called")
	}
	dirty := s.tracker.DirtySessions()
	s.Require().Len(dirty, 1)
	s.Require().Equal(trip.ID, dirty[0].Key())
	s.Require().Error(dirty[0].Flush(s.ctx))

	s.store.FailWrites(nil)
	s.Require().NoError(dirty[0].Flush(s.ctx))
	s.Require().Empty(s.tracker.DirtySessions())

	got, err := s.repo.GetTrip(s.ctx, trip.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Locations, 2)
}

func (s *TrackerSuite) TestEndedDirtySessionStaysUntilFlushed() {
	smp := line(time.Now(), 2)
	s.fix("d1", smp[0])
	trip, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)

	s.store.FailWrites(errors.New("offline"))
	_, err = s.tracker.End(s.ctx, "d1")
	s.Require().NoError(err)

	dirty := s.tracker.DirtySessions()
	s.Require().Len(dirty, 1)
	s.store.FailWrites(nil)
	s.Require().NoError(dirty[0].Flush(s.ctx))
	s.Require().Empty(s.tracker.DirtySessions())

	got, err := s.repo.GetTrip(s.ctx, trip.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusCompleted, got.Status)
}

func (s *TrackerSuite) TestScanToggle() {
	scans := barcodes.New(s.repo)
	v, err := scans.AddVehicle(s.ctx, models.Vehicle{RegistrationNo: "KBA123A", CompanyID: "c1"})
	s.Require().NoError(err)
	b, err := scans.Create(s.ctx, v.ID, "manager")
	s.Require().NoError(err)
	other, err := scans.AddVehicle(s.ctx, models.Vehicle{RegistrationNo: "KBB999Z", CompanyID: "c1"})
	s.Require().NoError(err)
	ob, err := scans.Create(s.ctx, other.ID, "manager")
	s.Require().NoError(err)

	s.fix("d1", line(time.Now(), 1)[0])

	res, err := s.tracker.ScanToggle(s.ctx, "not-a-code", "d1")
	s.Require().NoError(err)
	s.Require().Equal(ActionRejected, res.Action)
	s.Require().Equal(barcodes.OutcomeInvalidFormat, res.Scan.Outcome)

	res, err = s.tracker.ScanToggle(s.ctx, b.BarcodeData, "d1")
	s.Require().NoError(err)
	s.Require().Equal(ActionStarted, res.Action)
	s.Require().Equal(v.ID, res.Trip.VehicleID)

	res, err = s.tracker.ScanToggle(s.ctx, ob.BarcodeData, "d1")
	s.Require().ErrorIs(err, ErrAlreadyActive)
	s.Require().Equal(ActionRejected, res.Action)

	res, err = s.tracker.ScanToggle(s.ctx, b.BarcodeData, "d1")
	s.Require().NoError(err)
	s.Require().Equal(ActionStopped, res.Action)
	s.Require().Equal(models.TripStatusCompleted, res.Trip.Status)

	stored, err := scans.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Require().Equal(int64(2), stored.ScanCount)
}

func (s *TrackerSuite) TestResume() {
	smp := line(time.Now(), 2)
	stored := &models.Trip{
		ID: "t-resume", DriverID: "d1", VehicleID: "v1", Status: models.TripStatusActive,
		StartTime: smp[0].Timestamp, StartLocation: smp[0], Locations: smp[:1], LastUpdated: smp[0].Timestamp,
	}
	s.Require().NoError(s.repo.SaveTrip(s.ctx, stored))

	trip, err := s.tracker.Resume(s.ctx, "d1")
	s.Require().NoError(err)
	s.Require().Equal("t-resume", trip.ID)

	s.devices.get("d1").Emit(sampler.ModeForeground, smp[1])
	got := s.waitLocations("d1", 2)
	s.Require().InDelta(100, got.TotalDistance, 0.5)

	_, err = s.tracker.Resume(s.ctx, "d2")
	s.Require().ErrorIs(err, ErrNotActive)
}

func (s *TrackerSuite) TestCloseLeavesTripsActive() {
	s.fix("d1", line(time.Now(), 1)[0])
	trip, err := s.tracker.Begin(s.ctx, "d1", "v1")
	s.Require().NoError(err)

	s.tracker.Close(s.ctx)
	s.Require().Empty(s.tracker.Active())

	got, err := s.repo.GetTrip(s.ctx, trip.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.TripStatusActive, got.Status)
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}
