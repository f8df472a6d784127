package sampler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/internal/integrations/device/fake"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func sample(lat, lng float64, d time.Duration) models.LocationSample {
	return models.LocationSample{Latitude: lat, Longitude: lng, Timestamp: t0.Add(d)}
}

func collect() (chan sampler.Update, func(sampler.Update)) {
	ch := make(chan sampler.Update, 32)
	return ch, func(u sampler.Update) { ch <- u }
}

func next(t *testing.T, ch <-chan sampler.Update) sampler.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return sampler.Update{}
	}
}

func TestCheckPermissions_FallsBackToCache(t *testing.T) {
	dev := fake.New()
	s := sampler.New(dev)

	dev.SetPermissions(sampler.Permissions{Foreground: true})
	require.Equal(t, sampler.Permissions{Foreground: true}, s.CheckPermissions(context.Background()))

	dev.SetPermissionsError(errors.New("platform down"))
	require.Equal(t, sampler.Permissions{Foreground: true}, s.CheckPermissions(context.Background()))
}

func TestRequestPermissions_BackgroundOnlyAfterForeground(t *testing.T) {
	dev := fake.New()
	dev.SetGrants(false, true)
	s := sampler.New(dev)

	p, err := s.RequestPermissions(context.Background(), sampler.ScopeBackground)
	require.NoError(t, err)
	require.False(t, p.Foreground)
	require.False(t, p.Background)
	fg, bg := dev.Requests()
	require.Equal(t, 1, fg)
	require.Equal(t, 0, bg)

	dev.SetGrants(true, true)
	p, err = s.RequestPermissions(context.Background(), sampler.ScopeForeground)
	require.NoError(t, err)
	require.True(t, p.Foreground)
	require.False(t, p.Background)

	p, err = s.RequestPermissions(context.Background(), sampler.ScopeBackground)
	require.NoError(t, err)
	require.Equal(t, sampler.Permissions{Foreground: true, Background: true}, p)
	_, bg = dev.Requests()
	require.Equal(t, 1, bg)
}

func TestCurrentSample(t *testing.T) {
	dev := fake.New()
	s := sampler.New(dev).WithFixTimeout(50 * time.Millisecond)
	ctx := context.Background()

	_, err := s.CurrentSample(ctx, sampler.AccuracyHigh)
	require.ErrorIs(t, err, sampler.ErrPermissionDenied)

	dev.SetPermissions(sampler.Permissions{Foreground: true})
	want := sample(50.1, 14.4, 0)
	dev.SetFix(want, nil)
	got, err := s.CurrentSample(ctx, sampler.AccuracyHigh)
	require.NoError(t, err)
	require.Equal(t, want, got)

	dev.SetFix(models.LocationSample{}, errors.New("no satellites"))
	_, err = s.CurrentSample(ctx, sampler.AccuracyHigh)
	require.ErrorIs(t, err, sampler.ErrLocationUnavailable)
}

func TestCurrentSample_Timeout(t *testing.T) {
	dev := fake.Granted()
	dev.Hang()
	s := sampler.New(dev).WithFixTimeout(30 * time.Millisecond)

	start := time.Now()
	_, err := s.CurrentSample(context.Background(), sampler.AccuracyBest)
	require.ErrorIs(t, err, sampler.ErrLocationUnavailable)
	require.Less(t, time.Since(start), time.Second)
}

func TestCurrentSample_CallerCancel(t *testing.T) {
	dev := fake.Granted()
	dev.Hang()
	s := sampler.New(dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CurrentSample(ctx, sampler.AccuracyHigh)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStartWatching_RequiresPermission(t *testing.T) {
	s := sampler.New(fake.New())
	_, err := s.StartWatching(context.Background(), sampler.WatchOptions{}, func(sampler.Update) {})
	require.ErrorIs(t, err, sampler.ErrPermissionDenied)
}

func TestStartWatching_GatesSamples(t *testing.T) {
	dev := fake.Granted()
	s := sampler.New(dev)
	ch, fn := collect()

	sub, err := s.StartWatching(context.Background(), sampler.WatchOptions{MinInterval: 5 * time.Second}, fn)
	require.NoError(t, err)
	defer sub.Stop()

	dev.Emit(sampler.ModeForeground, sample(50, 14, 0))
	dev.Emit(sampler.ModeForeground, sample(50, 14, time.Second))
	dev.Emit(sampler.ModeForeground, sample(50, 14, 6*time.Second))

	require.Equal(t, t0, next(t, ch).Sample.Timestamp)
	require.Equal(t, t0.Add(6*time.Second), next(t, ch).Sample.Timestamp)
	select {
	case u := <-ch:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartWatching_DropsInvalidSamples(t *testing.T) {
	dev := fake.Granted()
	s := sampler.New(dev)
	ch, fn := collect()

	sub, err := s.StartWatching(context.Background(), sampler.WatchOptions{}, fn)
	require.NoError(t, err)
	defer sub.Stop()

	dev.Emit(sampler.ModeForeground, sample(120, 14, 0))
	dev.Emit(sampler.ModeForeground, sample(50, 14, time.Second))

	u := next(t, ch)
	require.NoError(t, u.Err)
	require.Equal(t, 50.0, u.Sample.Latitude)
}

func TestStartWatching_BackgroundStreamOnlyWhenPermitted(t *testing.T) {
	dev := fake.New()
	dev.SetPermissions(sampler.Permissions{Foreground: true})
	s := sampler.New(dev)

	sub, err := s.StartWatching(context.Background(), sampler.WatchOptions{Background: true}, func(sampler.Update) {})
	require.NoError(t, err)
	require.Equal(t, 1, dev.Watchers(sampler.ModeForeground))
	require.Equal(t, 0, dev.Watchers(sampler.ModeBackground))
	sub.Stop()
	<-sub.Done()

	dev.SetPermissions(sampler.Permissions{Foreground: true, Background: true})
	ch, fn := collect()
	sub, err = s.StartWatching(context.Background(), sampler.WatchOptions{Background: true}, fn)
	require.NoError(t, err)
	defer sub.Stop()
	require.Equal(t, 1, dev.Watchers(sampler.ModeBackground))

	dev.Emit(sampler.ModeBackground, sample(50, 14, 0))
	require.Equal(t, 50.0, next(t, ch).Sample.Latitude)
}

func TestStartWatching_TerminalErrorOnce(t *testing.T) {
	dev := fake.Granted()
	s := sampler.New(dev)
	ch, fn := collect()

	sub, err := s.StartWatching(context.Background(), sampler.WatchOptions{}, fn)
	require.NoError(t, err)

	dev.Fail(sampler.ModeForeground, sampler.ErrPermissionDenied)
	u := next(t, ch)
	require.ErrorIs(t, u.Err, sampler.ErrPermissionDenied)

	<-sub.Done()
	require.Empty(t, ch)
}

func TestStartWatching_StreamClosed(t *testing.T) {
	dev := fake.Granted()
	s := sampler.New(dev)
	ch, fn := collect()

	sub, err := s.StartWatching(context.Background(), sampler.WatchOptions{}, fn)
	require.NoError(t, err)

	dev.CloseStreams(sampler.ModeForeground)
	require.ErrorIs(t, next(t, ch).Err, sampler.ErrLocationUnavailable)
	<-sub.Done()
}

func TestStopWatching_Idempotent(t *testing.T) {
	dev := fake.Granted()
	s := sampler.New(dev)
	ch, fn := collect()

	sub, err := s.StartWatching(context.Background(), sampler.WatchOptions{}, fn)
	require.NoError(t, err)

	s.StopWatching(sub)
	s.StopWatching(sub)
	s.StopWatching(nil)
	<-sub.Done()

	require.Empty(t, ch)
	require.Eventually(t, func() bool { return dev.Watchers(sampler.ModeForeground) == 0 }, time.Second, 5*time.Millisecond)
}

func TestStartWatching_ContextCancelStops(t *testing.T) {
	dev := fake.Granted()
	s := sampler.New(dev)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.StartWatching(ctx, sampler.WatchOptions{}, func(sampler.Update) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
}
