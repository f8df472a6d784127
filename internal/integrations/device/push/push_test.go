package push

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/stretchr/testify/require"
)

func sampleAt(ts time.Time) models.LocationSample {
	return models.LocationSample{Latitude: 50, Longitude: 14, Timestamp: ts}
}

func recv(t *testing.T, ch <-chan sampler.Fix) (sampler.Fix, bool) {
	t.Helper()
	select {
	case f, ok := <-ch:
		return f, ok
	case <-time.After(2 * time.Second):
		t.Fatal("no fix")
		return sampler.Fix{}, false
	}
}

func TestDevice_PushFansOut(t *testing.T) {
	d := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fg, err := d.Watch(ctx, sampler.ModeForeground, sampler.AccuracyHigh)
	require.NoError(t, err)
	bg, err := d.Watch(ctx, sampler.ModeBackground, sampler.AccuracyHigh)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, d.Push(sampler.ModeBackground, sampleAt(now)))
	f, ok := recv(t, bg)
	require.True(t, ok)
	require.Equal(t, now, f.Sample.Timestamp)
	require.Empty(t, fg)

	last, ok := d.Last()
	require.True(t, ok)
	require.Equal(t, now, last.Timestamp)
}

func TestDevice_PushRejectsInvalid(t *testing.T) {
	d := New(0)
	err := d.Push(sampler.ModeForeground, models.LocationSample{Latitude: 91, Timestamp: time.Now()})
	require.ErrorIs(t, err, models.ErrInvalidSample)
}

func TestDevice_RevokeFailsWatchers(t *testing.T) {
	d := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fg, err := d.Watch(ctx, sampler.ModeForeground, sampler.AccuracyHigh)
	require.NoError(t, err)
	bg, err := d.Watch(ctx, sampler.ModeBackground, sampler.AccuracyHigh)
	require.NoError(t, err)

	d.ReportPermissions(sampler.Permissions{})

	f, ok := recv(t, fg)
	require.True(t, ok)
	require.ErrorIs(t, f.Err, sampler.ErrPermissionDenied)
	_, ok = recv(t, bg)
	require.False(t, ok)

	require.ErrorIs(t, d.Push(sampler.ModeForeground, sampleAt(time.Now())), sampler.ErrPermissionDenied)
	_, err = d.Watch(ctx, sampler.ModeForeground, sampler.AccuracyHigh)
	require.ErrorIs(t, err, sampler.ErrPermissionDenied)
}

func TestDevice_BackgroundRevokeKeepsForeground(t *testing.T) {
	d := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bg, err := d.Watch(ctx, sampler.ModeBackground, sampler.AccuracyHigh)
	require.NoError(t, err)

	d.ReportPermissions(sampler.Permissions{Foreground: true})
	_, ok := recv(t, bg)
	require.False(t, ok)

	p, err := d.Permissions(ctx)
	require.NoError(t, err)
	require.Equal(t, sampler.Permissions{Foreground: true}, p)
}

func TestDevice_CurrentFix(t *testing.T) {
	d := New(time.Minute)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := base
	d.now = func() time.Time { return clock }

	require.NoError(t, d.Push(sampler.ModeForeground, sampleAt(base)))
	got, err := d.CurrentFix(context.Background(), sampler.AccuracyHigh)
	require.NoError(t, err)
	require.Equal(t, base, got.Timestamp)

	// stale: waits for the next push
	clock = base.Add(2 * time.Minute)
	done := make(chan models.LocationSample, 1)
	go func() {
		s, err := d.CurrentFix(context.Background(), sampler.AccuracyHigh)
		if err == nil {
			done <- s
		}
	}()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Push(sampler.ModeForeground, sampleAt(clock)))
	select {
	case s := <-done:
		require.Equal(t, clock, s.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("CurrentFix did not return")
	}
}

func TestDevice_CurrentFixCancelled(t *testing.T) {
	d := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.CurrentFix(ctx, sampler.AccuracyHigh)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, d.waiters)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(0)
	a := r.Device("d1")
	require.Same(t, a, r.Device("d1"))
	require.NotSame(t, a, r.Device("d2"))
	require.Equal(t, sampler.Device(a), r.For("d1"))
}
