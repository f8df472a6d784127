package replay

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/stretchr/testify/require"
)

var origin = models.Coordinate{Latitude: 50.08, Longitude: 14.42}

func route() []models.Coordinate {
	mid := geo.Destination(origin, 90, 100)
	return []models.Coordinate{origin, mid, geo.Destination(mid, 0, 100)}
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]models.Coordinate{origin}, 10, time.Second)
	require.ErrorIs(t, err, ErrShortRoute)
	_, err = New(route(), 0, time.Second)
	require.Error(t, err)
}

func TestAt_Interpolates(t *testing.T) {
	d, err := New(route(), 10, time.Second)
	require.NoError(t, err)
	require.InDelta(t, 200, d.Length(), 0.5)

	require.Equal(t, origin, d.At(-5))
	require.InDelta(t, 50, geo.DistanceMeters(origin, d.At(50)), 0.5)
	require.InDelta(t, 50, geo.DistanceMeters(route()[1], d.At(150)), 0.5)
	require.Equal(t, route()[2], d.At(1000))
}

func TestWatch_EmitsAlongRoute(t *testing.T) {
	d, err := New(route(), 50, 5*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := d.Watch(ctx, sampler.ModeForeground, sampler.AccuracyHigh)
	require.NoError(t, err)

	var got []models.LocationSample
	for len(got) < 6 {
		select {
		case f := <-ch:
			require.NoError(t, f.Err)
			require.NoError(t, f.Sample.Validate())
			got = append(got, f.Sample)
		case <-time.After(2 * time.Second):
			t.Fatal("replay stalled")
		}
	}

	require.Equal(t, origin, got[0].Coordinate())
	// 50 m/s over 5ms steps of virtual time: every fifth step is 1.25 m further
	require.InDelta(t, 50*0.005*5, geo.DistanceMeters(origin, got[5].Coordinate()), 0.1)
	for i := 1; i < len(got); i++ {
		require.Equal(t, 5*time.Millisecond, got[i].Timestamp.Sub(got[i-1].Timestamp))
	}

	cur, err := d.CurrentFix(ctx, sampler.AccuracyHigh)
	require.NoError(t, err)
	require.NoError(t, cur.Validate())

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestFromGeoJSON(t *testing.T) {
	raw := []byte(`{"type":"LineString","coordinates":[[14.42,50.08],[14.43,50.08]]}`)
	d, err := FromGeoJSON(raw, 10, time.Second)
	require.NoError(t, err)
	require.Greater(t, d.Length(), 700.0)

	p, err := d.Permissions(context.Background())
	require.NoError(t, err)
	require.True(t, p.Foreground)
}
