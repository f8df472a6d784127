package geocoding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/internal/cache/rediscache"
	"github.com/BearBump/FleetTrack/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

func mapsServer(t *testing.T, body string, hits *int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maps/api/geocode/json" || r.URL.Query().Get("latlng") != "50.08,14.42" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ReverseGeocode(t *testing.T) {
	var hits int32
	srv := mapsServer(t, `{"status":"OK","results":[{"formatted_address":"Main St 1, Prague"}]}`, &hits)

	c, err := NewClient("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	addr, err := c.ReverseGeocode(context.Background(), models.Coordinate{Latitude: 50.08, Longitude: 14.42})
	require.NoError(t, err)
	require.Equal(t, "Main St 1, Prague", addr)
}

func TestClient_ZeroResults(t *testing.T) {
	var hits int32
	srv := mapsServer(t, `{"status":"ZERO_RESULTS","results":[]}`, &hits)

	c, err := NewClient("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.ReverseGeocode(context.Background(), models.Coordinate{Latitude: 50.08, Longitude: 14.42})
	require.ErrorIs(t, err, ErrNoAddress)
}

func TestNop(t *testing.T) {
	_, err := Nop{}.ReverseGeocode(context.Background(), models.Coordinate{})
	require.ErrorIs(t, err, ErrNotEnabled)
}

func TestCached_HitsUpstreamOnce(t *testing.T) {
	var hits int32
	srv := mapsServer(t, `{"status":"OK","results":[{"formatted_address":"Depot"}]}`, &hits)
	c, err := NewClient("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	g := NewCached(c, rediscache.New(mr.Addr()), time.Hour)
	p := models.Coordinate{Latitude: 50.08, Longitude: 14.42}

	for i := 0; i < 3; i++ {
		addr, err := g.ReverseGeocode(context.Background(), p)
		require.NoError(t, err)
		require.Equal(t, "Depot", addr)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
	require.True(t, mr.Exists("geocode:50.08000,14.42000"))
}
