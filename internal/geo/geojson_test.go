package geo

import (
	"testing"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestGeofenceFromGeoJSON_PointFeature(t *testing.T) {
	raw := `{"type":"Feature","properties":{"name":"Depot","radius":250},
		"geometry":{"type":"Point","coordinates":[36.8219,-1.2921]}}`
	g, err := GeofenceFromGeoJSON([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, models.GeofenceCircular, g.Type)
	require.Equal(t, "Depot", g.Name)
	require.InDelta(t, -1.2921, g.Center.Latitude, 1e-9)
	require.InDelta(t, 36.8219, g.Center.Longitude, 1e-9)
	require.Equal(t, 250.0, g.RadiusMeters)
}

func TestGeofenceFromGeoJSON_PointWithoutRadius(t *testing.T) {
	raw := `{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}`
	_, err := GeofenceFromGeoJSON([]byte(raw))
	require.ErrorIs(t, err, models.ErrInvalidGeofence)
}

func TestGeofenceFromGeoJSON_Polygon(t *testing.T) {
	raw := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`
	g, err := GeofenceFromGeoJSON([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, models.GeofencePolygon, g.Type)
	require.Len(t, g.Points, 4)
	require.True(t, IsWithinGeofence(c(0.5, 0.5), g))
}

func TestGeofenceFromGeoJSON_Unsupported(t *testing.T) {
	raw := `{"type":"LineString","coordinates":[[0,0],[1,1]]}`
	_, err := GeofenceFromGeoJSON([]byte(raw))
	require.ErrorIs(t, err, ErrUnsupportedGeometry)
}

func TestLineStringFromGeoJSON(t *testing.T) {
	raw := `{"type":"LineString","coordinates":[[0,0],[0.001,0],[0.002,0]]}`
	pts, err := LineStringFromGeoJSON([]byte(raw))
	require.NoError(t, err)
	require.Len(t, pts, 3)
	require.InDelta(t, 0.002, pts[2].Longitude, 1e-12)
}
