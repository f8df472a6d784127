package geo

import (
	"encoding/json"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

var ErrUnsupportedGeometry = errors.New("unsupported geometry")

// GeofenceFromGeoJSON reads a GeoJSON Feature (or bare geometry) into the
// shape fields of a geofence. A Point becomes a circular fence and needs a
// "radius" property in meters. A Polygon uses its outer ring.
// Name, alerts and id are left to the caller.
func GeofenceFromGeoJSON(raw []byte) (models.Geofence, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return models.Geofence{}, errors.Wrap(err, "decode geojson")
	}

	var (
		g     geom.T
		props map[string]interface{}
	)
	if head.Type == "Feature" {
		var f geojson.Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return models.Geofence{}, errors.Wrap(err, "decode geojson feature")
		}
		g, props = f.Geometry, f.Properties
	} else if err := geojson.Unmarshal(raw, &g); err != nil {
		return models.Geofence{}, errors.Wrap(err, "decode geojson geometry")
	}

	out := models.Geofence{}
	if name, ok := props["name"].(string); ok {
		out.Name = name
	}

	switch t := g.(type) {
	case *geom.Point:
		c := coordOf(t.Coords())
		out.Type = models.GeofenceCircular
		out.Center = &c
		if r, ok := props["radius"].(float64); ok {
			out.RadiusMeters = r
		}
		if !(out.RadiusMeters > 0) {
			return models.Geofence{}, errors.Wrap(models.ErrInvalidGeofence, "point geofence needs a positive radius property")
		}
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return models.Geofence{}, errors.Wrap(models.ErrInvalidGeofence, "polygon has no rings")
		}
		out.Type = models.GeofencePolygon
		out.Points = RingPoints(t.LinearRing(0).Coords())
	default:
		return models.Geofence{}, errors.Wrapf(ErrUnsupportedGeometry, "%T", g)
	}
	return out, nil
}

// LineStringFromGeoJSON decodes a LineString geometry or Feature into coordinates.
func LineStringFromGeoJSON(raw []byte) ([]models.Coordinate, error) {
	var f geojson.Feature
	var g geom.T
	if err := json.Unmarshal(raw, &f); err == nil && f.Geometry != nil {
		g = f.Geometry
	} else if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, errors.Wrap(err, "decode geojson geometry")
	}

	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedGeometry, "expected LineString, got %T", g)
	}
	out := make([]models.Coordinate, 0, ls.NumCoords())
	for _, c := range ls.Coords() {
		out = append(out, coordOf(c))
	}
	return out, nil
}

// RingPoints converts a GeoJSON ring to points, dropping the closing vertex.
func RingPoints(coords []geom.Coord) []models.Coordinate {
	out := make([]models.Coordinate, 0, len(coords))
	for _, c := range coords {
		out = append(out, coordOf(c))
	}
	if n := len(out); n > 1 && out[0] == out[n-1] {
		out = out[:n-1]
	}
	return out
}

// GeoJSON coordinates are (longitude, latitude).
func coordOf(c geom.Coord) models.Coordinate {
	return models.Coordinate{Latitude: c.Y(), Longitude: c.X()}
}
