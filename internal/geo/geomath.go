package geo

import (
	"math"

	"github.com/BearBump/FleetTrack/internal/models"
)

// EarthRadiusMeters is the mean Earth radius used for every distance in the system.
const EarthRadiusMeters = 6_371_000.0

// boundaryEpsilon absorbs float rounding so a point exactly on a circular
// fence boundary is inside.
const boundaryEpsilon = 1e-6

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters returns the great-circle distance between a and b (Haversine).
func DistanceMeters(a, b models.Coordinate) float64 {
	lat1, lat2 := toRad(a.Latitude), toRad(b.Latitude)
	dLat := lat2 - lat1
	dLng := toRad(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// clamp: rounding can push h slightly outside [0,1] for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// RouteDistance sums the distances between consecutive samples in the given order.
func RouteDistance(samples []models.LocationSample) float64 {
	var total float64
	for i := 1; i < len(samples); i++ {
		total += DistanceMeters(samples[i-1].Coordinate(), samples[i].Coordinate())
	}
	return total
}

// Bearing returns the initial bearing from a to b in degrees within [0,360).
func Bearing(a, b models.Coordinate) float64 {
	lat1, lat2 := toRad(a.Latitude), toRad(b.Latitude)
	dLng := toRad(b.Longitude - a.Longitude)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return math.Mod(toDeg(math.Atan2(y, x))+360, 360)
}

// Destination moves from p by distance meters along bearing degrees.
func Destination(p models.Coordinate, bearing, distance float64) models.Coordinate {
	lat1, lng1 := toRad(p.Latitude), toRad(p.Longitude)
	brg := toRad(bearing)
	d := distance / EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))

	lng := math.Mod(toDeg(lng2)+540, 360) - 180
	return models.Coordinate{Latitude: toDeg(lat2), Longitude: lng}
}

// IsWithinGeofence reports whether p lies inside g. Malformed geofences
// contain nothing.
func IsWithinGeofence(p models.Coordinate, g models.Geofence) bool {
	switch g.Type {
	case models.GeofenceCircular:
		if g.Center == nil || !(g.RadiusMeters > 0) {
			return false
		}
		return DistanceMeters(p, *g.Center) <= g.RadiusMeters+boundaryEpsilon
	case models.GeofencePolygon:
		return inPolygon(p, g.Points)
	default:
		return false
	}
}

// inPolygon is ray casting over (longitude, latitude) treated as planar x/y.
// Polygons crossing the antimeridian are not supported.
func inPolygon(p models.Coordinate, pts []models.Coordinate) bool {
	if len(pts) < 3 {
		return false
	}
	x, y := p.Longitude, p.Latitude
	inside := false
	for i, j := 0, len(pts)-1; i < len(pts); j, i = i, i+1 {
		xi, yi := pts[i].Longitude, pts[i].Latitude
		xj, yj := pts[j].Longitude, pts[j].Latitude
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
