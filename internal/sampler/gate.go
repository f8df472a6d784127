package sampler

import (
	"time"

	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/models"
)

// gate passes a sample when enough time OR enough distance separates it
// from the last passed sample. A zero threshold disables that condition;
// with both disabled every sample passes.
type gate struct {
	minInterval time.Duration
	minDistance float64

	last *models.LocationSample
}

func (g *gate) allow(s models.LocationSample) bool {
	pass := g.last == nil ||
		(g.minInterval <= 0 && g.minDistance <= 0) ||
		(g.minInterval > 0 && s.Timestamp.Sub(g.last.Timestamp) >= g.minInterval) ||
		(g.minDistance > 0 && geo.DistanceMeters(g.last.Coordinate(), s.Coordinate()) >= g.minDistance)
	if pass {
		cp := s
		g.last = &cp
	}
	return pass
}
