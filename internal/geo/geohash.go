package geo

import (
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/mmcloughlin/geohash"
)

// DefaultGeohashPrecision gives cells of roughly 150m x 150m.
const DefaultGeohashPrecision = 7

func Geohash(p models.Coordinate, precision uint) string {
	if precision == 0 {
		precision = DefaultGeohashPrecision
	}
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, precision)
}

// GeohashNeighbors returns the cell of p and its eight neighbours.
func GeohashNeighbors(p models.Coordinate, precision uint) []string {
	h := Geohash(p, precision)
	return append([]string{h}, geohash.Neighbors(h)...)
}
