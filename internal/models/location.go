package models

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidSample = errors.New("invalid location sample")

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// LocationSample is one GPS reading. Optional readings are nil when the
// device did not report them.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s LocationSample) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

func (s LocationSample) Validate() error {
	if !s.Coordinate().Valid() {
		return errors.Wrapf(ErrInvalidSample, "coordinate out of range (%f, %f)", s.Latitude, s.Longitude)
	}
	if s.Timestamp.IsZero() {
		return errors.Wrap(ErrInvalidSample, "timestamp is required")
	}
	if s.Speed != nil && (*s.Speed < 0 || math.IsNaN(*s.Speed)) {
		return errors.Wrap(ErrInvalidSample, "speed must be non-negative")
	}
	if s.Heading != nil && (*s.Heading < 0 || *s.Heading > 360) {
		return errors.Wrap(ErrInvalidSample, "heading must be within [0,360]")
	}
	if s.Accuracy != nil && *s.Accuracy < 0 {
		return errors.Wrap(ErrInvalidSample, "accuracy must be non-negative")
	}
	return nil
}

// DriverLocation is the last known position of a driver, tracked for live maps.
type DriverLocation struct {
	DriverID    string         `json:"driverId"`
	TripID      string         `json:"tripId,omitempty"`
	Location    LocationSample `json:"location"`
	Geohash     string         `json:"geohash,omitempty"`
	LastUpdated time.Time      `json:"lastUpdated"`
}
