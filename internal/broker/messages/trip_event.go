package messages

import (
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
)

type TripEventType string

const (
	TripStarted   TripEventType = "started"
	TripSample    TripEventType = "sample"
	TripCompleted TripEventType = "completed"
	TripCancelled TripEventType = "cancelled"
)

// TripEvent is published to the trip events topic keyed by trip id.
type TripEvent struct {
	Type      TripEventType          `json:"type"`
	TripID    string                 `json:"trip_id"`
	DriverID  string                 `json:"driver_id"`
	VehicleID string                 `json:"vehicle_id"`
	Sample    *models.LocationSample `json:"sample,omitempty"`
	Trip      *models.Trip           `json:"trip,omitempty"`
	At        time.Time              `json:"at"`
}

// Terminal reports whether the event ends the trip.
func (e TripEvent) Terminal() bool {
	return e.Type == TripCompleted || e.Type == TripCancelled
}
