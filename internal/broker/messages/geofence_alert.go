package messages

import (
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
)

// GeofenceAlert is published to the geofence alerts topic keyed by driver id.
type GeofenceAlert struct {
	ID           string                   `json:"id"`
	GeofenceID   string                   `json:"geofence_id"`
	GeofenceName string                   `json:"geofence_name"`
	Kind         models.GeofenceAlertKind `json:"kind"`
	TripID       string                   `json:"trip_id"`
	DriverID     string                   `json:"driver_id"`
	VehicleID    string                   `json:"vehicle_id"`
	Latitude     float64                  `json:"latitude"`
	Longitude    float64                  `json:"longitude"`
	At           time.Time                `json:"at"`
}

func NewGeofenceAlert(a models.GeofenceAlert) GeofenceAlert {
	return GeofenceAlert{
		ID:           a.ID,
		GeofenceID:   a.GeofenceID,
		GeofenceName: a.GeofenceName,
		Kind:         a.Kind,
		TripID:       a.TripID,
		DriverID:     a.DriverID,
		VehicleID:    a.VehicleID,
		Latitude:     a.Location.Latitude,
		Longitude:    a.Location.Longitude,
		At:           a.At,
	}
}
