package models

import (
	"time"

	"github.com/pkg/errors"
)

type GeofenceType string

const (
	GeofenceCircular GeofenceType = "circular"
	GeofencePolygon  GeofenceType = "polygon"
)

var ErrInvalidGeofence = errors.New("invalid geofence")

type GeofenceAlerts struct {
	OnEntry bool `json:"onEntry"`
	OnExit  bool `json:"onExit"`
	OnDwell bool `json:"onDwell"`
	// DwellTime is how long a driver has to stay inside before a dwell alert.
	DwellTime time.Duration `json:"dwellTime,omitempty"`
}

type Geofence struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CompanyID    string         `json:"companyId,omitempty"`
	Type         GeofenceType   `json:"type"`
	Center       *Coordinate    `json:"center,omitempty"`
	RadiusMeters float64        `json:"radius,omitempty"`
	Points       []Coordinate   `json:"points,omitempty"`
	Alerts       GeofenceAlerts `json:"alerts"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (g Geofence) Validate() error {
	if g.Name == "" {
		return errors.Wrap(ErrInvalidGeofence, "name is required")
	}
	switch g.Type {
	case GeofenceCircular:
		if g.Center == nil || !g.Center.Valid() {
			return errors.Wrap(ErrInvalidGeofence, "circular geofence needs a valid center")
		}
		if !(g.RadiusMeters > 0) {
			return errors.Wrap(ErrInvalidGeofence, "circular geofence needs a positive radius")
		}
	case GeofencePolygon:
		if len(g.Points) < 3 {
			return errors.Wrap(ErrInvalidGeofence, "polygon geofence needs at least 3 points")
		}
		for _, p := range g.Points {
			if !p.Valid() {
				return errors.Wrap(ErrInvalidGeofence, "polygon point out of range")
			}
		}
	default:
		return errors.Wrapf(ErrInvalidGeofence, "unknown type %q", g.Type)
	}
	if g.Alerts.OnDwell && g.Alerts.DwellTime <= 0 {
		return errors.Wrap(ErrInvalidGeofence, "dwell alerts need a dwell time")
	}
	return nil
}

type GeofenceAlertKind string

const (
	GeofenceAlertEntry GeofenceAlertKind = "entry"
	GeofenceAlertExit  GeofenceAlertKind = "exit"
	GeofenceAlertDwell GeofenceAlertKind = "dwell"
)

type GeofenceAlert struct {
	ID           string            `json:"id"`
	GeofenceID   string            `json:"geofenceId"`
	GeofenceName string            `json:"geofenceName"`
	Kind         GeofenceAlertKind `json:"kind"`
	TripID       string            `json:"tripId"`
	DriverID     string            `json:"driverId"`
	VehicleID    string            `json:"vehicleId"`
	Location     Coordinate        `json:"location"`
	At           time.Time         `json:"at"`
}
