// Package fleetrepo maps fleet models onto document collections. Instants
// are stored as unix milliseconds so every backend can compare and sort them.
package fleetrepo

import (
	"time"

	"github.com/BearBump/FleetTrack/internal/storage/docstore"
)

const (
	CollectionTrips           = "trips"
	CollectionVehicles        = "vehicles"
	CollectionVehicleBarcodes = "vehicleBarcodes"
	CollectionGeofences       = "geofences"
	CollectionDriverLocations = "driverLocations"
	CollectionGeofenceAlerts  = "geofenceAlerts"
)

type Repo struct {
	store docstore.Store
}

func New(store docstore.Store) *Repo {
	return &Repo{store: store}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
