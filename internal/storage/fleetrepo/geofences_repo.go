package fleetrepo

import (
	"context"
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/pkg/errors"
)

type coordDoc struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type geofenceDoc struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CompanyID   string `json:"companyId,omitempty"`
	Type        string `json:"type"`
	Coordinates struct {
		Center *coordDoc  `json:"center,omitempty"`
		Radius float64    `json:"radius,omitempty"`
		Points []coordDoc `json:"points,omitempty"`
	} `json:"coordinates"`
	Alerts struct {
		OnEntry   bool  `json:"onEntry"`
		OnExit    bool  `json:"onExit"`
		OnDwell   bool  `json:"onDwell"`
		DwellTime int64 `json:"dwellTime,omitempty"` // ms
	} `json:"alerts"`
	CreatedAt int64 `json:"createdAt"`
}

func toGeofenceDoc(g models.Geofence) geofenceDoc {
	var d geofenceDoc
	d.ID, d.Name, d.CompanyID, d.Type = g.ID, g.Name, g.CompanyID, string(g.Type)
	if g.Center != nil {
		d.Coordinates.Center = &coordDoc{Latitude: g.Center.Latitude, Longitude: g.Center.Longitude}
	}
	d.Coordinates.Radius = g.RadiusMeters
	for _, p := range g.Points {
		d.Coordinates.Points = append(d.Coordinates.Points, coordDoc{Latitude: p.Latitude, Longitude: p.Longitude})
	}
	d.Alerts.OnEntry = g.Alerts.OnEntry
	d.Alerts.OnExit = g.Alerts.OnExit
	d.Alerts.OnDwell = g.Alerts.OnDwell
	d.Alerts.DwellTime = g.Alerts.DwellTime.Milliseconds()
	d.CreatedAt = millis(g.CreatedAt)
	return d
}

func (d geofenceDoc) model() models.Geofence {
	g := models.Geofence{
		ID: d.ID, Name: d.Name, CompanyID: d.CompanyID, Type: models.GeofenceType(d.Type),
		RadiusMeters: d.Coordinates.Radius,
		Alerts: models.GeofenceAlerts{
			OnEntry: d.Alerts.OnEntry, OnExit: d.Alerts.OnExit, OnDwell: d.Alerts.OnDwell,
			DwellTime: time.Duration(d.Alerts.DwellTime) * time.Millisecond,
		},
		CreatedAt: fromMillis(d.CreatedAt),
	}
	if c := d.Coordinates.Center; c != nil {
		g.Center = &models.Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
	}
	for _, p := range d.Coordinates.Points {
		g.Points = append(g.Points, models.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude})
	}
	return g
}

func (r *Repo) SaveGeofence(ctx context.Context, g models.Geofence) error {
	doc, err := docstore.Encode(toGeofenceDoc(g))
	if err != nil {
		return err
	}
	return errors.Wrap(r.store.Set(ctx, CollectionGeofences, g.ID, doc, docstore.SetOptions{}), "save geofence")
}

func (r *Repo) GetGeofence(ctx context.Context, id string) (models.Geofence, error) {
	doc, err := r.store.Get(ctx, CollectionGeofences, id)
	if err != nil {
		return models.Geofence{}, err
	}
	return decodeGeofence(doc)
}

func (r *Repo) ListGeofences(ctx context.Context) ([]models.Geofence, error) {
	snaps, err := r.store.Query(ctx, CollectionGeofences, docstore.Query{})
	if err != nil {
		return nil, err
	}
	return decodeGeofences(snaps)
}

// SubscribeGeofences calls fn with the full geofence set after every change.
func (r *Repo) SubscribeGeofences(ctx context.Context, fn func([]models.Geofence, error)) (docstore.Unsubscribe, error) {
	return r.store.SubscribeQuery(ctx, CollectionGeofences, docstore.Query{}, func(snaps []docstore.Snapshot, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(decodeGeofences(snaps))
	})
}

func decodeGeofences(snaps []docstore.Snapshot) ([]models.Geofence, error) {
	out := make([]models.Geofence, 0, len(snaps))
	for _, s := range snaps {
		g, err := decodeGeofence(s.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func decodeGeofence(doc docstore.Doc) (models.Geofence, error) {
	var d geofenceDoc
	if err := docstore.Decode(doc, &d); err != nil {
		return models.Geofence{}, err
	}
	return d.model(), nil
}

type alertDoc struct {
	ID           string   `json:"id"`
	GeofenceID   string   `json:"geofenceId"`
	GeofenceName string   `json:"geofenceName"`
	Kind         string   `json:"kind"`
	TripID       string   `json:"tripId"`
	DriverID     string   `json:"driverId"`
	VehicleID    string   `json:"vehicleId"`
	Location     coordDoc `json:"location"`
	At           int64    `json:"at"`
}

func (r *Repo) SaveAlert(ctx context.Context, a models.GeofenceAlert) error {
	doc, err := docstore.Encode(alertDoc{
		ID: a.ID, GeofenceID: a.GeofenceID, GeofenceName: a.GeofenceName, Kind: string(a.Kind),
		TripID: a.TripID, DriverID: a.DriverID, VehicleID: a.VehicleID,
		Location: coordDoc{Latitude: a.Location.Latitude, Longitude: a.Location.Longitude},
		At:       millis(a.At),
	})
	if err != nil {
		return err
	}
	return errors.Wrap(r.store.Set(ctx, CollectionGeofenceAlerts, a.ID, doc, docstore.SetOptions{}), "save geofence alert")
}

func (r *Repo) AlertsForTrip(ctx context.Context, tripID string) ([]models.GeofenceAlert, error) {
	snaps, err := r.store.Query(ctx, CollectionGeofenceAlerts, docstore.Query{}.Where("tripId", tripID).Order("at", false))
	if err != nil {
		return nil, err
	}
	out := make([]models.GeofenceAlert, 0, len(snaps))
	for _, s := range snaps {
		var d alertDoc
		if err := docstore.Decode(s.Data, &d); err != nil {
			return nil, err
		}
		out = append(out, models.GeofenceAlert{
			ID: d.ID, GeofenceID: d.GeofenceID, GeofenceName: d.GeofenceName, Kind: models.GeofenceAlertKind(d.Kind),
			TripID: d.TripID, DriverID: d.DriverID, VehicleID: d.VehicleID,
			Location: models.Coordinate{Latitude: d.Location.Latitude, Longitude: d.Location.Longitude},
			At:       fromMillis(d.At),
		})
	}
	return out, nil
}
