package fleetrepo

import (
	"context"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/pkg/errors"
)

type sampleDoc struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type tripDoc struct {
	ID                string      `json:"id"`
	DriverID          string      `json:"driverId"`
	VehicleID         string      `json:"vehicleId"`
	Status            string      `json:"status"`
	StartTime         int64       `json:"startTime"`
	EndTime           *int64      `json:"endTime,omitempty"`
	StartLocation     sampleDoc   `json:"startLocation"`
	EndLocation       *sampleDoc  `json:"endLocation,omitempty"`
	Locations         []sampleDoc `json:"locations"`
	TotalDistance     float64     `json:"totalDistance"`
	AverageSpeed      float64     `json:"averageSpeed"`
	Duration          int64       `json:"duration,omitempty"`
	CancelReason      string      `json:"cancelReason,omitempty"`
	OutOfOrderSamples int         `json:"outOfOrderSamples,omitempty"`
	LastUpdated       int64       `json:"lastUpdated"`
}

func toSampleDoc(s models.LocationSample) sampleDoc {
	return sampleDoc{
		Latitude: s.Latitude, Longitude: s.Longitude,
		Altitude: s.Altitude, Accuracy: s.Accuracy, Heading: s.Heading, Speed: s.Speed,
		Timestamp: millis(s.Timestamp),
	}
}

func (d sampleDoc) model() models.LocationSample {
	return models.LocationSample{
		Latitude: d.Latitude, Longitude: d.Longitude,
		Altitude: d.Altitude, Accuracy: d.Accuracy, Heading: d.Heading, Speed: d.Speed,
		Timestamp: fromMillis(d.Timestamp),
	}
}

func toTripDoc(t *models.Trip) tripDoc {
	d := tripDoc{
		ID:                t.ID,
		DriverID:          t.DriverID,
		VehicleID:         t.VehicleID,
		Status:            string(t.Status),
		StartTime:         millis(t.StartTime),
		EndTime:           millisPtr(t.EndTime),
		StartLocation:     toSampleDoc(t.StartLocation),
		Locations:         make([]sampleDoc, 0, len(t.Locations)),
		TotalDistance:     t.TotalDistance,
		AverageSpeed:      t.AverageSpeed,
		Duration:          t.Duration,
		CancelReason:      t.CancelReason,
		OutOfOrderSamples: t.OutOfOrderSamples,
		LastUpdated:       millis(t.LastUpdated),
	}
	if t.EndLocation != nil {
		e := toSampleDoc(*t.EndLocation)
		d.EndLocation = &e
	}
	for _, s := range t.Locations {
		d.Locations = append(d.Locations, toSampleDoc(s))
	}
	return d
}

func (d tripDoc) model() *models.Trip {
	t := &models.Trip{
		ID:                d.ID,
		DriverID:          d.DriverID,
		VehicleID:         d.VehicleID,
		Status:            models.TripStatus(d.Status),
		StartTime:         fromMillis(d.StartTime),
		EndTime:           fromMillisPtr(d.EndTime),
		StartLocation:     d.StartLocation.model(),
		Locations:         make([]models.LocationSample, 0, len(d.Locations)),
		TotalDistance:     d.TotalDistance,
		AverageSpeed:      d.AverageSpeed,
		Duration:          d.Duration,
		CancelReason:      d.CancelReason,
		OutOfOrderSamples: d.OutOfOrderSamples,
		LastUpdated:       fromMillis(d.LastUpdated),
	}
	if d.EndLocation != nil {
		e := d.EndLocation.model()
		t.EndLocation = &e
	}
	for _, s := range d.Locations {
		t.Locations = append(t.Locations, s.model())
	}
	return t
}

// SaveTrip writes the whole trip document. Repeating the write is harmless.
func (r *Repo) SaveTrip(ctx context.Context, t *models.Trip) error {
	doc, err := docstore.Encode(toTripDoc(t))
	if err != nil {
		return err
	}
	return errors.Wrap(r.store.Set(ctx, CollectionTrips, t.ID, doc, docstore.SetOptions{}), "save trip")
}

func (r *Repo) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	doc, err := r.store.Get(ctx, CollectionTrips, id)
	if err != nil {
		return nil, err
	}
	return decodeTrip(doc)
}

// ActiveTrip returns the newest active trip of a driver or docstore.ErrNotFound.
func (r *Repo) ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error) {
	snaps, err := r.store.Query(ctx, CollectionTrips, docstore.Query{}.
		Where("driverId", driverID).
		Where("status", string(models.TripStatusActive)).
		Order("startTime", true).
		Take(1))
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, errors.Wrapf(docstore.ErrNotFound, "active trip of driver %s", driverID)
	}
	return decodeTrip(snaps[0].Data)
}

// TripHistory returns the newest trips of a driver first.
func (r *Repo) TripHistory(ctx context.Context, driverID string, limit int) ([]*models.Trip, error) {
	if limit <= 0 {
		limit = 10
	}
	snaps, err := r.store.Query(ctx, CollectionTrips, docstore.Query{}.
		Where("driverId", driverID).
		Order("startTime", true).
		Take(limit))
	if err != nil {
		return nil, err
	}
	out := make([]*models.Trip, 0, len(snaps))
	for _, s := range snaps {
		t, err := decodeTrip(s.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SubscribeTrip calls fn with the trip after every change; t is nil while
// the document does not exist.
func (r *Repo) SubscribeTrip(ctx context.Context, id string, fn func(t *models.Trip, err error)) (docstore.Unsubscribe, error) {
	return r.store.SubscribeDoc(ctx, CollectionTrips, id, func(s docstore.Snapshot, err error) {
		if err != nil || !s.Exists {
			fn(nil, err)
			return
		}
		fn(decodeTrip(s.Data))
	})
}

func decodeTrip(doc docstore.Doc) (*models.Trip, error) {
	var d tripDoc
	if err := docstore.Decode(doc, &d); err != nil {
		return nil, err
	}
	return d.model(), nil
}
