package fleetrepo

import (
	"context"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/pkg/errors"
)

type driverLocationDoc struct {
	DriverID    string    `json:"driverId"`
	TripID      string    `json:"tripId"`
	Location    sampleDoc `json:"location"`
	Geohash     string    `json:"geohash,omitempty"`
	LastUpdated int64     `json:"lastUpdated"`
}

// SetDriverLocation merges the driver's live position into driverLocations.
func (r *Repo) SetDriverLocation(ctx context.Context, loc models.DriverLocation) error {
	doc, err := docstore.Encode(driverLocationDoc{
		DriverID: loc.DriverID, TripID: loc.TripID, Location: toSampleDoc(loc.Location),
		Geohash: loc.Geohash, LastUpdated: millis(loc.LastUpdated),
	})
	if err != nil {
		return err
	}
	return errors.Wrap(r.store.Set(ctx, CollectionDriverLocations, loc.DriverID, doc, docstore.SetOptions{Merge: true}), "set driver location")
}

// ClearDriverLocation detaches the driver from any trip but keeps the last position.
func (r *Repo) ClearDriverLocation(ctx context.Context, driverID string) error {
	return errors.Wrap(r.store.Set(ctx, CollectionDriverLocations, driverID, docstore.Doc{
		"driverId": driverID,
		"tripId":   "",
	}, docstore.SetOptions{Merge: true}), "clear driver location")
}

func (r *Repo) GetDriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	doc, err := r.store.Get(ctx, CollectionDriverLocations, driverID)
	if err != nil {
		return nil, err
	}
	return decodeDriverLocation(doc)
}

func (r *Repo) SubscribeDriverLocation(ctx context.Context, driverID string, fn func(*models.DriverLocation, error)) (docstore.Unsubscribe, error) {
	return r.store.SubscribeDoc(ctx, CollectionDriverLocations, driverID, func(s docstore.Snapshot, err error) {
		if err != nil || !s.Exists {
			fn(nil, err)
			return
		}
		fn(decodeDriverLocation(s.Data))
	})
}

func decodeDriverLocation(doc docstore.Doc) (*models.DriverLocation, error) {
	var d driverLocationDoc
	if err := docstore.Decode(doc, &d); err != nil {
		return nil, err
	}
	return &models.DriverLocation{
		DriverID: d.DriverID, TripID: d.TripID, Location: d.Location.model(),
		Geohash: d.Geohash, LastUpdated: fromMillis(d.LastUpdated),
	}, nil
}
