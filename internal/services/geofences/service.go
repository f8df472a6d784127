// Package geofences manages geofence definitions and turns trip location
// events into entry, exit and dwell alerts.
package geofences

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	SaveGeofence(ctx context.Context, g models.Geofence) error
	GetGeofence(ctx context.Context, id string) (models.Geofence, error)
	ListGeofences(ctx context.Context) ([]models.Geofence, error)
	SubscribeGeofences(ctx context.Context, fn func([]models.Geofence, error)) (docstore.Unsubscribe, error)

	SaveAlert(ctx context.Context, a models.GeofenceAlert) error
	AlertsForTrip(ctx context.Context, tripID string) ([]models.GeofenceAlert, error)
}

type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

func New(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Create validates g, assigns an id and stores it.
func (s *Service) Create(ctx context.Context, g models.Geofence) (models.Geofence, error) {
	g.Name = strings.TrimSpace(g.Name)
	if err := g.Validate(); err != nil {
		return models.Geofence{}, err
	}
	g.ID = s.newID()
	g.CreatedAt = s.now()
	if err := s.repo.SaveGeofence(ctx, g); err != nil {
		return models.Geofence{}, errors.Wrap(err, "save geofence")
	}
	return g, nil
}

// ImportGeoJSON creates a geofence from a GeoJSON Point (with a radius
// property) or Polygon. A non-empty name overrides the feature's "name".
func (s *Service) ImportGeoJSON(ctx context.Context, raw []byte, name, companyID string, alerts models.GeofenceAlerts) (models.Geofence, error) {
	g, err := geo.GeofenceFromGeoJSON(raw)
	if err != nil {
		return models.Geofence{}, err
	}
	if name != "" {
		g.Name = name
	}
	g.CompanyID = companyID
	g.Alerts = alerts
	return s.Create(ctx, g)
}

func (s *Service) Get(ctx context.Context, id string) (models.Geofence, error) {
	return s.repo.GetGeofence(ctx, id)
}

// List returns the geofences of a company, or all of them for an empty
// company id, oldest first.
func (s *Service) List(ctx context.Context, companyID string) ([]models.Geofence, error) {
	all, err := s.repo.ListGeofences(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list geofences")
	}
	out := make([]models.Geofence, 0, len(all))
	for _, g := range all {
		if companyID == "" || g.CompanyID == companyID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Service) AlertsForTrip(ctx context.Context, tripID string) ([]models.GeofenceAlert, error) {
	return s.repo.AlertsForTrip(ctx, tripID)
}
