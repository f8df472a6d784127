package fleet_api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/BearBump/FleetTrack/internal/geo"
	"github.com/BearBump/FleetTrack/internal/integrations/device/push"
	"github.com/BearBump/FleetTrack/internal/integrations/geocoding"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/BearBump/FleetTrack/internal/services/barcodes"
	"github.com/BearBump/FleetTrack/internal/services/geofences"
	"github.com/BearBump/FleetTrack/internal/services/trips"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Tracker interface {
	ScanToggle(ctx context.Context, raw, driverID string) (trips.ToggleResult, error)
	Begin(ctx context.Context, driverID, vehicleID string) (*models.Trip, error)
	Resume(ctx context.Context, driverID string) (*models.Trip, error)
	End(ctx context.Context, driverID string) (*models.Trip, error)
	Cancel(ctx context.Context, driverID, reason string) (*models.Trip, error)
	Get(driverID string) (*models.Trip, bool)
	DriverLocation(ctx context.Context, driverID string) (*models.DriverLocation, error)
}

type TripReader interface {
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	TripHistory(ctx context.Context, driverID string, limit int) ([]*models.Trip, error)
	SubscribeTrip(ctx context.Context, id string, fn func(*models.Trip, error)) (docstore.Unsubscribe, error)
	SubscribeDriverLocation(ctx context.Context, driverID string, fn func(*models.DriverLocation, error)) (docstore.Unsubscribe, error)
}

type FleetAPI struct {
	tracker   Tracker
	trips     TripReader
	devices   *push.Registry
	barcodes  *barcodes.Service
	geofences *geofences.Service
	geocoder  geocoding.Geocoder
	log       *logrus.Entry
}

func New(tracker Tracker, tripReader TripReader, devices *push.Registry, bc *barcodes.Service, gf *geofences.Service) *FleetAPI {
	return &FleetAPI{
		tracker:   tracker,
		trips:     tripReader,
		devices:   devices,
		barcodes:  bc,
		geofences: gf,
		geocoder:  geocoding.Nop{},
		log:       logrus.WithField("component", "fleet-api"),
	}
}

func (a *FleetAPI) WithGeocoder(g geocoding.Geocoder) *FleetAPI {
	if g != nil {
		a.geocoder = g
	}
	return a
}

// Routes mounts the /api/v1 endpoints.
func (a *FleetAPI) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scans", a.scan)

		r.Post("/trips", a.beginTrip)
		r.Get("/trips/{id}", a.getTrip)
		r.Get("/trips/{id}/alerts", a.tripAlerts)
		r.Get("/trips/{id}/watch", a.watchTrip)
		// stop, cancel and resume address the driver's running trip by driver id
		r.Post("/trips/{id}/stop", a.endTrip)
		r.Post("/trips/{id}/cancel", a.cancelTrip)
		r.Post("/trips/{id}/resume", a.resumeTrip)

		r.Get("/drivers/{driverID}/trip", a.activeTrip)
		r.Get("/drivers/{driverID}/trips", a.tripHistory)
		r.Post("/drivers/{driverID}/samples", a.pushSamples)
		r.Post("/drivers/{driverID}/permissions", a.reportPermissions)
		r.Get("/drivers/{driverID}/location", a.driverLocation)
		r.Get("/drivers/{driverID}/location/watch", a.watchDriverLocation)
		r.Get("/geocode/reverse", a.reverseGeocode)

		r.Post("/vehicles", a.addVehicle)
		r.Get("/vehicles/{vehicleID}", a.getVehicle)
		r.Get("/vehicles/{vehicleID}/barcode", a.getBarcode)
		r.Post("/vehicles/{vehicleID}/barcode", a.createBarcode)
		r.Post("/vehicles/{vehicleID}/barcode/deactivate", a.deactivateBarcode)
		r.Post("/vehicles/{vehicleID}/barcode/reactivate", a.reactivateBarcode)
		r.Get("/companies/{companyID}/barcodes", a.companyBarcodes)
		r.Get("/companies/{companyID}/barcodes/stats", a.barcodeStats)
		r.Post("/companies/{companyID}/barcodes/generate-missing", a.generateMissing)

		r.Post("/geofences", a.createGeofence)
		r.Post("/geofences/geojson", a.importGeofence)
		r.Get("/geofences", a.listGeofences)
		r.Get("/geofences/{geofenceID}", a.getGeofence)
	})
}

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidSample),
		errors.Is(err, models.ErrInvalidGeofence),
		errors.Is(err, geo.ErrUnsupportedGeometry),
		errors.Is(err, barcodes.ErrInvalidVehicle):
		return http.StatusBadRequest
	case errors.Is(err, sampler.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, geocoding.ErrNoAddress):
		return http.StatusNotFound
	case errors.Is(err, trips.ErrAlreadyActive),
		errors.Is(err, trips.ErrNotActive),
		errors.Is(err, trips.ErrFinished),
		errors.Is(err, trips.ErrVehicleInUse):
		return http.StatusConflict
	case errors.Is(err, sampler.ErrLocationUnavailable),
		errors.Is(err, geocoding.ErrNotEnabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *FleetAPI) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errBadRequest, "decode body: %v", err)
	}
	return nil
}

// decodeOptional is decode for endpoints where the body may be empty.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Wrapf(errBadRequest, "decode body: %v", err)
}
