package fleet_api

import (
	"net/http"
	"strconv"

	"github.com/BearBump/FleetTrack/internal/services/trips"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const defaultHistoryLimit = 20

type scanRequest struct {
	Raw      string `json:"raw"`
	DriverID string `json:"driverId"`
}

// scan answers 200 for every resolved payload, including rejected scans;
// the outcome is in the body.
func (a *FleetAPI) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.DriverID == "" {
		a.fail(w, r, errors.Wrap(errBadRequest, "driverId is required"))
		return
	}
	res, err := a.tracker.ScanToggle(r.Context(), req.Raw, req.DriverID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type beginRequest struct {
	DriverID  string `json:"driverId"`
	VehicleID string `json:"vehicleId"`
}

func (a *FleetAPI) beginTrip(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.DriverID == "" || req.VehicleID == "" {
		a.fail(w, r, errors.Wrap(errBadRequest, "driverId and vehicleId are required"))
		return
	}
	trip, err := a.tracker.Begin(r.Context(), req.DriverID, req.VehicleID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (a *FleetAPI) endTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := a.tracker.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *FleetAPI) cancelTrip(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled_by_driver"
	}
	trip, err := a.tracker.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (a *FleetAPI) resumeTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := a.tracker.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (a *FleetAPI) getTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := a.trips.GetTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (a *FleetAPI) tripAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.geofences.AlertsForTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (a *FleetAPI) activeTrip(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "driverID")
	trip, ok := a.tracker.Get(driverID)
	if !ok {
		a.fail(w, r, errors.Wrapf(trips.ErrNotActive, "driver %s", driverID))
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (a *FleetAPI) tripHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.fail(w, r, errors.Wrap(errBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := a.trips.TripHistory(r.Context(), chi.URLParam(r, "driverID"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
