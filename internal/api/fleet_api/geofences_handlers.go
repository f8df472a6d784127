package fleet_api

import (
	"encoding/json"
	"net/http"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

func (a *FleetAPI) createGeofence(w http.ResponseWriter, r *http.Request) {
	var req models.Geofence
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	g, err := a.geofences.Create(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

type importRequest struct {
	Name      string                `json:"name"`
	CompanyID string                `json:"companyId"`
	Alerts    models.GeofenceAlerts `json:"alerts"`
	GeoJSON   json.RawMessage       `json:"geojson"`
}

func (a *FleetAPI) importGeofence(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(req.GeoJSON) == 0 {
		a.fail(w, r, errors.Wrap(errBadRequest, "geojson is required"))
		return
	}
	g, err := a.geofences.ImportGeoJSON(r.Context(), req.GeoJSON, req.Name, req.CompanyID, req.Alerts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *FleetAPI) listGeofences(w http.ResponseWriter, r *http.Request) {
	list, err := a.geofences.List(r.Context(), r.URL.Query().Get("companyId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *FleetAPI) getGeofence(w http.ResponseWriter, r *http.Request) {
	g, err := a.geofences.Get(r.Context(), chi.URLParam(r, "geofenceID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
