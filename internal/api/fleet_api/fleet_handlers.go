package fleet_api

import (
	"net/http"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/go-chi/chi/v5"
)

func (a *FleetAPI) addVehicle(w http.ResponseWriter, r *http.Request) {
	var req models.Vehicle
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	v, err := a.barcodes.AddVehicle(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *FleetAPI) getVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := a.barcodes.GetVehicle(r.Context(), chi.URLParam(r, "vehicleID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type createdByRequest struct {
	CreatedBy string `json:"createdBy"`
}

func (a *FleetAPI) createBarcode(w http.ResponseWriter, r *http.Request) {
	var req createdByRequest
	if err := decodeOptional(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	b, err := a.barcodes.Create(r.Context(), chi.URLParam(r, "vehicleID"), req.CreatedBy)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *FleetAPI) getBarcode(w http.ResponseWriter, r *http.Request) {
	b, err := a.barcodes.Get(r.Context(), chi.URLParam(r, "vehicleID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *FleetAPI) deactivateBarcode(w http.ResponseWriter, r *http.Request) {
	if err := a.barcodes.Deactivate(r.Context(), chi.URLParam(r, "vehicleID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *FleetAPI) reactivateBarcode(w http.ResponseWriter, r *http.Request) {
	if err := a.barcodes.Reactivate(r.Context(), chi.URLParam(r, "vehicleID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *FleetAPI) companyBarcodes(w http.ResponseWriter, r *http.Request) {
	list, err := a.barcodes.ListForCompany(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *FleetAPI) barcodeStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.barcodes.Stats(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type generatedResponse struct {
	Generated int `json:"generated"`
}

func (a *FleetAPI) generateMissing(w http.ResponseWriter, r *http.Request) {
	var req createdByRequest
	if err := decodeOptional(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.barcodes.GenerateMissing(r.Context(), chi.URLParam(r, "companyID"), req.CreatedBy)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generatedResponse{Generated: n})
}
