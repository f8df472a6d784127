package fleet_api

import (
	"net/http"
	"strconv"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type samplesRequest struct {
	// Mode is "foreground" (default) or "background".
	Mode    string                  `json:"mode"`
	Samples []models.LocationSample `json:"samples"`
}

type samplesResponse struct {
	Accepted int `json:"accepted"`
}

// pushSamples feeds the driver's server-side device with readings sent by
// the app. Samples are applied in order up to the first rejected one.
func (a *FleetAPI) pushSamples(w http.ResponseWriter, r *http.Request) {
	var req samplesRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	mode := sampler.ModeForeground
	switch req.Mode {
	case "", "foreground":
	case "background":
		mode = sampler.ModeBackground
	default:
		a.fail(w, r, errors.Wrapf(errBadRequest, "unknown mode %q", req.Mode))
		return
	}

	dev := a.devices.Device(chi.URLParam(r, "driverID"))
	for i, s := range req.Samples {
		if err := dev.Push(mode, s); err != nil {
			a.fail(w, r, errors.Wrapf(err, "sample %d", i))
			return
		}
	}
	writeJSON(w, http.StatusAccepted, samplesResponse{Accepted: len(req.Samples)})
}

func (a *FleetAPI) reportPermissions(w http.ResponseWriter, r *http.Request) {
	var req sampler.Permissions
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	dev := a.devices.Device(chi.URLParam(r, "driverID"))
	dev.ReportPermissions(req)
	perms, err := dev.Permissions(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

type locationResponse struct {
	*models.DriverLocation
	Address string `json:"address,omitempty"`
}

func (a *FleetAPI) driverLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := a.tracker.DriverLocation(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := locationResponse{DriverLocation: loc}
	addr, err := a.geocoder.ReverseGeocode(r.Context(), loc.Location.Coordinate())
	if err != nil {
		a.log.WithError(err).WithField("driver_id", loc.DriverID).Debug("no address for driver location")
	} else {
		out.Address = addr
	}
	writeJSON(w, http.StatusOK, out)
}

type addressResponse struct {
	Address string `json:"address"`
}

func (a *FleetAPI) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	p := models.Coordinate{Latitude: lat, Longitude: lng}
	if err1 != nil || err2 != nil || !p.Valid() {
		a.fail(w, r, errors.Wrap(errBadRequest, "lat and lng must be valid coordinates"))
		return
	}
	addr, err := a.geocoder.ReverseGeocode(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{Address: addr})
}
