package trips

import (
	"context"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/services/barcodes"
	pkgerrors "github.com/pkg/errors"
)

type Action string

const (
	ActionStarted  Action = "started"
	ActionStopped  Action = "stopped"
	ActionRejected Action = "rejected"
)

type ToggleResult struct {
	Action Action              `json:"action"`
	Scan   barcodes.ScanResult `json:"scan"`
	Trip   *models.Trip        `json:"trip,omitempty"`
}

// ScanToggle checks the driver in or out of the scanned vehicle: with no
// trip running a trip starts, scanning the vehicle of the running trip ends
// it. Scan failures come back as ActionRejected with the scan outcome.
func (t *Tracker) ScanToggle(ctx context.Context, raw, driverID string) (ToggleResult, error) {
	if t.scans == nil {
		return ToggleResult{}, pkgerrors.New("scan resolution is not configured")
	}
	if driverID == "" {
		return ToggleResult{}, pkgerrors.New("driverId is required")
	}

	res := t.scans.Resolve(ctx, raw, driverID)
	if !res.OK() {
		return ToggleResult{Action: ActionRejected, Scan: res}, nil
	}

	if s, err := t.session(driverID); err == nil {
		if s.vehicleID != res.Vehicle.ID {
			return ToggleResult{Action: ActionRejected, Scan: res},
				pkgerrors.Wrapf(ErrAlreadyActive, "driver %s is on vehicle %s", driverID, s.vehicleID)
		}
		trip, err := t.End(ctx, driverID)
		if err != nil {
			return ToggleResult{Action: ActionRejected, Scan: res}, err
		}
		return ToggleResult{Action: ActionStopped, Scan: res, Trip: trip}, nil
	}

	trip, err := t.Begin(ctx, driverID, res.Vehicle.ID)
	if err != nil {
		return ToggleResult{Action: ActionRejected, Scan: res}, err
	}
	return ToggleResult{Action: ActionStarted, Scan: res, Trip: trip}, nil
}
