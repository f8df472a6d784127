package fleetrepo

import (
	"context"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/pkg/errors"
)

type vehicleDoc struct {
	ID              string `json:"id"`
	RegistrationNo  string `json:"registrationNo"`
	RegistrationKey string `json:"registrationKey"`
	FleetNo         string `json:"fleetNo,omitempty"`
	Make            string `json:"make,omitempty"`
	Model           string `json:"model,omitempty"`
	CompanyID       string `json:"companyId"`
	Status          string `json:"status"`
	CurrentDriverID string `json:"currentDriverId,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
}

func (d vehicleDoc) model() *models.Vehicle {
	return &models.Vehicle{
		ID: d.ID, RegistrationNo: d.RegistrationNo, FleetNo: d.FleetNo,
		Make: d.Make, Model: d.Model, CompanyID: d.CompanyID, Status: d.Status,
		CurrentDriverID: d.CurrentDriverID, CreatedAt: fromMillis(d.CreatedAt),
	}
}

func (r *Repo) SaveVehicle(ctx context.Context, v *models.Vehicle) error {
	doc, err := docstore.Encode(vehicleDoc{
		ID: v.ID, RegistrationNo: v.RegistrationNo, RegistrationKey: models.NormalizeIdentifier(v.RegistrationNo),
		FleetNo: v.FleetNo, Make: v.Make, Model: v.Model, CompanyID: v.CompanyID, Status: v.Status,
		CurrentDriverID: v.CurrentDriverID, CreatedAt: millis(v.CreatedAt),
	})
	if err != nil {
		return err
	}
	return errors.Wrap(r.store.Set(ctx, CollectionVehicles, v.ID, doc, docstore.SetOptions{}), "save vehicle")
}

func (r *Repo) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	doc, err := r.store.Get(ctx, CollectionVehicles, id)
	if err != nil {
		return nil, err
	}
	return decodeVehicle(doc)
}

// VehicleByRegistration matches on the normalized registration, so
// "KBA 123A" and "KBA123A" resolve to the same vehicle.
func (r *Repo) VehicleByRegistration(ctx context.Context, registration string) (*models.Vehicle, error) {
	key := models.NormalizeIdentifier(registration)
	snaps, err := r.store.Query(ctx, CollectionVehicles, docstore.Query{}.Where("registrationKey", key).Take(1))
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, errors.Wrapf(docstore.ErrNotFound, "vehicle %s", key)
	}
	return decodeVehicle(snaps[0].Data)
}

func (r *Repo) VehiclesForCompany(ctx context.Context, companyID string) ([]*models.Vehicle, error) {
	snaps, err := r.store.Query(ctx, CollectionVehicles, docstore.Query{}.Where("companyId", companyID))
	if err != nil {
		return nil, err
	}
	out := make([]*models.Vehicle, 0, len(snaps))
	for _, s := range snaps {
		v, err := decodeVehicle(s.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeVehicle(doc docstore.Doc) (*models.Vehicle, error) {
	var d vehicleDoc
	if err := docstore.Decode(doc, &d); err != nil {
		return nil, err
	}
	return d.model(), nil
}
