package fleetrepo

import (
	"context"
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/pkg/errors"
)

type barcodeDoc struct {
	ID             string `json:"id"`
	VehicleID      string `json:"vehicleId"`
	CompanyID      string `json:"companyId"`
	RegistrationNo string `json:"registrationNo"`
	FleetNo        string `json:"fleetNo,omitempty"`
	BarcodeData    string `json:"barcodeData"`
	QRCodeURL      string `json:"qrCodeUrl"`
	IsActive       bool   `json:"isActive"`
	ScanCount      int64  `json:"scanCount"`
	LastScanned    *int64 `json:"lastScanned,omitempty"`
	LastScannedBy  string `json:"lastScannedBy,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	CreatedBy      string `json:"createdBy"`
}

func (d barcodeDoc) model() *models.VehicleBarcode {
	return &models.VehicleBarcode{
		ID: d.ID, VehicleID: d.VehicleID, CompanyID: d.CompanyID,
		RegistrationNo: d.RegistrationNo, FleetNo: d.FleetNo,
		BarcodeData: d.BarcodeData, QRCodeURL: d.QRCodeURL, IsActive: d.IsActive,
		ScanCount: d.ScanCount, LastScanned: fromMillisPtr(d.LastScanned), LastScannedBy: d.LastScannedBy,
		CreatedAt: fromMillis(d.CreatedAt), CreatedBy: d.CreatedBy,
	}
}

// SaveBarcode writes the vehicle's barcode record, replacing any previous one.
func (r *Repo) SaveBarcode(ctx context.Context, b *models.VehicleBarcode) error {
	doc, err := docstore.Encode(barcodeDoc{
		ID: models.BarcodeID(b.VehicleID), VehicleID: b.VehicleID, CompanyID: b.CompanyID,
		RegistrationNo: b.RegistrationNo, FleetNo: b.FleetNo,
		BarcodeData: b.BarcodeData, QRCodeURL: b.QRCodeURL, IsActive: b.IsActive,
		ScanCount: b.ScanCount, LastScanned: millisPtr(b.LastScanned), LastScannedBy: b.LastScannedBy,
		CreatedAt: millis(b.CreatedAt), CreatedBy: b.CreatedBy,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(r.store.Set(ctx, CollectionVehicleBarcodes, models.BarcodeID(b.VehicleID), doc, docstore.SetOptions{}), "save barcode")
}

func (r *Repo) BarcodeForVehicle(ctx context.Context, vehicleID string) (*models.VehicleBarcode, error) {
	doc, err := r.store.Get(ctx, CollectionVehicleBarcodes, models.BarcodeID(vehicleID))
	if err != nil {
		return nil, err
	}
	return decodeBarcode(doc)
}

// RecordScan counts one successful scan. The counter is incremented by the
// store, so scans on different replicas never overwrite each other.
func (r *Repo) RecordScan(ctx context.Context, vehicleID string, at time.Time, by string) error {
	return r.store.Update(ctx, CollectionVehicleBarcodes, models.BarcodeID(vehicleID), docstore.Doc{
		"scanCount":     docstore.Increment(1),
		"lastScanned":   millis(at),
		"lastScannedBy": by,
	})
}

func (r *Repo) SetBarcodeActive(ctx context.Context, vehicleID string, active bool) error {
	return r.store.Update(ctx, CollectionVehicleBarcodes, models.BarcodeID(vehicleID), docstore.Doc{
		"isActive": active,
	})
}

func (r *Repo) BarcodesForCompany(ctx context.Context, companyID string) ([]*models.VehicleBarcode, error) {
	snaps, err := r.store.Query(ctx, CollectionVehicleBarcodes, docstore.Query{}.Where("companyId", companyID))
	if err != nil {
		return nil, err
	}
	out := make([]*models.VehicleBarcode, 0, len(snaps))
	for _, s := range snaps {
		b, err := decodeBarcode(s.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func decodeBarcode(doc docstore.Doc) (*models.VehicleBarcode, error) {
	var d barcodeDoc
	if err := docstore.Decode(doc, &d); err != nil {
		return nil, err
	}
	return d.model(), nil
}
