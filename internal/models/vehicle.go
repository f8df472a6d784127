package models

import (
	"strings"
	"time"
)

const (
	VehicleStatusActive      = "active"
	VehicleStatusMaintenance = "maintenance"
	VehicleStatusInactive    = "inactive"
)

type Vehicle struct {
	ID              string    `json:"id"`
	RegistrationNo  string    `json:"registrationNo"`
	FleetNo         string    `json:"fleetNo,omitempty"`
	Make            string    `json:"make,omitempty"`
	Model           string    `json:"model,omitempty"`
	CompanyID       string    `json:"companyId"`
	Status          string    `json:"status"`
	CurrentDriverID string    `json:"currentDriverId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// VehicleBarcode is the QR credential of a vehicle. There is one record per
// vehicle; deactivation toggles IsActive instead of creating a new record.
type VehicleBarcode struct {
	ID             string     `json:"id"`
	VehicleID      string     `json:"vehicleId"`
	CompanyID      string     `json:"companyId"`
	RegistrationNo string     `json:"registrationNo"`
	FleetNo        string     `json:"fleetNo,omitempty"`
	BarcodeData    string     `json:"barcodeData"`
	QRCodeURL      string     `json:"qrCodeUrl"`
	IsActive       bool       `json:"isActive"`
	ScanCount      int64      `json:"scanCount"`
	LastScanned    *time.Time `json:"lastScanned,omitempty"`
	LastScannedBy  string     `json:"lastScannedBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CreatedBy      string     `json:"createdBy"`
}

func BarcodeID(vehicleID string) string {
	return "barcode_" + vehicleID
}

// NormalizeIdentifier upper-cases s and drops everything outside [A-Z0-9].
// Registration and fleet numbers are compared in this form.
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
