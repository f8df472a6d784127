// Package barcodes implements the fleet QR credential: the payload format,
// scan resolution against the vehicle registry, and barcode management.
package barcodes

import (
	"context"
	"sort"
	"time"

	"github.com/BearBump/FleetTrack/internal/cache"
	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

var ErrInvalidVehicle = errors.New("invalid vehicle")

type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeInvalidFormat Outcome = "invalid_format"
	OutcomeNotFound      Outcome = "vehicle_not_found"
	OutcomeNotRegistered Outcome = "barcode_not_registered"
	OutcomeInactive      Outcome = "barcode_inactive"
	OutcomeLookupFailed  Outcome = "lookup_failed"
	OutcomeRateLimited   Outcome = "rate_limited"
)

var messages = map[Outcome]string{
	OutcomeSuccess:       "Vehicle found",
	OutcomeInvalidFormat: "Invalid QR code format",
	OutcomeNotFound:      "Vehicle not found in fleet",
	OutcomeNotRegistered: "QR code not registered for this vehicle",
	OutcomeInactive:      "QR code is inactive",
	OutcomeLookupFailed:  "Failed to process QR code",
	OutcomeRateLimited:   "Too many scans, try again in a minute",
}

func (o Outcome) Message() string { return messages[o] }

// ScanResult is the structured answer to a scan. Only OutcomeSuccess
// carries both Vehicle and Barcode.
type ScanResult struct {
	Outcome Outcome                `json:"outcome"`
	Message string                 `json:"message"`
	Vehicle *models.Vehicle        `json:"vehicle,omitempty"`
	Barcode *models.VehicleBarcode `json:"barcode,omitempty"`
	Err     error                  `json:"-"`
}

func (r ScanResult) OK() bool { return r.Outcome == OutcomeSuccess }

func result(o Outcome) ScanResult {
	return ScanResult{Outcome: o, Message: o.Message()}
}

type Repository interface {
	SaveVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	VehicleByRegistration(ctx context.Context, registration string) (*models.Vehicle, error)
	VehiclesForCompany(ctx context.Context, companyID string) ([]*models.Vehicle, error)

	SaveBarcode(ctx context.Context, b *models.VehicleBarcode) error
	BarcodeForVehicle(ctx context.Context, vehicleID string) (*models.VehicleBarcode, error)
	RecordScan(ctx context.Context, vehicleID string, at time.Time, by string) error
	SetBarcodeActive(ctx context.Context, vehicleID string, active bool) error
	BarcodesForCompany(ctx context.Context, companyID string) ([]*models.VehicleBarcode, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Stats struct {
	Total      int   `json:"total"`
	Active     int   `json:"active"`
	Inactive   int   `json:"inactive"`
	TotalScans int64 `json:"totalScans"`
}

const generateConcurrency = 8

type Service struct {
	repo Repository
	now  func() time.Time

	limiter   RateLimiter
	perMinute int64

	log *logrus.Entry
}

func New(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
		log:  logrus.WithField("component", "barcodes"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithRateLimit caps scans per user and minute. A zero limit disables it.
func (s *Service) WithRateLimit(rl RateLimiter, perMinute int64) *Service {
	if rl != nil && perMinute > 0 {
		s.limiter, s.perMinute = rl, perMinute
	}
	return s
}

// Resolve maps a scanned payload to a vehicle. Failures are reported through
// the outcome, never as an error. A successful scan bumps the barcode's scan
// statistics.
func (s *Service) Resolve(ctx context.Context, raw, scannedBy string) ScanResult {
	parsed, err := Parse(raw)
	if err != nil {
		return result(OutcomeInvalidFormat)
	}

	// Malformed payloads are rejected above without using up the budget.
	if s.limiter != nil && scannedBy != "" {
		ok, _, err := s.limiter.Allow(ctx, cache.ScanLimitKey(scannedBy), s.perMinute, time.Minute)
		switch {
		case err != nil:
			s.log.WithError(err).Warn("scan rate limiter unavailable, allowing scan")
		case !ok:
			return result(OutcomeRateLimited)
		}
	}

	vehicle, err := s.repo.VehicleByRegistration(ctx, parsed.RegistrationNo)
	if errors.Is(err, docstore.ErrNotFound) {
		return result(OutcomeNotFound)
	}
	if err != nil {
		return s.lookupFailed(err, "vehicle lookup")
	}

	barcode, err := s.repo.BarcodeForVehicle(ctx, vehicle.ID)
	if errors.Is(err, docstore.ErrNotFound) {
		res := result(OutcomeNotRegistered)
		res.Vehicle = vehicle
		return res
	}
	if err != nil {
		return s.lookupFailed(err, "barcode lookup")
	}
	if !barcode.IsActive {
		res := result(OutcomeInactive)
		res.Vehicle = vehicle
		return res
	}

	at := s.now()
	if err := s.repo.RecordScan(ctx, vehicle.ID, at, scannedBy); err != nil {
		s.log.WithError(err).WithField("vehicle_id", vehicle.ID).Warn("scan statistics not updated")
	} else {
		barcode.ScanCount++
		barcode.LastScanned = &at
		barcode.LastScannedBy = scannedBy
	}

	res := result(OutcomeSuccess)
	res.Vehicle, res.Barcode = vehicle, barcode
	return res
}

func (s *Service) lookupFailed(err error, what string) ScanResult {
	s.log.WithError(err).Error(what + " failed")
	res := result(OutcomeLookupFailed)
	res.Err = errors.Wrap(err, what)
	return res
}

// AddVehicle registers a vehicle in the fleet.
func (s *Service) AddVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	if models.NormalizeIdentifier(v.RegistrationNo) == "" {
		return nil, errors.Wrap(ErrInvalidVehicle, "registrationNo is required")
	}
	if v.CompanyID == "" {
		return nil, errors.Wrap(ErrInvalidVehicle, "companyId is required")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = models.VehicleStatusActive
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	if err := s.repo.SaveVehicle(ctx, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	return s.repo.GetVehicle(ctx, id)
}

// Create issues a new active barcode for the vehicle, replacing any previous
// one and resetting its statistics.
func (s *Service) Create(ctx context.Context, vehicleID, createdBy string) (*models.VehicleBarcode, error) {
	v, err := s.repo.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, errors.Wrapf(err, "vehicle %s", vehicleID)
	}
	return s.create(ctx, v, createdBy)
}

func (s *Service) create(ctx context.Context, v *models.Vehicle, createdBy string) (*models.VehicleBarcode, error) {
	now := s.now()
	payload, err := Generate(*v, now)
	if err != nil {
		return nil, err
	}
	b := &models.VehicleBarcode{
		ID:             models.BarcodeID(v.ID),
		VehicleID:      v.ID,
		CompanyID:      v.CompanyID,
		RegistrationNo: v.RegistrationNo,
		FleetNo:        v.FleetNo,
		BarcodeData:    payload,
		QRCodeURL:      QRCodeURL(payload),
		IsActive:       true,
		CreatedAt:      now,
		CreatedBy:      createdBy,
	}
	if err := s.repo.SaveBarcode(ctx, b); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"vehicle_id": v.ID, "created_by": createdBy}).Info("barcode issued")
	return b, nil
}

func (s *Service) Get(ctx context.Context, vehicleID string) (*models.VehicleBarcode, error) {
	return s.repo.BarcodeForVehicle(ctx, vehicleID)
}

func (s *Service) Deactivate(ctx context.Context, vehicleID string) error {
	return errors.Wrap(s.repo.SetBarcodeActive(ctx, vehicleID, false), "deactivate barcode")
}

func (s *Service) Reactivate(ctx context.Context, vehicleID string) error {
	return errors.Wrap(s.repo.SetBarcodeActive(ctx, vehicleID, true), "reactivate barcode")
}

// ListForCompany returns the company's barcodes, newest first.
func (s *Service) ListForCompany(ctx context.Context, companyID string) ([]*models.VehicleBarcode, error) {
	out, err := s.repo.BarcodesForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GenerateMissing issues barcodes for company vehicles that have none and
// returns how many were created.
func (s *Service) GenerateMissing(ctx context.Context, companyID, createdBy string) (int, error) {
	vehicles, err := s.repo.VehiclesForCompany(ctx, companyID)
	if err != nil {
		return 0, err
	}

	p := pool.NewWithResults[bool]().WithContext(ctx).WithMaxGoroutines(generateConcurrency)
	for _, v := range vehicles {
		p.Go(func(ctx context.Context) (bool, error) {
			_, err := s.repo.BarcodeForVehicle(ctx, v.ID)
			if err == nil {
				return false, nil
			}
			if !errors.Is(err, docstore.ErrNotFound) {
				return false, err
			}
			if _, err := s.create(ctx, v, createdBy); err != nil {
				return false, err
			}
			return true, nil
		})
	}
	created, err := p.Wait()

	n := 0
	for _, ok := range created {
		if ok {
			n++
		}
	}
	return n, err
}

func (s *Service) Stats(ctx context.Context, companyID string) (Stats, error) {
	list, err := s.repo.BarcodesForCompany(ctx, companyID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(list)}
	for _, b := range list {
		if b.IsActive {
			st.Active++
		} else {
			st.Inactive++
		}
		st.TotalScans += b.ScanCount
	}
	return st, nil
}
