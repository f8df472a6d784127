package models

import "time"

type TripStatus string

const (
	TripStatusActive    TripStatus = "active"
	TripStatusCompleted TripStatus = "completed"
	TripStatusCancelled TripStatus = "cancelled"
)

// Trip is one driver/vehicle activation. TotalDistance is in meters,
// AverageSpeed in meters per second and Duration in milliseconds.
type Trip struct {
	ID            string           `json:"id"`
	DriverID      string           `json:"driverId"`
	VehicleID     string           `json:"vehicleId"`
	Status        TripStatus       `json:"status"`
	StartTime     time.Time        `json:"startTime"`
	EndTime       *time.Time       `json:"endTime,omitempty"`
	StartLocation LocationSample   `json:"startLocation"`
	EndLocation   *LocationSample  `json:"endLocation,omitempty"`
	Locations     []LocationSample `json:"locations"`
	TotalDistance float64          `json:"totalDistance"`
	AverageSpeed  float64          `json:"averageSpeed"`
	Duration      int64            `json:"duration,omitempty"`
	CancelReason  string           `json:"cancelReason,omitempty"`

	// OutOfOrderSamples counts samples whose timestamp precedes the previous one.
	OutOfOrderSamples int       `json:"outOfOrderSamples,omitempty"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// Clone returns a deep copy.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	out := *t
	out.Locations = append([]LocationSample(nil), t.Locations...)
	if t.EndTime != nil {
		end := *t.EndTime
		out.EndTime = &end
	}
	if t.EndLocation != nil {
		loc := *t.EndLocation
		out.EndLocation = &loc
	}
	return &out
}
