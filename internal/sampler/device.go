package sampler

import (
	"context"

	"github.com/BearBump/FleetTrack/internal/models"
)

type Scope int

const (
	ScopeForeground Scope = iota
	ScopeBackground
)

type Permissions struct {
	Foreground bool `json:"foreground"`
	Background bool `json:"background"`
}

type Accuracy int

const (
	AccuracyLow Accuracy = iota
	AccuracyBalanced
	AccuracyHigh
	AccuracyBest
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyLow:
		return "low"
	case AccuracyBalanced:
		return "balanced"
	case AccuracyHigh:
		return "high"
	case AccuracyBest:
		return "best"
	}
	return "unknown"
}

// ParseAccuracy maps a config string to an Accuracy, defaulting to high.
func ParseAccuracy(s string) Accuracy {
	switch s {
	case "low":
		return AccuracyLow
	case "balanced":
		return AccuracyBalanced
	case "best":
		return AccuracyBest
	}
	return AccuracyHigh
}

type Mode int

const (
	ModeForeground Mode = iota
	ModeBackground
)

// Fix is one item of a device watch stream. A fix carrying Err ends the stream.
type Fix struct {
	Sample models.LocationSample
	Err    error
}

// Device is the platform location subsystem.
// A permission failure from CurrentFix or a watch stream must wrap ErrPermissionDenied.
// Watch streams are closed by the device when ctx is done.
type Device interface {
	Permissions(ctx context.Context) (Permissions, error)
	RequestForeground(ctx context.Context) (bool, error)
	RequestBackground(ctx context.Context) (bool, error)
	CurrentFix(ctx context.Context, accuracy Accuracy) (models.LocationSample, error)
	Watch(ctx context.Context, mode Mode, accuracy Accuracy) (<-chan Fix, error)
}
