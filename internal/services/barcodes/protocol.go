package barcodes

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/pkg/errors"
)

// Payload layout: FLEET_{REGISTRATION}_{FLEETNO}_{TIMESTAMP36}_{RANDOM6}.
const (
	Prefix        = "FLEET"
	NoFleetNumber = "N/A"

	fieldCount = 5
	randomLen  = 6
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	qrImageEndpoint = "https://api.qrserver.com/v1/create-qr-code/?size=300x300&data="
)

var ErrInvalidFormat = errors.New("invalid QR code format")

type Parsed struct {
	RegistrationNo string
	// FleetNo is empty when the payload carries NoFleetNumber.
	FleetNo     string
	Timestamp36 string
	Random      string
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func ValidateFormat(raw string) bool {
	parts := strings.Split(raw, "_")
	if len(parts) != fieldCount || parts[0] != Prefix {
		return false
	}
	for i, p := range parts[1:] {
		if i == 1 && p == NoFleetNumber {
			continue
		}
		if !isToken(p) {
			return false
		}
	}
	return true
}

func Parse(raw string) (Parsed, error) {
	if !ValidateFormat(raw) {
		return Parsed{}, errors.Wrapf(ErrInvalidFormat, "%q", raw)
	}
	parts := strings.Split(raw, "_")
	p := Parsed{
		RegistrationNo: parts[1],
		FleetNo:        parts[2],
		Timestamp36:    parts[3],
		Random:         parts[4],
	}
	if p.FleetNo == NoFleetNumber {
		p.FleetNo = ""
	}
	return p, nil
}

// CreationTime decodes the base-36 millisecond timestamp of a payload.
func (p Parsed) CreationTime() (time.Time, error) {
	ms, err := strconv.ParseInt(strings.ToLower(p.Timestamp36), 36, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(ErrInvalidFormat, "timestamp field")
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Generate builds a fresh payload for v. Identifiers are normalized to
// [A-Z0-9] so the result always validates.
func Generate(v models.Vehicle, now time.Time) (string, error) {
	reg := models.NormalizeIdentifier(v.RegistrationNo)
	if reg == "" {
		return "", errors.Errorf("vehicle %s has no usable registration number", v.ID)
	}
	fleet := models.NormalizeIdentifier(v.FleetNo)
	if fleet == "" {
		fleet = NoFleetNumber
	}
	suffix, err := randomToken(randomLen)
	if err != nil {
		return "", err
	}
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return strings.Join([]string{Prefix, reg, fleet, ts, suffix}, "_"), nil
}

func randomToken(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "random suffix")
		}
		b[i] = alphabet[k.Int64()]
	}
	return string(b), nil
}

// QRCodeURL returns an image URL rendering payload as a QR code.
func QRCodeURL(payload string) string {
	return qrImageEndpoint + url.QueryEscape(payload)
}
