package barcodes

import (
	"strings"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestValidateFormat(t *testing.T) {
	cases := map[string]bool{
		"FLEET_AB123CD_F01_K3J2L1_AB12CD":  true,
		"FLEET_AB123CD_N/A_K3J2L1_AB12CD":  true,
		"FLEET_AB123CD_F01":                false,
		"TRUCK_AB123CD_F01_K3J2L1_AB12CD":  false,
		"FLEET_ab123cd_F01_K3J2L1_AB12CD":  false,
		"FLEET__F01_K3J2L1_AB12CD":         false,
		"FLEET_AB123CD_F01_K3J2L1_AB12CD_": false,
		"FLEET_AB 123_F01_K3J2L1_AB12CD":   false,
		"FLEET_AB123CD_F01_K3J2L1_N/A":     false,
		"":                                 false,
	}
	for raw, want := range cases {
		require.Equal(t, want, ValidateFormat(raw), raw)
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("FLEET_AB123CD_F01_K3J2L1_AB12CD")
	require.NoError(t, err)
	require.Equal(t, Parsed{RegistrationNo: "AB123CD", FleetNo: "F01", Timestamp36: "K3J2L1", Random: "AB12CD"}, p)

	p, err = Parse("FLEET_AB123CD_N/A_K3J2L1_AB12CD")
	require.NoError(t, err)
	require.Empty(t, p.FleetNo)

	_, err = Parse("FLEET_AB123CD_F01")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestGenerate_RoundTrips(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	v := models.Vehicle{ID: "v1", RegistrationNo: "kba 123a", FleetNo: "F-07"}

	raw, err := Generate(v, now)
	require.NoError(t, err)
	require.True(t, ValidateFormat(raw), raw)
	require.True(t, strings.HasPrefix(raw, "FLEET_KBA123A_F07_"))

	p, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, p.Random, randomLen)
	created, err := p.CreationTime()
	require.NoError(t, err)
	require.Equal(t, now, created)
}

func TestGenerate_NoFleetNumber(t *testing.T) {
	raw, err := Generate(models.Vehicle{ID: "v1", RegistrationNo: "KBA123A"}, time.Now())
	require.NoError(t, err)
	require.True(t, ValidateFormat(raw))
	require.Contains(t, raw, "_N/A_")
}

func TestGenerate_Distinct(t *testing.T) {
	now := time.Now()
	v := models.Vehicle{ID: "v1", RegistrationNo: "KBA123A"}
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		raw, err := Generate(v, now)
		require.NoError(t, err)
		seen[raw] = struct{}{}
	}
	require.Greater(t, len(seen), 195)
}

func TestGenerate_NeedsRegistration(t *testing.T) {
	_, err := Generate(models.Vehicle{ID: "v1", RegistrationNo: " - "}, time.Now())
	require.Error(t, err)
}

func TestQRCodeURL(t *testing.T) {
	require.Equal(t,
		"https://api.qrserver.com/v1/create-qr-code/?size=300x300&data=FLEET_A_N%2FA_B_C",
		QRCodeURL("FLEET_A_N/A_B_C"))
}
