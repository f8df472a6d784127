package backends

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FleetTrack/config"
	"github.com/BearBump/FleetTrack/internal/storage/memdocs"
	"github.com/stretchr/testify/require"
)

func TestOpen_MemoryByDefault(t *testing.T) {
	st, closeFn, err := Open(context.Background(), &config.Config{}, 0)
	require.NoError(t, err)
	defer closeFn()
	_, ok := st.(*memdocs.Store)
	require.True(t, ok)
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Fleet: config.FleetConfig{StorageDriver: "cassandra"}}
	_, _, err := Open(context.Background(), cfg, 0)
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpen_PostgresGivesUpWithContext(t *testing.T) {
	cfg := &config.Config{
		Fleet:    config.FleetConfig{StorageDriver: DriverPostgres},
		Database: config.DatabaseConfig{Host: "127.0.0.1", Port: 1, Username: "u", Password: "p", DBName: "d"},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := Open(ctx, cfg, time.Minute)
	require.Error(t, err)
}

func TestPostgresConnString(t *testing.T) {
	db := config.DatabaseConfig{Host: "db", Port: 5432, Username: "fleet", Password: "secret", DBName: "fleet"}
	require.Equal(t, "postgres://fleet:secret@db:5432/fleet?sslmode=disable", PostgresConnString(db))
	db.SSLMode = "require"
	require.Equal(t, "postgres://fleet:secret@db:5432/fleet?sslmode=require", PostgresConnString(db))
}
