// Package backends opens the document store selected in the config.
package backends

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/FleetTrack/config"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/BearBump/FleetTrack/internal/storage/firedocs"
	"github.com/BearBump/FleetTrack/internal/storage/memdocs"
	"github.com/BearBump/FleetTrack/internal/storage/pgdocs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DriverMemory    = "memory"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

// DefaultPostgresWait bounds how long Open keeps retrying a postgres that is
// still starting up.
const DefaultPostgresWait = 60 * time.Second

var ErrUnknownDriver = errors.New("unknown storage driver")

func PostgresConnString(db config.DatabaseConfig) string {
	sslMode := db.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.DBName, sslMode)
}

// Open returns the store and its close function. An empty driver means memory.
func Open(ctx context.Context, cfg *config.Config, pgWait time.Duration) (docstore.Store, func(), error) {
	log := logrus.WithField("component", "storage")
	switch cfg.Fleet.StorageDriver {
	case "", DriverMemory:
		log.Warn("using in-memory document store, data is lost on restart")
		st := memdocs.New()
		return st, st.Close, nil
	case DriverPostgres:
		st, err := openPostgresWithRetry(ctx, PostgresConnString(cfg.Database), pgWait)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("host", cfg.Database.Host).Info("postgres document store ready")
		return st, st.Close, nil
	case DriverFirestore:
		st, err := firedocs.New(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("project", cfg.Firebase.ProjectID).Info("firestore document store ready")
		return st, st.Close, nil
	}
	return nil, nil, errors.Wrapf(ErrUnknownDriver, "%q", cfg.Fleet.StorageDriver)
}

func openPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) (*pgdocs.Storage, error) {
	if wait <= 0 {
		wait = DefaultPostgresWait
	}
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdocs.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}
