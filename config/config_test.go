package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("FLEET_DB_PASSWORD", "secret")
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "${FLEET_DB_PASSWORD}"
  name: "fleet"
kafka:
  host: "localhost"
  port: 9092
  trip_events_topic: "trip.events"
  geofence_alerts_topic: "geofence.alerts"
redis:
  host: "localhost"
  port: 6379
firebase:
  project_id: "fleet-dev"
fleet:
  http_addr: ":8080"
  storage_driver: "postgres"
  sample_interval_seconds: 5
  sample_distance_meters: 10
  background_tracking: false
  scan_rate_limit_per_minute: 30
  flush_backoff_2_seconds: 7
worker:
  http_addr: ":8081"
  kafka_consumer_group: "fleet-worker"
  simulation_speed_mps: 12.5
log:
  level: "debug"
  format: "text"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.Database.Password)
	require.Equal(t, "trip.events", cfg.Kafka.TripEventsTopic)
	require.Equal(t, "geofence.alerts", cfg.Kafka.GeofenceAlertsTopic)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "fleet-dev", cfg.Firebase.ProjectID)
	require.Equal(t, "postgres", cfg.Fleet.StorageDriver)
	require.NotNil(t, cfg.Fleet.BackgroundTracking)
	require.False(t, *cfg.Fleet.BackgroundTracking)
	require.Equal(t, 7, cfg.Fleet.FlushBackoff2Seconds)
	require.Equal(t, 12.5, cfg.Worker.SimulationSpeedMps)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("FLEET_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("FLEET_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("FLEET_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	require.Equal(t, "from-file", os.Getenv("FLEET_TEST_DOTENV"))
}
