package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Firebase FirebaseConfig `yaml:"firebase"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	TripEventsTopic     string `yaml:"trip_events_topic"`
	GeofenceAlertsTopic string `yaml:"geofence_alerts_topic"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type FleetConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// StorageDriver selects the document store: "memory" | "postgres" | "firestore".
	StorageDriver string `yaml:"storage_driver"`

	DriverLocationTTLSeconds int    `yaml:"driver_location_ttl_seconds"`
	GeocodeCacheTTLSeconds   int    `yaml:"geocode_cache_ttl_seconds"`
	MapsAPIKey               string `yaml:"maps_api_key"`

	SampleIntervalSeconds  int    `yaml:"sample_interval_seconds"`
	SampleDistanceMeters   int    `yaml:"sample_distance_meters"`
	SampleAccuracy         string `yaml:"sample_accuracy"`
	BackgroundTracking     *bool  `yaml:"background_tracking"`
	FixTimeoutSeconds      int    `yaml:"fix_timeout_seconds"`
	PushedFixMaxAgeSeconds int    `yaml:"pushed_fix_max_age_seconds"`

	ScanRateLimitPerMinute int `yaml:"scan_rate_limit_per_minute"`

	FlushIntervalSeconds int `yaml:"flush_interval_seconds"`
	FlushConcurrency     int `yaml:"flush_concurrency"`
	FlushTimeoutSeconds  int `yaml:"flush_timeout_seconds"`
	FlushBackoff1Seconds int `yaml:"flush_backoff_1_seconds"`
	FlushBackoff2Seconds int `yaml:"flush_backoff_2_seconds"`
	FlushBackoff3Seconds int `yaml:"flush_backoff_3_seconds"`
	FlushBackoff4Seconds int `yaml:"flush_backoff_4_seconds"`
}

type WorkerConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Simulated trips run through the same tracker as real ones.
	SimulationSpeedMps        float64 `yaml:"simulation_speed_mps"`
	SimulationIntervalSeconds int     `yaml:"simulation_interval_seconds"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return pkgerrors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// LoadConfig reads a YAML config. ${VAR} references are expanded from the
// environment before parsing.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read config file")
	}

	var config Config
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal YAML")
	}

	return &config, nil
}
