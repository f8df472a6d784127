package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FleetTrack/config"
	"github.com/BearBump/FleetTrack/internal/api/fleet_api"
	"github.com/BearBump/FleetTrack/internal/broker/kafka"
	"github.com/BearBump/FleetTrack/internal/cache/rediscache"
	"github.com/BearBump/FleetTrack/internal/integrations/device/push"
	"github.com/BearBump/FleetTrack/internal/integrations/geocoding"
	"github.com/BearBump/FleetTrack/internal/logger"
	"github.com/BearBump/FleetTrack/internal/sampler"
	"github.com/BearBump/FleetTrack/internal/services/barcodes"
	"github.com/BearBump/FleetTrack/internal/services/flusher"
	"github.com/BearBump/FleetTrack/internal/services/geofences"
	"github.com/BearBump/FleetTrack/internal/services/trips"
	"github.com/BearBump/FleetTrack/internal/storage/backends"
	"github.com/BearBump/FleetTrack/internal/storage/fleetrepo"
	"github.com/sirupsen/logrus"
)

type fleetAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   fleetAPIOpts
	deps   fleetAPIDeps

	closers []func()
}

func mustBootstrapFleetAPI() *fleetAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}

	logCloser, err := logger.Setup(logger.Config(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("logger: %v", err))
	}
	app := &fleetAPIApp{closers: []func(){func() { _ = logCloser.Close() }}}

	httpAddr := cfg.Fleet.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.ctx, app.cancel = ctx, cancel

	store, closeStore, err := backends.Open(ctx, cfg, backends.DefaultPostgresWait)
	if err != nil {
		panic(err)
	}
	app.closers = append(app.closers, closeStore)
	repo := fleetrepo.New(store)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)
	app.closers = append(app.closers, closeQuietly(rc), closeQuietly(rl))

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	app.closers = append(app.closers, closeQuietly(producer))

	pushedMaxAge := seconds(cfg.Fleet.PushedFixMaxAgeSeconds, push.DefaultMaxFixAge)
	devices := push.NewRegistry(pushedMaxAge)

	bc := barcodes.New(repo)
	if perMinute := cfg.Fleet.ScanRateLimitPerMinute; perMinute > 0 {
		bc = bc.WithRateLimit(rl, int64(perMinute))
	}

	tracker := trips.NewTracker(repo, devices, trackerSettings(cfg)).
		WithCache(rc).
		WithPublisher(producer).
		WithScans(bc)
	fl := flusher.New(dirtySessions(tracker)).
		WithSettings(
			seconds(cfg.Fleet.FlushIntervalSeconds, 0),
			cfg.Fleet.FlushConcurrency,
			seconds(cfg.Fleet.FlushTimeoutSeconds, 0),
		).
		WithBackoff(flusher.BackoffConfig{
			Step1: seconds(cfg.Fleet.FlushBackoff1Seconds, 0),
			Step2: seconds(cfg.Fleet.FlushBackoff2Seconds, 0),
			Step3: seconds(cfg.Fleet.FlushBackoff3Seconds, 0),
			Step4: seconds(cfg.Fleet.FlushBackoff4Seconds, 0),
		})
	tracker.OnDirty(fl.Trigger)

	api := fleet_api.New(tracker, repo, devices, bc, geofences.New(repo)).
		WithGeocoder(newGeocoder(cfg, rc))

	app.opts = fleetAPIOpts{httpAddr: httpAddr, swaggerPath: swaggerPath}
	app.deps = fleetAPIDeps{
		api:     api,
		flusher: fl,
		tracker: tracker,
		ready:   rc.Ping,
	}
	return app
}

func trackerSettings(cfg *config.Config) trips.Settings {
	s := trips.DefaultSettings()
	if cfg.Fleet.SampleAccuracy != "" {
		s.Watch.Accuracy = sampler.ParseAccuracy(cfg.Fleet.SampleAccuracy)
	}
	s.Watch.MinInterval = seconds(cfg.Fleet.SampleIntervalSeconds, s.Watch.MinInterval)
	if cfg.Fleet.SampleDistanceMeters > 0 {
		s.Watch.MinDistanceMeters = float64(cfg.Fleet.SampleDistanceMeters)
	}
	if cfg.Fleet.BackgroundTracking != nil {
		s.Watch.Background = *cfg.Fleet.BackgroundTracking
	}
	s.FixTimeout = seconds(cfg.Fleet.FixTimeoutSeconds, s.FixTimeout)
	s.LocationTTL = seconds(cfg.Fleet.DriverLocationTTLSeconds, s.LocationTTL)
	if cfg.Kafka.TripEventsTopic != "" {
		s.EventsTopic = cfg.Kafka.TripEventsTopic
	}
	return s
}

func dirtySessions(tracker *trips.Tracker) flusher.Source {
	return flusher.SourceFunc(func() []flusher.Target {
		sessions := tracker.DirtySessions()
		out := make([]flusher.Target, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, s)
		}
		return out
	})
}

func newGeocoder(cfg *config.Config, rc *rediscache.RedisCache) geocoding.Geocoder {
	if cfg.Fleet.MapsAPIKey == "" {
		logrus.WithField("component", "geocoding").Info("no maps api key, reverse geocoding disabled")
		return geocoding.Nop{}
	}
	client, err := geocoding.NewClient(cfg.Fleet.MapsAPIKey)
	if err != nil {
		logrus.WithError(err).WithField("component", "geocoding").Warn("maps client not created, reverse geocoding disabled")
		return geocoding.Nop{}
	}
	return geocoding.NewCached(client, rc, seconds(cfg.Fleet.GeocodeCacheTTLSeconds, 24*time.Hour))
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func closeQuietly(c io.Closer) func() {
	return func() { _ = c.Close() }
}

func (a *fleetAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *fleetAPIApp) Run() error {
	return runFleetAPI(a.ctx, a.opts, a.deps)
}
