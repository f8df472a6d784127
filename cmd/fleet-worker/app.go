package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/BearBump/FleetTrack/config"
	"github.com/BearBump/FleetTrack/internal/broker/kafka"
	"github.com/BearBump/FleetTrack/internal/integrations/device"
	"github.com/BearBump/FleetTrack/internal/integrations/device/push"
	"github.com/BearBump/FleetTrack/internal/services/geofences"
	"github.com/BearBump/FleetTrack/internal/services/trips"
	"github.com/BearBump/FleetTrack/internal/storage/backends"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/BearBump/FleetTrack/internal/storage/fleetrepo"
	"github.com/sirupsen/logrus"
)

const (
	defaultEventsTopic   = "trip.events"
	defaultAlertsTopic   = "geofence.alerts"
	defaultConsumerGroup = "fleet-worker"
	defaultSimSpeedMps   = 13.9
)

type eventConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

type workerFactories struct {
	newStorage  func(ctx context.Context, cfg *config.Config) (store docstore.Store, closeFn func(), err error)
	newProducer func(cfg *config.Config) geofences.Publisher
	newConsumer func(cfg *config.Config, topic, group string) eventConsumer
}

func brokers(cfg *config.Config) []string {
	return []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (docstore.Store, func(), error) {
			return backends.Open(ctx, cfg, backends.DefaultPostgresWait)
		},
		newProducer: func(cfg *config.Config) geofences.Publisher {
			return kafka.NewProducer(brokers(cfg))
		},
		newConsumer: func(cfg *config.Config, topic, group string) eventConsumer {
			return kafka.NewConsumer(brokers(cfg), topic, group)
		},
	}
}

type workerSettings struct {
	eventsTopic string
	alertsTopic string
	group       string
	simSpeed    float64
	simInterval time.Duration
}

func settingsFrom(cfg *config.Config) workerSettings {
	s := workerSettings{
		eventsTopic: cfg.Kafka.TripEventsTopic,
		alertsTopic: cfg.Kafka.GeofenceAlertsTopic,
		group:       cfg.Worker.KafkaConsumerGroup,
		simSpeed:    cfg.Worker.SimulationSpeedMps,
		simInterval: time.Duration(cfg.Worker.SimulationIntervalSeconds) * time.Second,
	}
	if s.eventsTopic == "" {
		s.eventsTopic = defaultEventsTopic
	}
	if s.alertsTopic == "" {
		s.alertsTopic = defaultAlertsTopic
	}
	if s.group == "" {
		s.group = defaultConsumerGroup
	}
	if s.simSpeed <= 0 {
		s.simSpeed = defaultSimSpeedMps
	}
	if s.simInterval <= 0 {
		s.simInterval = time.Second
	}
	return s
}

// RunFleetWorker evaluates geofences against the trip event stream and
// serves the worker HTTP endpoints until ctx is done.
func RunFleetWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	log := logrus.WithField("component", "fleet-worker")
	ws := settingsFrom(cfg)

	store, closeFn, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	repo := fleetrepo.New(store)
	producer := f.newProducer(cfg)
	if c, ok := producer.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	monitor := geofences.NewMonitor(repo, producer, ws.alertsTopic)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	// Only simulated drivers have a device here; the phones push to the API.
	mux := device.NewMux(push.NewRegistry(0))
	settings := trips.DefaultSettings()
	settings.EventsTopic = ws.eventsTopic
	tracker := trips.NewTracker(repo, mux, settings).WithPublisher(producer)
	sim := newSimulator(tracker, mux, ws.simSpeed, ws.simInterval)
	defer func() {
		sim.Wait()
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tracker.Close(closeCtx)
	}()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	consumer := f.newConsumer(cfg, ws.eventsTopic, ws.group)
	consumeErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"topic": ws.eventsTopic, "group": ws.group}).Info("kafka consumer started")
		consumeErr <- consumer.Consume(ctx, func(key, value []byte) error {
			return monitor.HandleMessage(ctx, key, value)
		})
	}()

	httpErr := make(chan error, 1)
	if httpOpts.httpAddr != "" {
		httpOpts.monitor = monitor
		httpOpts.sim = sim
		httpOpts.settings = ws
		go func() { httpErr <- runWorkerHTTPServer(ctx, httpOpts) }()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumeErr:
		if err == nil {
			err = context.Canceled
		}
		return err
	case err := <-httpErr:
		if err == nil {
			err = context.Canceled
		}
		return err
	}
}
