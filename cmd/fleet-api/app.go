package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/FleetTrack/internal/api/fleet_api"
	"github.com/BearBump/FleetTrack/internal/logger"
	"github.com/BearBump/FleetTrack/internal/services/flusher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
)

const shutdownTimeout = 2 * time.Second

type fleetAPIOpts struct {
	httpAddr    string
	swaggerPath string

	onListen func(httpAddr string)
}

type tripCloser interface {
	Close(ctx context.Context)
}

type fleetAPIDeps struct {
	api     *fleet_api.FleetAPI
	flusher *flusher.Flusher
	tracker tripCloser
	// ready reports whether the backing services answer; nil means always ready.
	ready func(ctx context.Context) error
}

func runFleetAPI(ctx context.Context, opts fleetAPIOpts, deps fleetAPIDeps) error {
	if opts.swaggerPath == "" {
		return errors.New("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return errors.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	log := logrus.WithField("component", "fleet-api")
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		if deps.flusher != nil {
			_ = deps.flusher.Run(ctx)
		}
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- serveHTTP(ctx, lis, newRouter(deps, opts.swaggerPath))
	}()
	log.WithField("addr", lis.Addr().String()).Info("HTTP server listening")

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
		<-httpErr
	case runErr = <-httpErr:
		stop()
	}
	<-flushDone

	// Active trips stay active in storage; a restarted instance resumes them.
	if deps.tracker != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		deps.tracker.Close(closeCtx)
		cancel()
	}
	return runErr
}

func newRouter(deps fleetAPIDeps, swaggerPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Requests(logrus.WithField("component", "http")))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := deps.ready(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/flusher/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.flusher == nil {
			_, _ = w.Write([]byte(`{"error":"flusher not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(deps.flusher.Stats())
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))

	if deps.api != nil {
		deps.api.Routes(r)
	}
	return r
}

func serveHTTP(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
