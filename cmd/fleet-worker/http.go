package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/FleetTrack/internal/logger"
	"github.com/BearBump/FleetTrack/internal/services/geofences"
	"github.com/BearBump/FleetTrack/internal/services/trips"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	monitor  *geofences.Monitor
	sim      *simulator
	settings workerSettings
}

type simulateRequest struct {
	DriverID  string          `json:"driverId"`
	VehicleID string          `json:"vehicleId"`
	Route     json.RawMessage `json:"route"`
}

type workerStats struct {
	Geofences   geofences.MonitorStats `json:"geofences"`
	Simulations int                    `json:"simulations"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func simulateStatus(err error) int {
	switch {
	case errors.Is(err, errSimulationRunning),
		errors.Is(err, trips.ErrAlreadyActive),
		errors.Is(err, trips.ErrVehicleInUse):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.swaggerPath == "" {
		return errors.New("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return errors.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Requests(logrus.WithField("component", "worker-http")))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.monitor == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "monitor not wired"})
			return
		}
		st := workerStats{Geofences: opts.monitor.Stats()}
		if opts.sim != nil {
			st.Simulations = opts.sim.Running()
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"tripEventsTopic":     opts.settings.eventsTopic,
			"geofenceAlertsTopic": opts.settings.alertsTopic,
			"consumerGroup":       opts.settings.group,
			"simulationSpeedMps":  opts.settings.simSpeed,
			"simulationInterval":  opts.settings.simInterval.String(),
		})
	})

	r.Post("/simulate", func(w http.ResponseWriter, r *http.Request) {
		if opts.sim == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "simulator not wired"})
			return
		}
		var req simulateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("decode body: %v", err)})
			return
		}
		// the simulation outlives the request
		res, err := opts.sim.Start(ctx, req.DriverID, req.VehicleID, req.Route)
		if err != nil {
			writeJSON(w, simulateStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, res)
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
