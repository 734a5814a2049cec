package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/forecast"
)

const (
	cacheWithRuns    = "public, max-age=600"
	cacheWithoutRuns = "public, max-age=60"
)

// Forecaster answers forecast and diagnostic requests.
type Forecaster interface {
	Forecast(ctx context.Context, req forecast.Request) (domain.ForecastResponse, error)
	Probe(ctx context.Context, lat, lon float64) (domain.ProbeReport, error)
}

// Server exposes the forecast API plus health, readiness, and metrics routes.
type Server struct {
	httpServer *http.Server
	forecaster Forecaster
	logger     *slog.Logger
}

// NewServer creates an HTTP server. writeTimeout bounds a whole forecast,
// which may fetch many GRIB files on a cold cache.
func NewServer(addr string, writeTimeout time.Duration, f Forecaster, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      withCORS(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		forecaster: f,
		logger:     logger,
	}

	mux.HandleFunc("GET /forecast", s.handleForecast)
	mux.HandleFunc("GET /forecast/debug", s.handleDebug)
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseCoordinates(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := forecast.Request{Lat: lat, Lon: lon, CompleteOnly: r.URL.Query().Get("complete_only") != "0"}

	resp, err := s.forecaster.Forecast(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinates):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.logger.Warn("forecast aborted", "lat", lat, "lon", lon, "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	if resp.RunsUsed > 0 {
		w.Header().Set("Cache-Control", cacheWithRuns)
	} else {
		w.Header().Set("Cache-Control", cacheWithoutRuns)
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseCoordinates(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.forecaster.Probe(r.Context(), lat, lon)
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinates):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	sharedobs.WriteJSON(w, http.StatusOK, report)
}

func parseCoordinates(r *http.Request) (lat, lon float64, err error) {
	q := r.URL.Query()
	if lat, err = parseFloat(q.Get("lat"), "lat"); err != nil {
		return 0, 0, err
	}
	if lon, err = parseFloat(q.Get("lon"), "lon"); err != nil {
		return 0, 0, err
	}
	return lat, lon, domain.ValidateCoordinates(lat, lon)
}

func parseFloat(raw, name string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// withCORS allows any origin to call the API and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "*")
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
