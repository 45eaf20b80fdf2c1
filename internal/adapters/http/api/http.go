// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/forecast/internal/app"
	"github.com/okian/forecast/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LogDependencies
	ForecastDependencies
	SnapshotDependencies
	CalibrationDependencies
	CatalogDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	logsHandler        *LogsHandler
	forecastHandler    *ForecastHandler
	snapshotHandler    *SnapshotHandler
	calibrationHandler *CalibrationHandler
	catalogHandler     *CatalogHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		logsHandler:        NewLogsHandler(deps),
		forecastHandler:    NewForecastHandler(deps),
		snapshotHandler:    NewSnapshotHandler(deps),
		calibrationHandler: NewCalibrationHandler(deps),
		catalogHandler:     NewCatalogHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /v1/kpis", MetricsMiddleware(s.catalogHandler.HandleListKPIs, "kpis"))
	mux.HandleFunc("POST /v1/logs", MetricsMiddleware(s.logsHandler.HandlePostLog, "logs"))
	mux.HandleFunc("DELETE /v1/users/{user}/logs/{log}", MetricsMiddleware(s.logsHandler.HandleDeleteLog, "logs_delete"))
	mux.HandleFunc("GET /v1/users/{user}/forecast", MetricsMiddleware(s.forecastHandler.HandleGetForecast, "forecast"))
	mux.HandleFunc("POST /v1/users/{user}/confidence-snapshots", MetricsMiddleware(s.snapshotHandler.HandlePostSnapshot, "snapshots"))
	mux.HandleFunc("GET /v1/users/{user}/confidence-snapshots", MetricsMiddleware(s.snapshotHandler.HandleListSnapshots, "snapshots"))
	mux.HandleFunc("POST /v1/users/{user}/onboarding", MetricsMiddleware(s.calibrationHandler.HandleOnboard, "onboarding"))
	mux.HandleFunc("GET /v1/users/{user}/calibration", MetricsMiddleware(s.calibrationHandler.HandleGetCalibration, "calibration"))
	mux.HandleFunc("POST /v1/users/{user}/calibration/reset", MetricsMiddleware(s.calibrationHandler.HandleResetCalibration, "calibration_reset"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status and code of its kind. Internal
// errors are logged and answered with the bare status text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := http.StatusText(status)
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Get().Named("api").Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	case err != nil:
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// kindOf classifies errors returned by the service.
func kindOf(err error) error {
	switch {
	case errors.Is(err, service.ErrUnknownKPI),
		errors.Is(err, service.ErrInvalidLog),
		errors.Is(err, service.ErrInvalidProfile),
		errors.Is(err, service.ErrInvalidLimit):
		return ErrBadRequest
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrNotOnboarded):
		return ErrNotFound
	case errors.Is(err, service.ErrBackpressure):
		return ErrBackpressure
	case errors.Is(err, service.ErrNotStarted):
		return ErrUnavailable
	default:
		return ErrInternal
	}
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		if errors.Is(err, service.ErrUnknownKPI) {
			return http.StatusBadRequest, "unknown_kpi"
		}
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
