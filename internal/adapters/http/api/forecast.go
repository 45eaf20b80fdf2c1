package api

import (
	"context"
	"net/http"

	service "github.com/okian/forecast/internal/app"
)

// ForecastDependencies defines the interface for forecast reads.
type ForecastDependencies interface {
	Forecast(ctx context.Context, userID string) (service.Forecast, error)
}

// ForecastHandler handles forecast requests.
type ForecastHandler struct {
	deps ForecastDependencies
}

// NewForecastHandler creates a new forecast handler.
func NewForecastHandler(deps ForecastDependencies) *ForecastHandler {
	return &ForecastHandler{deps: deps}
}

// HandleGetForecast handles GET /v1/users/{user}/forecast requests.
func (h *ForecastHandler) HandleGetForecast(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_forecast"
	f, err := h.deps.Forecast(r.Context(), r.PathValue("user"))
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, f)
}
