package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/forecast/internal/app"
	"github.com/okian/forecast/internal/domain/model"
)

// CalibrationDependencies defines the interface for onboarding and calibration.
type CalibrationDependencies interface {
	Onboard(ctx context.Context, profile model.Profile) ([]model.CalibrationState, error)
	Calibration(ctx context.Context, userID string) (service.CalibrationReport, error)
	ResetCalibration(ctx context.Context, userID string) ([]model.CalibrationState, error)
}

// CalibrationHandler handles onboarding and calibration requests.
type CalibrationHandler struct {
	deps CalibrationDependencies
}

// NewCalibrationHandler creates a new calibration handler.
func NewCalibrationHandler(deps CalibrationDependencies) *CalibrationHandler {
	return &CalibrationHandler{deps: deps}
}

type onboardingRequest struct {
	AvgPrice       float64            `json:"avg_price"`
	SelectedKPIs   []string           `json:"selected_kpis"`
	WeeklyAverages map[string]float64 `json:"weekly_averages"`
}

type statesResponse struct {
	UserID string                   `json:"user_id"`
	States []model.CalibrationState `json:"states"`
}

func newStatesResponse(userID string, states []model.CalibrationState) statesResponse {
	if states == nil {
		states = []model.CalibrationState{}
	}
	return statesResponse{UserID: userID, States: states}
}

// HandleOnboard handles POST /v1/users/{user}/onboarding requests.
func (h *CalibrationHandler) HandleOnboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.onboard"
	var req onboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	userID := r.PathValue("user")
	states, err := h.deps.Onboard(r.Context(), model.Profile{
		UserID:         userID,
		AvgPrice:       req.AvgPrice,
		SelectedKPIs:   req.SelectedKPIs,
		WeeklyAverages: req.WeeklyAverages,
	})
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, newStatesResponse(userID, states))
}

// HandleGetCalibration handles GET /v1/users/{user}/calibration requests.
func (h *CalibrationHandler) HandleGetCalibration(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_calibration"
	report, err := h.deps.Calibration(r.Context(), r.PathValue("user"))
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleResetCalibration handles POST /v1/users/{user}/calibration/reset requests.
func (h *CalibrationHandler) HandleResetCalibration(w http.ResponseWriter, r *http.Request) {
	const op = "api.reset_calibration"
	userID := r.PathValue("user")
	states, err := h.deps.ResetCalibration(r.Context(), userID)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, newStatesResponse(userID, states))
}
