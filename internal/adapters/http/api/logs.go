package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	service "github.com/okian/forecast/internal/app"
	"github.com/okian/forecast/internal/domain/model"
)

// LogDependencies defines the interface for activity log operations.
type LogDependencies interface {
	Ingest(ctx context.Context, log model.ActivityLog) (service.Receipt, error)
	DeleteLog(ctx context.Context, userID, logID string) (model.ActivityLog, error)
}

// LogsHandler handles activity log requests.
type LogsHandler struct {
	deps LogDependencies
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(deps LogDependencies) *LogsHandler {
	return &LogsHandler{deps: deps}
}

// logRequest mirrors the OpenAPI schema for POST /v1/logs.
type logRequest struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	KPIID     string   `json:"kpi_id"`
	Timestamp string   `json:"timestamp"`
	Value     *float64 `json:"value"`
}

func (l logRequest) toLog() (model.ActivityLog, error) {
	switch {
	case strings.TrimSpace(l.UserID) == "":
		return model.ActivityLog{}, errors.New("missing user_id")
	case strings.TrimSpace(l.KPIID) == "":
		return model.ActivityLog{}, errors.New("missing kpi_id")
	}
	out := model.ActivityLog{ID: l.ID, UserID: l.UserID, KPIID: l.KPIID, Value: l.Value}
	if l.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, l.Timestamp)
		if err != nil {
			return model.ActivityLog{}, errors.New("invalid timestamp; must be RFC3339")
		}
		out.Timestamp = ts
	}
	return out, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostLog handles POST /v1/logs requests.
func (h *LogsHandler) HandlePostLog(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_log"
	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	log, err := req.toLog()
	if err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}

	receipt, err := h.deps.Ingest(r.Context(), log)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	if receipt.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", ID: receipt.ID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", ID: receipt.ID})
}

// HandleDeleteLog handles DELETE /v1/users/{user}/logs/{log} requests.
func (h *LogsHandler) HandleDeleteLog(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_log"
	removed, err := h.deps.DeleteLog(r.Context(), r.PathValue("user"), r.PathValue("log"))
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, removed)
}
