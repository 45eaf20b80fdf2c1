package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/forecast/internal/domain/model"
)

// Snapshot listing limits.
const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 500
)

// SnapshotDependencies defines the interface for confidence snapshots.
type SnapshotDependencies interface {
	SnapshotConfidence(ctx context.Context, userID string) (model.ConfidenceSnapshot, error)
	Snapshots(ctx context.Context, userID string, limit int) ([]model.ConfidenceSnapshot, error)
}

// SnapshotHandler handles confidence snapshot requests.
type SnapshotHandler struct {
	deps SnapshotDependencies
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(deps SnapshotDependencies) *SnapshotHandler {
	return &SnapshotHandler{deps: deps}
}

// HandlePostSnapshot handles POST /v1/users/{user}/confidence-snapshots requests.
func (h *SnapshotHandler) HandlePostSnapshot(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_snapshot"
	snap, err := h.deps.SnapshotConfidence(r.Context(), r.PathValue("user"))
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// HandleListSnapshots handles GET /v1/users/{user}/confidence-snapshots?limit=N requests.
func (h *SnapshotHandler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_snapshots"
	limit := defaultSnapshotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, NewKind(op, ErrBadRequest))
			return
		}
		if n > maxSnapshotLimit {
			writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("limit must not exceed %d", maxSnapshotLimit)))
			return
		}
		limit = n
	}

	snaps, err := h.deps.Snapshots(r.Context(), r.PathValue("user"), limit)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	if snaps == nil {
		snaps = []model.ConfidenceSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}
