package api

import (
	"context"
	"net/http"

	"github.com/okian/forecast/internal/domain/model"
)

// CatalogDependencies defines the interface for KPI catalog reads.
type CatalogDependencies interface {
	Catalog(ctx context.Context) []model.KPIDefinition
}

// CatalogHandler handles KPI catalog requests.
type CatalogHandler struct {
	deps CatalogDependencies
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(deps CatalogDependencies) *CatalogHandler {
	return &CatalogHandler{deps: deps}
}

// HandleListKPIs handles GET /v1/kpis requests.
func (h *CatalogHandler) HandleListKPIs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Catalog(r.Context()))
}
