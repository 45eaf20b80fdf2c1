// Package model contains domain models passed between layers.
package model

import "errors"

// Category classifies what a KPI action contributes to the forecast.
type Category string

// KPI categories.
const (
	CategoryPredictive Category = "predictive_value"
	CategoryGrossPoint Category = "gross_point"
	CategoryVolume     Category = "volume_point"
	CategoryRealized   Category = "realized_outcome"
	CategoryAnchor     Category = "pipeline_anchor"
	CategoryCustom     Category = "custom"
)

// ErrUnknownCategory is returned when a category string is not recognised.
var ErrUnknownCategory = errors.New("unknown kpi category")

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryPredictive, CategoryGrossPoint, CategoryVolume,
		CategoryRealized, CategoryAnchor, CategoryCustom:
		return c, nil
	}
	return "", ErrUnknownCategory
}

// EarnsPoints reports whether logs of this category generate activity points.
func (c Category) EarnsPoints() bool {
	return c == CategoryGrossPoint || c == CategoryVolume || c == CategoryCustom
}

// KPIDefinition identifies a trackable action type.
// Pointer timing fields are nil when not explicitly configured.
type KPIDefinition struct {
	ID         string   `json:"id" koanf:"id"`
	Name       string   `json:"name" koanf:"name"`
	Category   Category `json:"category" koanf:"category"`
	BaseWeight float64  `json:"base_weight" koanf:"base_weight"`
	DelayDays  *float64 `json:"delay_days,omitempty" koanf:"delay_days"`
	HoldDays   *float64 `json:"hold_days,omitempty" koanf:"hold_days"`
	TotalDays  *float64 `json:"total_days,omitempty" koanf:"total_days"`
	DecayDays  float64  `json:"decay_days,omitempty" koanf:"decay_days"`
	TimingText string   `json:"timing,omitempty" koanf:"timing"`
	PointValue float64  `json:"point_value,omitempty" koanf:"point_value"`
	Version    int      `json:"version" koanf:"version"`
}

// IsPredictive reports whether the KPI produces payoff events.
func (k KPIDefinition) IsPredictive() bool { return k.Category == CategoryPredictive }
