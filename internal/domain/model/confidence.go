package model

import "time"

// Band is the traffic-light simplification of a confidence score.
type Band string

// Confidence bands.
const (
	BandGreen  Band = "green"
	BandYellow Band = "yellow"
	BandRed    Band = "red"
)

// ConfidenceComponents exposes every intermediate of the composite score.
type ConfidenceComponents struct {
	AccuracyScore     float64 `json:"accuracy_score"`
	AccuracyRatio     float64 `json:"accuracy_ratio"`
	RealizedTrailing  float64 `json:"realized_trailing"`
	VestedTrailing    float64 `json:"vested_trailing"`
	PipelineScore     float64 `json:"pipeline_score"`
	PipelineRatio     float64 `json:"pipeline_ratio"`
	PipelinePotential float64 `json:"pipeline_potential"`
	ProjectedAverage  float64 `json:"projected_average"`
	InactivityScore   float64 `json:"inactivity_score"`
	InactivityDays    int     `json:"inactivity_days"`
}

// ConfidenceResult is the composite score with its band and components.
type ConfidenceResult struct {
	Score      float64              `json:"score"`
	Band       Band                 `json:"band"`
	Components ConfidenceComponents `json:"components"`
}

// ConfidenceSnapshot is a persisted point-in-time confidence result.
type ConfidenceSnapshot struct {
	ID      string           `json:"id"`
	UserID  string           `json:"user_id"`
	TakenAt time.Time        `json:"taken_at"`
	Result  ConfidenceResult `json:"result"`
}
