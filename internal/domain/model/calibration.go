package model

import "time"

// CalibrationState is the per (user, predictive KPI) correction state.
type CalibrationState struct {
	UserID             string    `json:"user_id"`
	KPIID              string    `json:"kpi_id"`
	Multiplier         float64   `json:"multiplier"`
	SampleSize         int       `json:"sample_size"`
	RollingErrorRatio  *float64  `json:"rolling_error_ratio,omitempty"`
	RollingAbsPctError *float64  `json:"rolling_abs_pct_error,omitempty"`
	LastCalibratedAt   time.Time `json:"last_calibrated_at,omitempty"`
}

// NewCalibrationState returns the default state for a pair.
func NewCalibrationState(userID, kpiID string) CalibrationState {
	return CalibrationState{UserID: userID, KPIID: kpiID, Multiplier: 1}
}

// Attribution is the outcome of attributing a deal close to prior predictive logs.
type Attribution struct {
	PredictedTotal    float64            `json:"predicted_total"`
	ShareByKPI        map[string]float64 `json:"share_by_kpi"`
	ContributionByKPI map[string]float64 `json:"contribution_by_kpi"`
}

// CalibrationEvent is the immutable audit row of one deal-close calibration run.
type CalibrationEvent struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	LogID          string      `json:"log_id"`
	At             time.Time   `json:"at"`
	RealizedAmount float64     `json:"realized_amount"`
	PredictedTotal float64     `json:"predicted_total"`
	ErrorRatio     float64     `json:"error_ratio"`
	Attribution    Attribution `json:"attribution"`
}
