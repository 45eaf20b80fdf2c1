package model

import "time"

// Effects are the computed consequences of a log, frozen when the log is written.
// They are never recomputed from the current KPI configuration.
type Effects struct {
	PredictiveMagnitude float64 `json:"predictive_magnitude"`
	Points              float64 `json:"points"`
	RealizedDelta       float64 `json:"realized_delta"`
	AnchorValue         float64 `json:"anchor_value"`
	DelayDays           int     `json:"delay_days"`
	HoldDays            int     `json:"hold_days"`
	DecayDays           int     `json:"decay_days"`
	Multiplier          float64 `json:"multiplier"`
}

// ActivityLog is one recorded occurrence of a user performing a KPI action.
type ActivityLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	KPIID     string    `json:"kpi_id"`
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value,omitempty"`
	Effects   Effects   `json:"effects"`
}

// PayoffEvent returns the engine representation of a predictive log.
func (l ActivityLog) PayoffEvent() PayoffEvent {
	return PayoffEvent{
		KPIID:     l.KPIID,
		Timestamp: l.Timestamp,
		Magnitude: l.Effects.PredictiveMagnitude,
		DelayDays: l.Effects.DelayDays,
		HoldDays:  l.Effects.HoldDays,
		DecayDays: l.Effects.DecayDays,
	}
}

// PayoffEvent carries one predictive occurrence and its decay schedule.
type PayoffEvent struct {
	KPIID     string    `json:"kpi_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Magnitude float64   `json:"magnitude"`
	DelayDays int       `json:"delay_days"`
	HoldDays  int       `json:"hold_days"`
	DecayDays int       `json:"decay_days"`
}

// PipelineAnchor is the latest logged value of an anchor KPI for a user.
type PipelineAnchor struct {
	UserID    string    `json:"user_id"`
	KPIID     string    `json:"kpi_id"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RealizedEntry is a realized amount at a point in time.
type RealizedEntry struct {
	At     time.Time
	Amount float64
}

// PointEntry is an amount of activity points earned at a point in time.
type PointEntry struct {
	At     time.Time
	Points float64
}

// Profile holds a user's onboarding answers.
type Profile struct {
	UserID         string             `json:"user_id"`
	AvgPrice       float64            `json:"avg_price"`
	SelectedKPIs   []string           `json:"selected_kpis"`
	WeeklyAverages map[string]float64 `json:"weekly_averages"`
	OnboardedAt    time.Time          `json:"onboarded_at"`
}
