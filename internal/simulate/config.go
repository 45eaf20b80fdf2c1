package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Agents     int           // Number of simulated users
	Days       int           // Days of history generated per user
	Workers    int           // Concurrent HTTP workers
	Timeout    time.Duration // HTTP request timeout
	Settle     time.Duration // Wait between submission and verification
	Seed       uint64        // Generator seed; 0 picks one from the clock
	DupRate    float64       // Fraction of logs submitted twice
	OutputFile string        // Output file for generated logs
	LogFile    string        // Log file for run output
	Verbose    bool          // Enable debug logging
}

// Onboarding is one simulated user's onboarding answers.
type Onboarding struct {
	UserID         string             `json:"-"`
	AvgPrice       float64            `json:"avg_price"`
	SelectedKPIs   []string           `json:"selected_kpis"`
	WeeklyAverages map[string]float64 `json:"weekly_averages"`
}

// Log is the POST /v1/logs request body.
type Log struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	KPIID     string   `json:"kpi_id"`
	Timestamp string   `json:"timestamp"`
	Value     *float64 `json:"value,omitempty"`
}

// AckResponse is the response to a log submission.
type AckResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// SeriesPoint is one monthly forecast value.
type SeriesPoint struct {
	Month string  `json:"month"`
	Value float64 `json:"value"`
}

// Confidence is the subset of the confidence result the run checks.
type Confidence struct {
	Score float64 `json:"score"`
	Band  string  `json:"band"`
}

// Forecast is the subset of the forecast dashboard the run checks.
type Forecast struct {
	UserID        string        `json:"user_id"`
	PipelineToday float64       `json:"pipeline_today"`
	NearTerm      float64       `json:"near_term"`
	Future        []SeriesPoint `json:"future"`
	Past          []SeriesPoint `json:"past"`
	Confidence    Confidence    `json:"confidence"`
	UsingBackplot bool          `json:"using_backplot"`
}

// Dataset is everything a run submits.
type Dataset struct {
	Agents     []Onboarding `json:"agents"`
	Logs       []Log        `json:"logs"`
	Duplicates int          `json:"duplicates"`
}

// Stats holds run statistics.
type Stats struct {
	AgentsOnboarded    int
	LogsGenerated      int
	LogsSubmitted      int
	LogsAccepted       int
	LogsDuplicate      int
	LogsFailed         int
	ForecastsRetrieved int
	SnapshotsTaken     int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
