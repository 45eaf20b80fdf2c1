// Package confidence scores how much a user's forecast can be trusted.
//
// Three sub-scores (historical accuracy, pipeline health, inactivity) are
// combined into a weighted 0-100 composite and a traffic-light band. Every
// intermediate is returned so the dashboard can explain the number.
package confidence

import (
	"math"
	"time"

	"github.com/okian/forecast/internal/domain/decay"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/internal/domain/numeric"
)

const maxScore = 100

// Band maps a ratio in [Min, Max) to a score.
type Band struct {
	Min   float64 `koanf:"min" json:"min"`
	Max   float64 `koanf:"max" json:"max"`
	Score float64 `koanf:"score" json:"score"`
}

// Table is an ordered list of bands; the first match wins.
type Table []Band

// Lookup returns the score of the first band containing ratio, or the lowest
// band score when none match.
func (t Table) Lookup(ratio float64) float64 {
	if len(t) == 0 {
		return 0
	}
	lowest := math.Inf(1)
	for _, b := range t {
		if ratio >= b.Min && ratio < b.Max {
			return b.Score
		}
		lowest = math.Min(lowest, b.Score)
	}
	return lowest
}

// Weights of the three sub-scores. They should sum to 1.
type Weights struct {
	Accuracy   float64 `koanf:"accuracy"`
	Pipeline   float64 `koanf:"pipeline"`
	Inactivity float64 `koanf:"inactivity"`
}

// Config holds the tunable constants of the scorer.
type Config struct {
	Weights Weights `koanf:"weights"`

	GreenThreshold  float64 `koanf:"green_threshold"`
	YellowThreshold float64 `koanf:"yellow_threshold"`

	AccuracyBands    Table   `koanf:"accuracy_bands"`
	AccuracyFallback float64 `koanf:"accuracy_fallback"`

	PipelineBands            Table   `koanf:"pipeline_bands"`
	PipelineFallbackWithPipe float64 `koanf:"pipeline_fallback_with_pipeline"`
	PipelineFallbackEmpty    float64 `koanf:"pipeline_fallback_empty"`

	InactivityGraceDays   int     `koanf:"inactivity_grace_days"`
	InactivityDeclineDays int     `koanf:"inactivity_decline_days"`
	InactivityFloor       float64 `koanf:"inactivity_floor"`

	TrailingDays   int `koanf:"trailing_days"`
	ProjectionDays int `koanf:"projection_days"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	inf := math.Inf(1)
	return Config{
		Weights:         Weights{Accuracy: 0.40, Pipeline: 0.35, Inactivity: 0.25},
		GreenThreshold:  70,
		YellowThreshold: 40,
		AccuracyBands: Table{
			{Min: 0.85, Max: 1.15, Score: 100},
			{Min: 0.70, Max: 1.30, Score: 80},
			{Min: 0.50, Max: 1.60, Score: 60},
			{Min: 0.30, Max: 2.00, Score: 40},
			{Min: 0, Max: inf, Score: 20},
		},
		AccuracyFallback: 50,
		PipelineBands: Table{
			{Min: 1.00, Max: inf, Score: 100},
			{Min: 0.75, Max: 1.00, Score: 85},
			{Min: 0.50, Max: 0.75, Score: 65},
			{Min: 0.25, Max: 0.50, Score: 45},
			{Min: 0, Max: 0.25, Score: 25},
		},
		PipelineFallbackWithPipe: 60,
		PipelineFallbackEmpty:    20,
		InactivityGraceDays:      7,
		InactivityDeclineDays:    21,
		InactivityFloor:          10,
		TrailingDays:             365,
		ProjectionDays:           45,
	}
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scorer) {
		s.cfg = cfg
	}
}

// WithThresholds overrides the band thresholds when green is above yellow.
func WithThresholds(green, yellow float64) Option {
	return func(s *Scorer) {
		if green > yellow {
			s.cfg.GreenThreshold = green
			s.cfg.YellowThreshold = yellow
		}
	}
}

// Input carries already-fetched data for one user.
type Input struct {
	Now          time.Time
	LastActivity time.Time
	Realized     []model.RealizedEntry
	Events       []model.PayoffEvent
	Anchors      []model.PipelineAnchor
	AvgPrice     float64
	Rate         float64
}

// Scorer computes confidence results. It holds no mutable state.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer with defaults and options applied.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.TrailingDays <= 0 {
		s.cfg.TrailingDays = 365
	}
	if s.cfg.ProjectionDays <= 0 {
		s.cfg.ProjectionDays = 45
	}
	return s
}

// Config returns a copy of the active configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Compute scores the input.
func (s *Scorer) Compute(in Input) model.ConfidenceResult {
	var c model.ConfidenceComponents

	c.AccuracyScore, c.AccuracyRatio, c.RealizedTrailing, c.VestedTrailing = s.accuracy(in)
	c.PipelineScore, c.PipelineRatio, c.PipelinePotential, c.ProjectedAverage = s.pipeline(in)
	c.InactivityScore, c.InactivityDays = s.inactivity(in.Now, in.LastActivity)

	w := s.cfg.Weights
	score := w.Accuracy*c.AccuracyScore + w.Pipeline*c.PipelineScore + w.Inactivity*c.InactivityScore
	score = numeric.Round(numeric.Clamp(score, 0, maxScore), numeric.AmountPlaces)

	return model.ConfidenceResult{
		Score:      score,
		Band:       s.Band(score),
		Components: c,
	}
}

// Band maps a composite score to green, yellow or red.
func (s *Scorer) Band(score float64) model.Band {
	switch {
	case score >= s.cfg.GreenThreshold:
		return model.BandGreen
	case score >= s.cfg.YellowThreshold:
		return model.BandYellow
	default:
		return model.BandRed
	}
}

func (s *Scorer) accuracy(in Input) (score, ratio, realized, vested float64) {
	from := decay.Day(in.Now).AddDate(0, 0, -s.cfg.TrailingDays)
	now := decay.Day(in.Now)

	for _, r := range in.Realized {
		d := decay.Day(r.At)
		if !d.Before(from) && !d.After(now) {
			realized += numeric.NonNegative(r.Amount)
		}
	}
	for _, ev := range in.Events {
		payoff := decay.Day(ev.Timestamp).AddDate(0, 0, max(0, ev.DelayDays))
		if !payoff.Before(from) && !payoff.After(now) {
			vested += numeric.NonNegative(ev.Magnitude)
		}
	}
	realized = numeric.Amount(realized)
	vested = numeric.Amount(vested)

	if vested <= 0 {
		return s.cfg.AccuracyFallback, 0, realized, vested
	}
	ratio = numeric.Ratio(realized / vested)
	return s.cfg.AccuracyBands.Lookup(ratio), ratio, realized, vested
}

func (s *Scorer) pipeline(in Input) (score, ratio, potential, projected float64) {
	price := numeric.NonNegative(in.AvgPrice)
	rate := numeric.NonNegative(in.Rate)
	for _, a := range in.Anchors {
		potential += numeric.NonNegative(a.Value) * price * rate
	}
	potential = numeric.Amount(potential)

	var sum float64
	for d := 0; d < s.cfg.ProjectionDays; d++ {
		sum += decay.AggregateAt(in.Events, in.Now.AddDate(0, 0, d))
	}
	projected = numeric.Amount(sum / float64(s.cfg.ProjectionDays))

	if projected <= 0 {
		if potential > 0 {
			return s.cfg.PipelineFallbackWithPipe, 0, potential, projected
		}
		return s.cfg.PipelineFallbackEmpty, 0, potential, projected
	}
	ratio = numeric.Ratio(potential / projected)
	return s.cfg.PipelineBands.Lookup(ratio), ratio, potential, projected
}

func (s *Scorer) inactivity(now, last time.Time) (float64, int) {
	grace := max(0, s.cfg.InactivityGraceDays)
	window := max(1, s.cfg.InactivityDeclineDays)
	floor := numeric.Clamp(s.cfg.InactivityFloor, 0, maxScore)

	if last.IsZero() {
		return floor, grace + window
	}
	days := max(0, decay.DaysBetween(last, now))
	if days <= grace {
		return maxScore, days
	}
	progress := math.Min(1, float64(days-grace)/float64(window))
	return numeric.Amount(maxScore - (maxScore-floor)*progress), days
}
