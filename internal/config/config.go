// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New(ctx) builds a Config holding every default.
//   - Load(ctx) layers .env, an optional YAML file and FORECAST_ env vars on top.
//   - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/okian/forecast/internal/domain/calibration"
	"github.com/okian/forecast/internal/domain/confidence"
	"github.com/okian/forecast/internal/domain/decay"
	"github.com/okian/forecast/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text, json or auto.
	LogFormat string `koanf:"log_format"`

	// LogFile, when set, tees logs into a rotated file.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory log queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of processing workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize caps the number of remembered log ids.
	DedupeSize int `koanf:"dedupe_size"`

	// DedupeTTL is how long a log id is remembered.
	DedupeTTL time.Duration `koanf:"dedupe_ttl"`

	// CacheTTL bounds how long a computed forecast is served from cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// DatabaseURL selects the Postgres calibration store when set.
	DatabaseURL string `koanf:"database_url"`

	Engine Engine `koanf:"engine"`

	// KPIs is the catalog of trackable actions.
	KPIs []model.KPIDefinition `koanf:"kpis"`
}

// Engine holds the forecasting engine tuning.
type Engine struct {
	// ConversionRate is the global fraction of predicted value expected to close.
	ConversionRate float64 `koanf:"conversion_rate"`

	// DefaultDecayDays applies to predictive KPIs without a decay window.
	DefaultDecayDays int `koanf:"default_decay_days"`

	Momentum    decay.MomentumConfig `koanf:"momentum"`
	Confidence  confidence.Config    `koanf:"confidence"`
	Calibration calibration.Params   `koanf:"calibration"`
}

// New creates a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "auto",
		Addr:           ":9080",
		EventQueueSize: 10_000,
		WorkerCount:    runtime.NumCPU() * 2,
		DedupeSize:     100_000,
		DedupeTTL:      24 * time.Hour,
		CacheTTL:       time.Minute,
		Engine: Engine{
			ConversionRate:   0.2,
			DefaultDecayDays: 90,
			Momentum:         decay.DefaultMomentum(),
			Confidence:       confidence.DefaultConfig(),
			Calibration:      calibration.DefaultParams(),
		},
		KPIs: DefaultCatalog(),
	}
}

func days(v float64) *float64 { return &v }

// DefaultCatalog is the built-in KPI catalog.
func DefaultCatalog() []model.KPIDefinition {
	return []model.KPIDefinition{
		{ID: "conversations", Name: "Conversations", Category: model.CategoryPredictive, BaseWeight: 0.01, TimingText: "60-120 days", DecayDays: 90, Version: 1},
		{ID: "appointments", Name: "Appointments", Category: model.CategoryPredictive, BaseWeight: 0.08, DelayDays: days(30), HoldDays: days(60), DecayDays: 90, Version: 1},
		{ID: "listings", Name: "Listings taken", Category: model.CategoryPredictive, BaseWeight: 0.35, TimingText: "4-8 weeks", DecayDays: 60, Version: 1},
		{ID: "offers", Name: "Offers written", Category: model.CategoryPredictive, BaseWeight: 0.5, DelayDays: days(14), TotalDays: days(45), DecayDays: 30, Version: 1},
		{ID: "pending", Name: "Pending deals", Category: model.CategoryAnchor, Version: 1},
		{ID: "closed", Name: "Closed deal", Category: model.CategoryRealized, Version: 1},
		{ID: "dials", Name: "Dials", Category: model.CategoryVolume, PointValue: 0.5, Version: 1},
		{ID: "open_house", Name: "Open house", Category: model.CategoryGrossPoint, PointValue: 10, Version: 1},
		{ID: "social_post", Name: "Social post", Category: model.CategoryCustom, PointValue: 2, Version: 1},
	}
}

// Catalog indexes the KPI definitions by id.
func (c *Config) Catalog() map[string]model.KPIDefinition {
	out := make(map[string]model.KPIDefinition, len(c.KPIs))
	for _, k := range c.KPIs {
		out[k.ID] = k
	}
	return out
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	e := c.Engine
	if e.ConversionRate < 0 || e.ConversionRate > 1 || math.IsNaN(e.ConversionRate) {
		return fmt.Errorf("%w: engine.conversion_rate must be within [0, 1]", ErrInvalidConfig)
	}
	w := e.Confidence.Weights
	if sum := w.Accuracy + w.Pipeline + w.Inactivity; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: engine.confidence.weights must sum to 1, got %g", ErrInvalidConfig, sum)
	}
	if e.Confidence.GreenThreshold <= e.Confidence.YellowThreshold {
		return fmt.Errorf("%w: engine.confidence.green_threshold must exceed yellow_threshold", ErrInvalidConfig)
	}
	p := e.Calibration
	if p.MinMultiplier <= 0 || p.MinMultiplier > p.MaxMultiplier {
		return fmt.Errorf("%w: engine.calibration multiplier bounds are invalid", ErrInvalidConfig)
	}
	if p.MinErrorRatio <= 0 || p.MinErrorRatio > p.MaxErrorRatio {
		return fmt.Errorf("%w: engine.calibration error ratio bounds are invalid", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.KPIs))
	for _, k := range c.KPIs {
		if k.ID == "" {
			return fmt.Errorf("%w: kpi without id", ErrInvalidConfig)
		}
		if seen[k.ID] {
			return fmt.Errorf("%w: duplicate kpi %q", ErrInvalidConfig, k.ID)
		}
		seen[k.ID] = true
		if _, err := model.ParseCategory(string(k.Category)); err != nil {
			return fmt.Errorf("%w: kpi %q: %w", ErrInvalidConfig, k.ID, err)
		}
		if k.BaseWeight < 0 || k.PointValue < 0 {
			return fmt.Errorf("%w: kpi %q has a negative weight", ErrInvalidConfig, k.ID)
		}
	}
	return nil
}
