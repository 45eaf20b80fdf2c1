package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/okian/forecast/internal/adapters/repository"
	"github.com/okian/forecast/internal/domain/backplot"
	"github.com/okian/forecast/internal/domain/confidence"
	"github.com/okian/forecast/internal/domain/decay"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/metrics"
)

const lookbackDays = 365

// Forecast is the per-user dashboard.
type Forecast struct {
	UserID      string    `json:"user_id"`
	GeneratedAt time.Time `json:"generated_at"`

	// PipelineToday is the residual value of all predictive events today.
	PipelineToday   float64             `json:"pipeline_today"`
	NearTerm        float64             `json:"near_term"`
	MomentumPercent float64             `json:"momentum_percent"`
	Future          []decay.SeriesPoint `json:"future"`
	Past            []decay.SeriesPoint `json:"past"`

	Confidence model.ConfidenceResult `json:"confidence"`

	// UsingBackplot is set while the forecast runs on synthetic onboarding
	// events because the user has no predictive logs yet.
	UsingBackplot bool `json:"using_backplot"`
}

// Forecast returns the user's dashboard, served from cache while fresh.
func (s *Service) Forecast(ctx context.Context, userID string) (Forecast, error) {
	start := time.Now()
	rt, err := s.deps()
	if err != nil {
		return Forecast{}, err
	}
	if rt.cache != nil {
		if item := rt.cache.Get(userID); item != nil {
			metrics.RecordForecast(true, float64(time.Since(start).Milliseconds()))
			return item.Value(), nil
		}
	}

	version := rt.version(userID)
	seen := version.Load()
	f, err := s.computeForecast(ctx, rt, userID)
	if err != nil {
		return Forecast{}, err
	}
	if rt.cache != nil && version.Load() == seen {
		rt.cache.Set(userID, f, ttlcache.DefaultTTL)
		// A write that landed between the check and Set may have missed it.
		if version.Load() != seen {
			rt.cache.Delete(userID)
		}
	}
	metrics.RecordForecast(false, float64(time.Since(start).Milliseconds()))
	metrics.RecordConfidence(f.Confidence.Score, string(f.Confidence.Band))
	return f, nil
}

func (s *Service) computeForecast(ctx context.Context, rt *runtimeDeps, userID string) (Forecast, error) {
	now := s.now()

	logs, err := rt.store.LogsBetween(ctx, userID, now.AddDate(0, 0, -lookbackDays), now)
	if err != nil {
		return Forecast{}, fmt.Errorf("load logs: %w", err)
	}
	anchors, err := rt.store.Anchors(ctx, userID)
	if err != nil {
		return Forecast{}, fmt.Errorf("load anchors: %w", err)
	}
	lastActivity, err := rt.store.LastActivity(ctx, userID)
	if err != nil {
		return Forecast{}, fmt.Errorf("load last activity: %w", err)
	}

	var (
		events   []model.PayoffEvent
		realized []model.RealizedEntry
		points   []model.PointEntry
	)
	for _, l := range logs {
		switch {
		case l.Category == model.CategoryPredictive:
			events = append(events, l.PayoffEvent())
		case l.Category == model.CategoryRealized:
			realized = append(realized, model.RealizedEntry{At: l.Timestamp, Amount: l.Effects.RealizedDelta})
		case l.Category.EarnsPoints():
			points = append(points, model.PointEntry{At: l.Timestamp, Points: l.Effects.Points})
		}
	}

	profile, err := rt.store.Profile(ctx, userID)
	onboarded := err == nil
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Forecast{}, fmt.Errorf("load profile: %w", err)
	}

	usingBackplot := false
	if len(events) == 0 && onboarded {
		synthetic := backplot.Events(backplot.Input{
			Now:              now,
			AvgPrice:         profile.AvgPrice,
			Rate:             s.engine.ConversionRate,
			Selected:         profile.SelectedKPIs,
			Weekly:           profile.WeeklyAverages,
			Catalog:          s.catalog,
			DefaultDecayDays: s.engine.DefaultDecayDays,
		})
		if len(synthetic) > 0 {
			events, usingBackplot = synthetic, true
		}
	}

	bump := decay.MomentumBump(points, now, s.engine.Momentum)
	future := decay.FutureSeries(events, now, bump)

	return Forecast{
		UserID:          userID,
		GeneratedAt:     now,
		PipelineToday:   decay.AggregateAt(events, now),
		NearTerm:        decay.NearTerm(future),
		MomentumPercent: bump,
		Future:          future,
		Past:            decay.PastSeries(realized, now),
		Confidence: s.scorer.Compute(confidence.Input{
			Now:          now,
			LastActivity: lastActivity,
			Realized:     realized,
			Events:       events,
			Anchors:      anchors,
			AvgPrice:     profile.AvgPrice,
			Rate:         s.engine.ConversionRate,
		}),
		UsingBackplot: usingBackplot,
	}, nil
}

// SnapshotConfidence computes the current confidence and persists it.
// The cached forecast is neither used nor changed.
func (s *Service) SnapshotConfidence(ctx context.Context, userID string) (model.ConfidenceSnapshot, error) {
	rt, err := s.deps()
	if err != nil {
		return model.ConfidenceSnapshot{}, err
	}
	f, err := s.computeForecast(ctx, rt, userID)
	if err != nil {
		return model.ConfidenceSnapshot{}, err
	}
	snap := model.ConfidenceSnapshot{
		ID:      uuid.NewString(),
		UserID:  userID,
		TakenAt: f.GeneratedAt,
		Result:  f.Confidence,
	}
	if err := rt.store.SaveSnapshot(ctx, snap); err != nil {
		return model.ConfidenceSnapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	metrics.RecordConfidence(snap.Result.Score, string(snap.Result.Band))
	return snap, nil
}

// Snapshots returns up to limit snapshots, newest first.
func (s *Service) Snapshots(ctx context.Context, userID string, limit int) ([]model.ConfidenceSnapshot, error) {
	rt, err := s.deps()
	if err != nil {
		return nil, err
	}
	snaps, err := rt.store.Snapshots(ctx, userID, limit)
	if errors.Is(err, repository.ErrInvalidLimit) {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidLimit)
	}
	return snaps, err
}
