package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/forecast/internal/adapters/mq/queue"
	"github.com/okian/forecast/internal/adapters/repository"
	"github.com/okian/forecast/internal/domain/attribution"
	"github.com/okian/forecast/internal/domain/calibration"
	"github.com/okian/forecast/internal/domain/effects"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/logger"
	"github.com/okian/forecast/pkg/metrics"
)

// Receipt acknowledges an ingested log.
type Receipt struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

func dedupeKey(userID, logID string) string {
	return userID + "/" + logID
}

// Ingest validates a log, drops duplicates and queues it for processing.
// A missing id is generated; a missing timestamp means now.
func (s *Service) Ingest(ctx context.Context, log model.ActivityLog) (Receipt, error) { //nolint:gocritic // hugeParam: copied and normalized
	const op = "service.ingest"
	rt, err := s.deps()
	if err != nil {
		return Receipt{}, err
	}

	log.UserID = strings.TrimSpace(log.UserID)
	if log.UserID == "" {
		return Receipt{}, fmt.Errorf("%s: %w: missing user_id", op, ErrInvalidLog)
	}
	def, ok := s.catalog[log.KPIID]
	if !ok {
		return Receipt{}, fmt.Errorf("%s: %w: %q", op, ErrUnknownKPI, log.KPIID)
	}
	if log.Value != nil && (math.IsNaN(*log.Value) || math.IsInf(*log.Value, 0)) {
		return Receipt{}, fmt.Errorf("%s: %w: value must be finite", op, ErrInvalidLog)
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = s.now()
	}
	log.Timestamp = log.Timestamp.UTC()
	log.Category = def.Category
	log.Effects = model.Effects{}

	key := dedupeKey(log.UserID, log.ID)
	if rt.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordLogDuplicate()
		s.logger.Debug(ctx, "duplicate log detected, skipping",
			logger.String("logID", log.ID),
			logger.String("userID", log.UserID),
		)
		return Receipt{ID: log.ID, Duplicate: true}, nil
	}

	if err := rt.queue.Enqueue(ctx, log); err != nil {
		rt.deduper.Unrecord(ctx, key)
		if errors.Is(err, queue.ErrClosed) {
			return Receipt{}, fmt.Errorf("%s: %w", op, ErrNotStarted)
		}
		return Receipt{}, fmt.Errorf("%s: %w: %w", op, ErrBackpressure, err)
	}
	metrics.RecordLogIngested(string(def.Category))
	return Receipt{ID: log.ID}, nil
}

// Process applies one accepted log: it freezes the log's effects, persists
// it, refreshes the pipeline anchor and, for a deal close, runs calibration.
func (s *Service) Process(ctx context.Context, log model.ActivityLog) error { //nolint:gocritic // hugeParam: received by value from the queue
	rt, err := s.deps()
	if err != nil {
		return err
	}
	def, ok := s.catalog[log.KPIID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKPI, log.KPIID)
	}
	log.Category = def.Category

	ectx := effects.Context{
		Multiplier:       1,
		Rate:             s.engine.ConversionRate,
		DefaultDecayDays: s.engine.DefaultDecayDays,
	}
	if def.IsPredictive() {
		profile, err := rt.store.Profile(ctx, log.UserID)
		switch {
		case err == nil:
			ectx.AvgPrice = profile.AvgPrice
		case errors.Is(err, repository.ErrNotFound):
			s.logger.Warn(ctx, "predictive log for user without profile",
				logger.String("userID", log.UserID),
				logger.String("logID", log.ID),
			)
		default:
			return fmt.Errorf("load profile: %w", err)
		}
		states, err := rt.calStore.CalibrationStates(ctx, log.UserID)
		if err != nil {
			return fmt.Errorf("load calibration: %w", err)
		}
		if st, ok := states[log.KPIID]; ok {
			ectx.Multiplier = st.Multiplier
		}
	}
	log.Effects = effects.Compute(def, ectx, log.Value)

	if err := rt.store.AppendLog(ctx, log); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			metrics.RecordLogDuplicate()
			return nil
		}
		return fmt.Errorf("append log: %w", err)
	}
	defer s.invalidate(rt, log.UserID)

	switch def.Category {
	case model.CategoryAnchor:
		if err := s.refreshAnchor(ctx, rt, log.UserID, log.KPIID); err != nil {
			return err
		}
	case model.CategoryRealized:
		if log.Effects.RealizedDelta > 0 {
			if err := s.calibrate(ctx, rt, log); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshAnchor sets the anchor to the value of the KPI's most recent log,
// or removes it when no log is left.
func (s *Service) refreshAnchor(ctx context.Context, rt *runtimeDeps, userID, kpiID string) error {
	latest, err := rt.store.LatestLog(ctx, userID, kpiID)
	if errors.Is(err, repository.ErrNotFound) {
		return rt.store.DeleteAnchor(ctx, userID, kpiID)
	}
	if err != nil {
		return fmt.Errorf("latest anchor log: %w", err)
	}
	return rt.store.UpsertAnchor(ctx, model.PipelineAnchor{
		UserID:    userID,
		KPIID:     kpiID,
		Value:     latest.Effects.AnchorValue,
		UpdatedAt: latest.Timestamp,
	})
}

// calibrate attributes a deal close to the user's trailing predictive logs and
// nudges the multipliers of the contributing KPIs in one atomic store update.
func (s *Service) calibrate(ctx context.Context, rt *runtimeDeps, closeLog model.ActivityLog) error { //nolint:gocritic // hugeParam
	from := closeLog.Timestamp.AddDate(0, 0, -attribution.LookbackDays)
	logs, err := rt.store.LogsBetween(ctx, closeLog.UserID, from, closeLog.Timestamp)
	if err != nil {
		return fmt.Errorf("load attribution window: %w", err)
	}
	attr := attribution.Attribute(closeLog.Timestamp, logs)
	if attr.PredictedTotal <= 0 {
		s.logger.Debug(ctx, "deal close has no attributable activity",
			logger.String("userID", closeLog.UserID),
			logger.String("logID", closeLog.ID),
		)
		return nil
	}

	realized := closeLog.Effects.RealizedDelta
	now := s.now()
	params := s.engine.Calibration
	var steps []float64

	err = rt.calStore.UpdateCalibration(ctx, closeLog.UserID, func(current map[string]model.CalibrationState) (repository.CalibrationUpdate, error) {
		states := calibration.Apply(closeLog.UserID, current, attr, realized, now, params)
		steps = steps[:0]
		for _, st := range states {
			old := 1.0
			if c, ok := current[st.KPIID]; ok && c.Multiplier > 0 {
				old = c.Multiplier
			}
			steps = append(steps, st.Multiplier/old-1)
		}
		return repository.CalibrationUpdate{
			States: states,
			Event: &model.CalibrationEvent{
				ID:             uuid.NewString(),
				UserID:         closeLog.UserID,
				LogID:          closeLog.ID,
				At:             closeLog.Timestamp,
				RealizedAmount: realized,
				PredictedTotal: attr.PredictedTotal,
				ErrorRatio:     calibration.ErrorRatio(realized, attr.PredictedTotal),
				Attribution:    attr,
			},
		}, nil
	})
	if err != nil {
		metrics.RecordErrorByComponent("calibration", "update_failed")
		return fmt.Errorf("update calibration: %w", err)
	}
	for _, step := range steps {
		metrics.RecordCalibrationUpdate(step)
	}
	s.logger.Info(ctx, "calibrated on deal close",
		logger.String("userID", closeLog.UserID),
		logger.String("logID", closeLog.ID),
		logger.Float64("predictedTotal", attr.PredictedTotal),
		logger.Float64("realized", realized),
		logger.Int("kpis", len(steps)),
	)
	return nil
}

// DeleteLog removes a log. An anchor log's removal recomputes the anchor from
// the remaining logs. Calibration already derived from the log is kept.
func (s *Service) DeleteLog(ctx context.Context, userID, logID string) (model.ActivityLog, error) {
	rt, err := s.deps()
	if err != nil {
		return model.ActivityLog{}, err
	}
	removed, err := rt.store.DeleteLog(ctx, userID, logID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.ActivityLog{}, fmt.Errorf("log %s: %w", logID, ErrNotFound)
	}
	if err != nil {
		return model.ActivityLog{}, fmt.Errorf("delete log: %w", err)
	}
	defer s.invalidate(rt, userID)
	rt.deduper.Unrecord(ctx, dedupeKey(userID, logID))
	metrics.RecordLogDeleted()

	if removed.Category == model.CategoryAnchor {
		if err := s.refreshAnchor(ctx, rt, userID, removed.KPIID); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
