package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/forecast/internal/adapters/repository"
	"github.com/okian/forecast/internal/domain/calibration"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/logger"
)

const recentCalibrationEvents = 20

// CalibrationView is one calibration state with its quality band.
type CalibrationView struct {
	model.CalibrationState
	Quality calibration.Quality `json:"quality"`
}

// CalibrationReport is the calibration diagnostics of one user.
type CalibrationReport struct {
	UserID string                   `json:"user_id"`
	States []CalibrationView        `json:"states"`
	Events []model.CalibrationEvent `json:"events"`
}

// Onboard stores the user's onboarding answers and seeds a multiplier for
// every selected KPI that has no calibration state yet.
func (s *Service) Onboard(ctx context.Context, profile model.Profile) ([]model.CalibrationState, error) {
	const op = "service.onboard"
	rt, err := s.deps()
	if err != nil {
		return nil, err
	}
	if err := s.validateProfile(&profile); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	profile.OnboardedAt = s.now()

	if err := rt.store.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("%s: save profile: %w", op, err)
	}
	defer s.invalidate(rt, profile.UserID)

	seeded := s.initialStates(profile)
	var written []model.CalibrationState
	err = rt.calStore.UpdateCalibration(ctx, profile.UserID, func(current map[string]model.CalibrationState) (repository.CalibrationUpdate, error) {
		written = written[:0]
		for _, st := range seeded {
			if _, ok := current[st.KPIID]; !ok {
				written = append(written, st)
			}
		}
		return repository.CalibrationUpdate{States: written}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: seed calibration: %w", op, err)
	}

	s.logger.Info(ctx, "user onboarded",
		logger.String("userID", profile.UserID),
		logger.Int("selected", len(profile.SelectedKPIs)),
		logger.Int("seeded", len(written)),
	)
	return written, nil
}

// ResetCalibration discards learned calibration and re-initializes the
// multipliers from the stored onboarding profile.
func (s *Service) ResetCalibration(ctx context.Context, userID string) ([]model.CalibrationState, error) {
	rt, err := s.deps()
	if err != nil {
		return nil, err
	}
	profile, err := rt.store.Profile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotOnboarded)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	states := s.initialStates(profile)
	err = rt.calStore.UpdateCalibration(ctx, userID, func(map[string]model.CalibrationState) (repository.CalibrationUpdate, error) {
		return repository.CalibrationUpdate{States: states, Replace: true}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset calibration: %w", err)
	}
	s.invalidate(rt, userID)
	s.logger.Info(ctx, "calibration reset", logger.String("userID", userID), logger.Int("kpis", len(states)))
	return states, nil
}

// Calibration returns the user's states, sorted by KPI, and recent events.
func (s *Service) Calibration(ctx context.Context, userID string) (CalibrationReport, error) {
	rt, err := s.deps()
	if err != nil {
		return CalibrationReport{}, err
	}
	states, err := rt.calStore.CalibrationStates(ctx, userID)
	if err != nil {
		return CalibrationReport{}, fmt.Errorf("load calibration: %w", err)
	}
	events, err := rt.calStore.CalibrationEvents(ctx, userID, recentCalibrationEvents)
	if err != nil {
		return CalibrationReport{}, fmt.Errorf("load calibration events: %w", err)
	}

	report := CalibrationReport{
		UserID: userID,
		States: make([]CalibrationView, 0, len(states)),
		Events: events,
	}
	if report.Events == nil {
		report.Events = []model.CalibrationEvent{}
	}
	for _, st := range states {
		report.States = append(report.States, CalibrationView{
			CalibrationState: st,
			Quality:          calibration.QualityFor(st.SampleSize, s.engine.Calibration),
		})
	}
	sort.Slice(report.States, func(i, j int) bool { return report.States[i].KPIID < report.States[j].KPIID })
	return report, nil
}

// initialStates derives the seeded states of the profile's selected KPIs.
func (s *Service) initialStates(p model.Profile) []model.CalibrationState {
	weights := make(map[string]float64, len(p.SelectedKPIs))
	for _, k := range p.SelectedKPIs {
		weights[k] = s.catalog[k].BaseWeight
	}
	mults := calibration.InitMultipliers(p.SelectedKPIs, p.WeeklyAverages, weights, s.engine.Calibration)

	out := make([]model.CalibrationState, 0, len(mults))
	for k, m := range mults {
		st := model.NewCalibrationState(p.UserID, k)
		st.Multiplier = m
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KPIID < out[j].KPIID })
	return out
}

func (s *Service) validateProfile(p *model.Profile) error {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidProfile)
	}
	if p.AvgPrice < 0 {
		return fmt.Errorf("%w: avg_price must not be negative", ErrInvalidProfile)
	}

	seen := make(map[string]bool, len(p.SelectedKPIs))
	selected := p.SelectedKPIs[:0:0]
	for _, k := range p.SelectedKPIs {
		def, ok := s.catalog[k]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownKPI, k)
		}
		if !def.IsPredictive() {
			return fmt.Errorf("%w: %q is not a predictive kpi", ErrInvalidProfile, k)
		}
		if !seen[k] {
			seen[k] = true
			selected = append(selected, k)
		}
	}
	p.SelectedKPIs = selected

	for k, v := range p.WeeklyAverages {
		if v < 0 {
			return fmt.Errorf("%w: weekly average of %q must not be negative", ErrInvalidProfile, k)
		}
	}
	return nil
}
