// Package calibration maintains per-user, per-KPI correction multipliers.
//
// Multipliers start from the user's self-reported activity mix and are then
// nudged after every deal close toward agreement between predicted and
// realized outcomes. Trust in each nudge grows with sample size.
package calibration

import (
	"math"
	"sort"
	"time"

	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/internal/domain/numeric"
)

// Quality is a coarse indicator of how far calibration can be trusted.
type Quality string

// Quality bands.
const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Params are the tunable constants of the engine.
type Params struct {
	MinMultiplier   float64 `koanf:"min_multiplier"`
	MaxMultiplier   float64 `koanf:"max_multiplier"`
	StepCoefficient float64 `koanf:"step_coefficient"`
	WarmupSamples   int     `koanf:"warmup_samples"`
	MinErrorRatio   float64 `koanf:"min_error_ratio"`
	MaxErrorRatio   float64 `koanf:"max_error_ratio"`
	MediumSamples   int     `koanf:"medium_samples"`
	HighSamples     int     `koanf:"high_samples"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinMultiplier:   0.5,
		MaxMultiplier:   2.0,
		StepCoefficient: 0.25,
		WarmupSamples:   20,
		MinErrorRatio:   0.2,
		MaxErrorRatio:   5.0,
		MediumSamples:   5,
		HighSamples:     20,
	}
}

func (p Params) clampMultiplier(m float64) float64 {
	return numeric.Clamp(m, p.MinMultiplier, p.MaxMultiplier)
}

// InitMultipliers derives starting multipliers for the selected KPIs from the
// user's historical weekly volumes and the catalog base weights:
// sqrt(volume share / base weight share), clamped. Without usable totals every
// KPI starts at 1; a KPI with no volume or weight of its own also gets 1.
func InitMultipliers(selected []string, weekly, baseWeight map[string]float64, p Params) map[string]float64 {
	out := make(map[string]float64, len(selected))
	var volumeTotal, weightTotal float64
	for _, k := range selected {
		volumeTotal += numeric.NonNegative(weekly[k])
		weightTotal += numeric.NonNegative(baseWeight[k])
	}
	for _, k := range selected {
		out[k] = 1
		if volumeTotal <= 0 || weightTotal <= 0 {
			continue
		}
		v := numeric.NonNegative(weekly[k])
		w := numeric.NonNegative(baseWeight[k])
		if v <= 0 || w <= 0 {
			continue
		}
		ratio := (v / volumeTotal) / (w / weightTotal)
		out[k] = numeric.Ratio(p.clampMultiplier(math.Sqrt(ratio)))
	}
	return out
}

// StepResult is the outcome of a single online update.
type StepResult struct {
	NewMultiplier        float64 `json:"new_multiplier"`
	Step                 float64 `json:"step"`
	Trust                float64 `json:"trust"`
	NormalizedErrorRatio float64 `json:"normalized_error_ratio"`
}

// Step nudges one multiplier given the deal's error ratio and the KPI's share
// of the attribution. A zero share leaves the multiplier untouched.
func Step(oldMultiplier float64, sampleSize int, errorRatio, share float64, p Params) StepResult {
	old := numeric.Finite(oldMultiplier)
	if old <= 0 {
		old = 1
	}
	normalized := numeric.Ratio(numeric.Clamp(numeric.Finite(errorRatio), p.MinErrorRatio, p.MaxErrorRatio))
	trust := numeric.Ratio(Trust(sampleSize, p))

	share = numeric.NonNegative(share)
	if share == 0 {
		return StepResult{
			NewMultiplier:        numeric.Ratio(p.clampMultiplier(old)),
			Trust:                trust,
			NormalizedErrorRatio: normalized,
		}
	}

	step := p.StepCoefficient * trust * (normalized - 1) * share
	return StepResult{
		NewMultiplier:        numeric.Ratio(p.clampMultiplier(old * (1 + step))),
		Step:                 numeric.Ratio(step),
		Trust:                trust,
		NormalizedErrorRatio: normalized,
	}
}

// Trust grows linearly with samples until the warmup count is reached.
func Trust(sampleSize int, p Params) float64 {
	if p.WarmupSamples <= 0 {
		return 1
	}
	return math.Min(1, float64(max(0, sampleSize)+1)/float64(p.WarmupSamples))
}

// RollingAverage folds x into the mean of n previous samples. A nil mean
// means there are no previous samples.
func RollingAverage(old *float64, n int, x float64) float64 {
	x = numeric.Finite(x)
	if old == nil || n <= 0 {
		return numeric.Ratio(x)
	}
	o := numeric.Finite(*old)
	return numeric.Ratio(o + (x-o)/float64(n+1))
}

// QualityFor maps a sample size to a quality band.
func QualityFor(sampleSize int, p Params) Quality {
	switch {
	case sampleSize < p.MediumSamples:
		return QualityLow
	case sampleSize < p.HighSamples:
		return QualityMedium
	default:
		return QualityHigh
	}
}

// ErrorRatio is realized / predicted, or 0 when nothing was predicted.
func ErrorRatio(realized, predicted float64) float64 {
	predicted = numeric.NonNegative(predicted)
	if predicted == 0 {
		return 0
	}
	return numeric.Ratio(numeric.NonNegative(realized) / predicted)
}

// Apply runs the full deal-close update over the current states of one user.
// States missing for an attributed KPI start from the default. Only KPIs with a
// positive share are returned, sorted by KPI id. The input map is not modified.
func Apply(userID string, states map[string]model.CalibrationState, attr model.Attribution, realized float64, now time.Time, p Params) []model.CalibrationState {
	if attr.PredictedTotal <= 0 {
		return nil
	}
	ratio := ErrorRatio(realized, attr.PredictedTotal)

	kpis := make([]string, 0, len(attr.ShareByKPI))
	for k, share := range attr.ShareByKPI {
		if share > 0 {
			kpis = append(kpis, k)
		}
	}
	sort.Strings(kpis)

	out := make([]model.CalibrationState, 0, len(kpis))
	for _, k := range kpis {
		st, ok := states[k]
		if !ok {
			st = model.NewCalibrationState(userID, k)
		}
		res := Step(st.Multiplier, st.SampleSize, ratio, attr.ShareByKPI[k], p)

		errAvg := RollingAverage(st.RollingErrorRatio, st.SampleSize, res.NormalizedErrorRatio)
		apeAvg := RollingAverage(st.RollingAbsPctError, st.SampleSize, math.Abs(res.NormalizedErrorRatio-1))

		st.UserID = userID
		st.KPIID = k
		st.Multiplier = res.NewMultiplier
		st.RollingErrorRatio = &errAvg
		st.RollingAbsPctError = &apeAvg
		st.SampleSize++
		st.LastCalibratedAt = now.UTC()
		out = append(out, st)
	}
	return out
}
