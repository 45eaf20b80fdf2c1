// Package effects computes what a single log contributes, once, at write time.
package effects

import (
	"github.com/okian/forecast/internal/domain/backplot"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/internal/domain/numeric"
	"github.com/okian/forecast/internal/domain/timing"
)

// Context carries the per-user values that apply when the log is written.
type Context struct {
	Multiplier       float64
	AvgPrice         float64
	Rate             float64
	DefaultDecayDays int
}

// Compute returns the frozen effects of logging value against def.
// A nil value counts as a quantity of one for predictive and point KPIs.
func Compute(def model.KPIDefinition, ctx Context, value *float64) model.Effects {
	quantity := 1.0
	if value != nil {
		quantity = numeric.NonNegative(*value)
	}

	switch def.Category {
	case model.CategoryPredictive:
		multiplier := numeric.Finite(ctx.Multiplier)
		if multiplier <= 0 {
			multiplier = 1
		}
		t := timing.Resolve(timing.Input{
			Delay: def.DelayDays,
			Hold:  def.HoldDays,
			Total: def.TotalDays,
			Text:  def.TimingText,
		})
		magnitude := numeric.NonNegative(ctx.AvgPrice) * numeric.NonNegative(ctx.Rate) *
			numeric.NonNegative(def.BaseWeight) * multiplier * quantity
		return model.Effects{
			PredictiveMagnitude: numeric.Amount(magnitude),
			DelayDays:           t.Delay,
			HoldDays:            t.Hold,
			DecayDays:           backplot.DecayDays(def, ctx.DefaultDecayDays),
			Multiplier:          numeric.Ratio(multiplier),
		}
	case model.CategoryRealized:
		return model.Effects{RealizedDelta: numeric.Amount(numeric.NonNegative(numeric.Deref(value)))}
	case model.CategoryAnchor:
		return model.Effects{AnchorValue: numeric.Amount(numeric.Deref(value))}
	}

	if def.Category.EarnsPoints() {
		return model.Effects{Points: numeric.Amount(numeric.NonNegative(def.PointValue) * quantity)}
	}
	return model.Effects{}
}
