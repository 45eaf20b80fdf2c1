// Package backplot synthesizes a year of weekly predictive events from a
// user's onboarding answers, so a brand-new user gets a non-empty forecast.
package backplot

import (
	"sort"
	"time"

	"github.com/okian/forecast/internal/domain/decay"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/internal/domain/numeric"
	"github.com/okian/forecast/internal/domain/timing"
)

// TrailingDays is how far back synthetic weeks reach.
const TrailingDays = 365

// Input carries everything needed to build the backplot.
type Input struct {
	Now      time.Time
	AvgPrice float64
	Rate     float64
	Selected []string
	Weekly   map[string]float64
	Catalog  map[string]model.KPIDefinition
	// DefaultDecayDays applies when a definition has no decay window.
	DefaultDecayDays int
}

// WeekStart returns Monday 00:00 UTC of t's week.
func WeekStart(t time.Time) time.Time {
	d := decay.Day(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Events builds one event per (selected predictive KPI, week), starting with
// the week before the current one and going back while within the trailing
// window. Output is ordered by timestamp then KPI id.
func Events(in Input) []model.PayoffEvent {
	price := numeric.NonNegative(in.AvgPrice)
	rate := numeric.NonNegative(in.Rate)
	earliest := decay.Day(in.Now).AddDate(0, 0, -TrailingDays)

	selected := append([]string(nil), in.Selected...)
	sort.Strings(selected)

	var weeks []time.Time
	for w := WeekStart(in.Now).AddDate(0, 0, -7); !w.Before(earliest); w = w.AddDate(0, 0, -7) {
		weeks = append(weeks, w)
	}

	var out []model.PayoffEvent
	for i := len(weeks) - 1; i >= 0; i-- {
		for _, id := range selected {
			def, ok := in.Catalog[id]
			if !ok || !def.IsPredictive() {
				continue
			}
			avg := numeric.NonNegative(in.Weekly[id])
			if avg == 0 {
				continue
			}
			magnitude := numeric.Amount(price * rate * numeric.NonNegative(def.BaseWeight) * avg)
			if magnitude == 0 {
				continue
			}
			t := timing.Resolve(timing.Input{
				Delay: def.DelayDays,
				Hold:  def.HoldDays,
				Total: def.TotalDays,
				Text:  def.TimingText,
			})
			out = append(out, model.PayoffEvent{
				KPIID:     id,
				Timestamp: weeks[i],
				Magnitude: magnitude,
				DelayDays: t.Delay,
				HoldDays:  t.Hold,
				DecayDays: DecayDays(def, in.DefaultDecayDays),
			})
		}
	}
	return out
}

// DecayDays returns the definition's decay window or the fallback, at least one day.
func DecayDays(def model.KPIDefinition, fallback int) int {
	d := int(numeric.NonNegative(def.DecayDays))
	if d <= 0 {
		d = fallback
	}
	return max(1, d)
}
