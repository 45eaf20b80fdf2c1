// Package decay implements the time-decay payoff curve and its aggregates.
//
// An event is worth nothing until its delay elapses, then its full magnitude
// for the hold window, then it fades linearly to zero over the decay window.
// Everything is evaluated at UTC day granularity.
package decay

import (
	"time"

	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/internal/domain/numeric"
)

// Series lengths.
const (
	FutureMonths  = 12
	PastMonths    = 6
	NearTermCount = 3
)

const day = 24 * time.Hour

// SeriesPoint is one monthly value.
type SeriesPoint struct {
	Month string    `json:"month"`
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)) / day)
}

// ValueAt returns the residual value of ev on date, rounded to cents.
// Decay is strictly decreasing before rounding; a magnitude small enough
// that one day of decay is under a cent shows flat steps after it.
func ValueAt(ev model.PayoffEvent, date time.Time) float64 {
	magnitude := numeric.Finite(ev.Magnitude)
	if magnitude <= 0 {
		return 0
	}
	delay := max(0, ev.DelayDays)
	hold := max(0, ev.HoldDays)
	decayDays := max(1, ev.DecayDays)

	elapsed := DaysBetween(ev.Timestamp, date)
	switch {
	case elapsed < delay:
		return 0
	case elapsed < delay+hold:
		return numeric.Amount(magnitude)
	}

	into := elapsed - delay - hold
	if into >= decayDays {
		return 0
	}
	v := magnitude * (1 - float64(into)/float64(decayDays))
	return numeric.Amount(numeric.NonNegative(v))
}

// AggregateAt sums the residual values of events on date.
func AggregateAt(events []model.PayoffEvent, date time.Time) float64 {
	var total float64
	for _, ev := range events {
		total += ValueAt(ev, date)
	}
	return numeric.Amount(total)
}

// MonthEnd returns the last day of t's month, UTC midnight.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// FutureSeries evaluates events at each of the next twelve month ends,
// starting with the current month, scaled by the momentum bump.
func FutureSeries(events []model.PayoffEvent, now time.Time, bumpPercent float64) []SeriesPoint {
	factor := 1 + numeric.Finite(bumpPercent)/100
	start := monthStart(now)
	out := make([]SeriesPoint, FutureMonths)
	for k := range out {
		end := MonthEnd(start.AddDate(0, k, 0))
		out[k] = SeriesPoint{
			Month: end.Format("2006-01"),
			Date:  end,
			Value: numeric.Amount(AggregateAt(events, end) * factor),
		}
	}
	return out
}

// PastSeries buckets realized amounts into the last six calendar months,
// oldest first, ending with the current month.
func PastSeries(realized []model.RealizedEntry, now time.Time) []SeriesPoint {
	start := monthStart(now).AddDate(0, -(PastMonths - 1), 0)
	out := make([]SeriesPoint, PastMonths)
	index := make(map[string]int, PastMonths)
	for k := range out {
		m := start.AddDate(0, k, 0)
		key := m.Format("2006-01")
		out[k] = SeriesPoint{Month: key, Date: m}
		index[key] = k
	}
	for _, r := range realized {
		if k, ok := index[r.At.UTC().Format("2006-01")]; ok {
			out[k].Value += numeric.NonNegative(r.Amount)
		}
	}
	for k := range out {
		out[k].Value = numeric.Amount(out[k].Value)
	}
	return out
}

// NearTerm sums the first three forward points.
func NearTerm(series []SeriesPoint) float64 {
	var total float64
	for i := 0; i < len(series) && i < NearTermCount; i++ {
		total += series[i].Value
	}
	return numeric.Amount(total)
}

// MomentumConfig controls how recent point activity lifts the forecast.
type MomentumConfig struct {
	WindowDays       int     `koanf:"window_days"`
	PointsPerPercent float64 `koanf:"points_per_percent"`
	MaxPercent       float64 `koanf:"max_percent"`
}

// DefaultMomentum returns the default momentum configuration.
func DefaultMomentum() MomentumConfig {
	return MomentumConfig{WindowDays: 30, PointsPerPercent: 10, MaxPercent: 25}
}

// MomentumBump converts points earned in the trailing window into a percentage.
func MomentumBump(points []model.PointEntry, now time.Time, cfg MomentumConfig) float64 {
	if cfg.PointsPerPercent <= 0 || cfg.WindowDays <= 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		age := DaysBetween(p.At, now)
		if age >= 0 && age < cfg.WindowDays {
			sum += numeric.NonNegative(p.Points)
		}
	}
	return numeric.Ratio(numeric.Clamp(sum/cfg.PointsPerPercent, 0, cfg.MaxPercent))
}
