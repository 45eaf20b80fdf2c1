// Package attribution credits a realized outcome to the predictive activity
// that plausibly produced it.
package attribution

import (
	"sort"
	"time"

	"github.com/okian/forecast/internal/domain/decay"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/internal/domain/numeric"
)

// LookbackDays bounds how far before a close predictive logs are considered.
const LookbackDays = 365

// Attribute computes residual-value contributions of predictive logs at the
// close date and turns them into per-KPI shares. Non-predictive logs and logs
// outside [close-365d, close] are ignored.
func Attribute(closeAt time.Time, logs []model.ActivityLog) model.Attribution {
	from := closeAt.AddDate(0, 0, -LookbackDays)
	contributions := make(map[string]float64)
	var total float64

	for _, l := range logs {
		if l.Category != model.CategoryPredictive {
			continue
		}
		if l.Timestamp.Before(from) || l.Timestamp.After(closeAt) {
			continue
		}
		v := decay.ValueAt(l.PayoffEvent(), closeAt)
		if v <= 0 {
			continue
		}
		contributions[l.KPIID] += v
		total += v
	}

	out := model.Attribution{
		PredictedTotal:    numeric.Amount(total),
		ShareByKPI:        map[string]float64{},
		ContributionByKPI: map[string]float64{},
	}
	if total <= 0 {
		out.PredictedTotal = 0
		return out
	}
	for kpi, c := range contributions {
		out.ContributionByKPI[kpi] = numeric.Amount(c)
	}
	out.ShareByKPI = shares(contributions, total)
	return out
}

// shares rounds each contribution's fraction of total and hands the rounding
// leftover to the KPI with the largest share, so shares sum to exactly 1 and
// none goes negative. Ties go to the first KPI by id.
func shares(contributions map[string]float64, total float64) map[string]float64 {
	kpis := make([]string, 0, len(contributions))
	for kpi := range contributions {
		kpis = append(kpis, kpi)
	}
	sort.Strings(kpis)

	out := make(map[string]float64, len(kpis))
	var sum float64
	largest, best := "", -1.0
	for _, kpi := range kpis {
		r := numeric.Ratio(contributions[kpi] / total)
		out[kpi] = r
		sum += r
		if r > best {
			largest, best = kpi, r
		}
	}
	if largest != "" {
		out[largest] = numeric.Ratio(out[largest] + 1 - sum)
	}
	return out
}
