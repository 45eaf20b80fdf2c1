package simulate

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Generation ranges.
const (
	avgPriceMin   = 8000.0
	avgPriceRange = 12000.0

	dialsMin   = 20
	dialsRange = 60

	closeProbabilityPerDay = 0.04
	closeAmountMin         = 0.8
	closeAmountRange       = 0.4
	openHouseProbability   = 0.5
	pendingReportEveryDays = 7
	pendingMax             = 5
	latestMinutesBeforeNow = 12 * 60
	daysPerWeek            = 7.0
)

// weeklyRanges bounds the weekly average of each predictive KPI: {min, span}.
var weeklyRanges = []struct {
	kpi       string
	min, span float64
}{
	{kpiConversations, 20, 40},
	{kpiAppointments, 2, 6},
	{kpiListings, 0.5, 1.5},
	{kpiOffers, 0.5, 1.5},
}

// generator owns the seeded source shared by values and ids.
type generator struct {
	src *rand.ChaCha8
	rng *rand.Rand
	now time.Time
}

func newGenerator(seed uint64, now time.Time) *generator {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], seed)
	src := rand.NewChaCha8(key)
	return &generator{src: src, rng: rand.New(src), now: now.UTC()}
}

func (g *generator) id() string {
	u, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

func (g *generator) between(lo, span float64) float64 {
	return lo + g.rng.Float64()*span
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// count draws a whole number of actions for a day with the given mean.
func (g *generator) count(mean float64) int {
	n := int(mean)
	if g.rng.Float64() < mean-float64(n) {
		n++
	}
	return n
}

// at returns a timestamp daysAgo days before now, never after now.
func (g *generator) at(daysAgo int) time.Time {
	offset := time.Duration(daysAgo)*24*time.Hour + time.Duration(g.rng.IntN(latestMinutesBeforeNow))*time.Minute
	return g.now.Add(-offset)
}

func (g *generator) log(userID, kpi string, ts time.Time, value *float64) Log {
	return Log{
		ID:        g.id(),
		UserID:    userID,
		KPIID:     kpi,
		Timestamp: ts.Format(time.RFC3339),
		Value:     value,
	}
}

func ptr(v float64) *float64 { return &v }

// Generate builds a reproducible dataset for cfg.Agents users covering
// cfg.Days days of history ending at now. Logs are sorted by timestamp;
// a cfg.DupRate share of them is repeated at the end with the same id.
func Generate(cfg *Config, now time.Time) Dataset {
	g := newGenerator(cfg.Seed, now)
	var ds Dataset

	for i := 0; i < cfg.Agents; i++ {
		agent := g.agent()
		ds.Agents = append(ds.Agents, agent)
		ds.Logs = append(ds.Logs, g.activity(agent, cfg.Days)...)
	}
	sort.SliceStable(ds.Logs, func(i, j int) bool { return ds.Logs[i].Timestamp < ds.Logs[j].Timestamp })

	ds.Duplicates = int(float64(len(ds.Logs)) * cfg.DupRate)
	for i := 0; i < ds.Duplicates; i++ {
		ds.Logs = append(ds.Logs, ds.Logs[g.rng.IntN(len(ds.Logs)-i)])
	}
	return ds
}

func (g *generator) agent() Onboarding {
	o := Onboarding{
		UserID:         g.id(),
		AvgPrice:       round(g.between(avgPriceMin, avgPriceRange), 0),
		WeeklyAverages: make(map[string]float64, len(weeklyRanges)),
	}
	for _, r := range weeklyRanges {
		o.SelectedKPIs = append(o.SelectedKPIs, r.kpi)
		o.WeeklyAverages[r.kpi] = round(g.between(r.min, r.span), 1)
	}
	return o
}

func (g *generator) activity(a Onboarding, days int) []Log {
	var out []Log
	for d := days - 1; d >= 0; d-- {
		ts := g.at(d)
		for _, r := range weeklyRanges {
			if n := g.count(a.WeeklyAverages[r.kpi] / daysPerWeek); n > 0 {
				out = append(out, g.log(a.UserID, r.kpi, ts, ptr(float64(n))))
			}
		}
		out = append(out, g.log(a.UserID, kpiDials, ts, ptr(float64(dialsMin+g.rng.IntN(dialsRange)))))

		if ts.Weekday() == time.Saturday && g.rng.Float64() < openHouseProbability {
			out = append(out, g.log(a.UserID, kpiOpenHouse, ts, nil))
		}
		if d%pendingReportEveryDays == 0 {
			out = append(out, g.log(a.UserID, kpiPending, ts, ptr(float64(g.rng.IntN(pendingMax+1)))))
		}
		if g.rng.Float64() < closeProbabilityPerDay {
			amount := round(a.AvgPrice*g.between(closeAmountMin, closeAmountRange), 0)
			out = append(out, g.log(a.UserID, kpiClosed, ts, ptr(amount)))
		}
	}
	return out
}
