package simulate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/okian/forecast/pkg/logger"
)

// Expected series lengths of the forecast dashboard.
const (
	futureMonths = 12
	pastMonths   = 6
)

// ErrVerification is returned when a forecast breaks a dashboard invariant.
var ErrVerification = errors.New("forecast verification failed")

// checkForecast returns the invariants f violates.
func checkForecast(f Forecast) []string {
	var problems []string
	if len(f.Future) != futureMonths {
		problems = append(problems, fmt.Sprintf("future series has %d months", len(f.Future)))
	}
	if len(f.Past) != pastMonths {
		problems = append(problems, fmt.Sprintf("past series has %d months", len(f.Past)))
	}
	if f.Confidence.Score < 0 || f.Confidence.Score > 100 {
		problems = append(problems, fmt.Sprintf("confidence score %.2f out of range", f.Confidence.Score))
	}
	switch f.Confidence.Band {
	case "green", "yellow", "red":
	default:
		problems = append(problems, fmt.Sprintf("unknown confidence band %q", f.Confidence.Band))
	}
	if f.PipelineToday < 0 || f.NearTerm < 0 {
		problems = append(problems, "negative pipeline")
	}
	for _, p := range append(append([]SeriesPoint{}, f.Future...), f.Past...) {
		if p.Value < 0 {
			problems = append(problems, "negative series value in "+p.Month)
			break
		}
	}
	if f.UsingBackplot {
		problems = append(problems, "backplot used although predictive logs were submitted")
	}
	return problems
}

// verifyResults checks every retrieved forecast and the submission counts.
func verifyResults(ctx context.Context, ds Dataset, forecasts map[string]Forecast, stats *Stats) error {
	log := logger.Get()
	log.Info(ctx, "verifying results", logger.Int("forecasts", len(forecasts)))

	if len(forecasts) == 0 {
		return fmt.Errorf("%w: no forecasts to verify", ErrVerification)
	}

	var failures int
	for userID, f := range forecasts {
		for _, p := range checkForecast(f) {
			failures++
			log.Error(ctx, "forecast invariant violated", logger.String("userID", userID), logger.String("problem", p))
		}
	}

	if stats.LogsFailed == 0 && stats.LogsDuplicate != ds.Duplicates {
		log.Warn(ctx, "duplicate count mismatch",
			logger.Int("expected", ds.Duplicates),
			logger.Int("observed", stats.LogsDuplicate),
		)
	}

	displayTopForecasts(ctx, forecasts, len(ds.Agents))

	if failures > 0 {
		return fmt.Errorf("%w: %d problems", ErrVerification, failures)
	}
	log.Info(ctx, "result verification completed")
	return nil
}

const topForecasts = 5

// displayTopForecasts logs the users with the largest near-term forecast.
func displayTopForecasts(ctx context.Context, forecasts map[string]Forecast, users int) {
	list := make([]Forecast, 0, len(forecasts))
	for _, f := range forecasts {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].NearTerm != list[j].NearTerm {
			return list[i].NearTerm > list[j].NearTerm
		}
		return list[i].UserID < list[j].UserID
	})
	if len(list) > topForecasts {
		list = list[:topForecasts]
	}
	for i, f := range list {
		logger.Get().Info(ctx, "top forecast",
			logger.Int("rank", i+1),
			logger.String("userID", f.UserID),
			logger.Float64("nearTerm", f.NearTerm),
			logger.Float64("pipelineToday", f.PipelineToday),
			logger.Float64("confidence", f.Confidence.Score),
			logger.String("band", f.Confidence.Band),
			logger.Int("of", users),
		)
	}
}
