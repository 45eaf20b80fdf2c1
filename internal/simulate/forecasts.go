package simulate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/forecast/pkg/logger"
)

// retrieveForecasts fetches every agent's forecast and takes a confidence
// snapshot for each. Failed users are left out of the result.
func retrieveForecasts(ctx context.Context, cfg *Config, client *HTTPClient, agents []Onboarding, stats *Stats) map[string]Forecast {
	logger.Get().Info(ctx, "retrieving forecasts", logger.Int("users", len(agents)), logger.Int("workers", cfg.Workers))

	var (
		mu        sync.Mutex
		out       = make(map[string]Forecast, len(agents))
		snapshots atomic.Int64
		wg        sync.WaitGroup
	)

	idx := make(chan int, cfg.Workers*WorkerChannelMultiplier)
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range idx {
				userID := agents[n].UserID
				f, err := client.Forecast(ctx, userID)
				if err != nil {
					logger.Get().Warn(ctx, "forecast retrieval failed", logger.String("userID", userID), logger.Error(err))
					continue
				}
				mu.Lock()
				out[userID] = f
				mu.Unlock()

				if err := client.Snapshot(ctx, userID); err != nil {
					logger.Get().Warn(ctx, "snapshot failed", logger.String("userID", userID), logger.Error(err))
					continue
				}
				snapshots.Add(1)
			}
		}()
	}

	go func() {
		defer close(idx)
		for i := range agents {
			select {
			case <-ctx.Done():
				return
			case idx <- i:
			}
		}
	}()
	wg.Wait()

	stats.ForecastsRetrieved = len(out)
	stats.SnapshotsTaken = int(snapshots.Load())
	return out
}
