package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/forecast/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

// Run executes a complete simulation against a running service.
func Run(ctx context.Context, cfg *Config) error {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	if cfg.Seed == 0 {
		cfg.Seed = uint64(stats.StartTime.UnixNano()) //nolint:gosec // non-negative clock value
	}
	log.Info(ctx, "starting forecast simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("agents", cfg.Agents),
		logger.Int("days", cfg.Days),
		logger.Int("workers", cfg.Workers),
		logger.String("timeout", cfg.Timeout.String()),
		logger.Any("seed", cfg.Seed),
	)

	client := NewHTTPClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate the dataset
	ds := Generate(cfg, time.Now())
	stats.LogsGenerated = len(ds.Logs)
	log.Info(ctx, "generated dataset", logger.Int("agents", len(ds.Agents)), logger.Int("logs", len(ds.Logs)))

	// Step 3: Onboard every agent
	for _, a := range ds.Agents {
		if err := client.Onboard(ctx, a); err != nil {
			return fmt.Errorf("onboard %s: %w", a.UserID, err)
		}
		stats.AgentsOnboarded++
	}

	// Step 4: Submit logs concurrently
	submitLogs(ctx, cfg, client, ds.Logs, stats)

	// Step 5: Wait for processing
	log.Info(ctx, "waiting for logs to be processed", logger.String("settle", cfg.Settle.String()))
	select {
	case <-ctx.Done():
		return fmt.Errorf("simulation canceled: %w", ctx.Err())
	case <-time.After(cfg.Settle):
	}

	// Step 6: Retrieve forecasts and snapshot confidence
	forecasts := retrieveForecasts(ctx, cfg, client, ds.Agents, stats)

	// Step 7: Save the dataset
	if err := saveDataset(ctx, cfg.OutputFile, ds); err != nil {
		log.Warn(ctx, "failed to save dataset", logger.Error(err))
	}

	// Step 8: Verify results
	verifyErr := verifyResults(ctx, ds, forecasts, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verifyErr != nil {
		return verifyErr
	}
	log.Info(ctx, "simulation completed successfully")
	return nil
}

// saveDataset writes the generated dataset as JSON.
func saveDataset(ctx context.Context, filename string, ds Dataset) error {
	if filename == "" {
		filename = "simulated_logs_" + time.Now().Format("20060102_150405") + ".json"
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	logger.Get().Info(ctx, "dataset saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptRate, logsPerSecond float64
	if stats.LogsSubmitted > 0 {
		acceptRate = float64(stats.LogsAccepted) / float64(stats.LogsSubmitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		logsPerSecond = float64(stats.LogsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("agentsOnboarded", stats.AgentsOnboarded),
		logger.Int("logsGenerated", stats.LogsGenerated),
		logger.Int("logsSubmitted", stats.LogsSubmitted),
		logger.Int("logsAccepted", stats.LogsAccepted),
		logger.Int("logsDuplicate", stats.LogsDuplicate),
		logger.Int("logsFailed", stats.LogsFailed),
		logger.Int("forecastsRetrieved", stats.ForecastsRetrieved),
		logger.Int("snapshotsTaken", stats.SnapshotsTaken),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("logsPerSecond", logsPerSecond),
	)
}
