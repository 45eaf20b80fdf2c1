package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/forecast/internal/simulate"
	"github.com/okian/forecast/pkg/logger"
)

// Default configuration constants.
const (
	defaultAgents     = 50
	defaultDays       = 120
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultDupRate    = 0.02
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cfg := &simulate.Config{}
	var runTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a forecast service with simulated sales activity",
		Long: `Generates onboarding answers and a history of activity logs for a set of
simulated agents, submits them concurrently, then fetches every forecast,
takes a confidence snapshot and checks the dashboard invariants.`,
		Example: `  simulate --agents 200 --days 180 --workers 16
  simulate --url http://localhost:8080 --seed 42 --verbose`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return simulate.SetupLogging(cfg.LogFile, cfg.Verbose)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer func() { _ = logger.Sync() }()
			if cfg.Agents < 1 || cfg.Days < 1 || cfg.Workers < 1 {
				return fmt.Errorf("agents, days and workers must be positive")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()
			return simulate.Run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	f.IntVar(&cfg.Agents, "agents", defaultAgents, "number of simulated users")
	f.IntVar(&cfg.Days, "days", defaultDays, "days of history per user")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "number of concurrent workers")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.DurationVar(&cfg.Settle, "settle", simulate.DefaultSettle, "wait for processing before verifying")
	f.Uint64Var(&cfg.Seed, "seed", 0, "generator seed (0 picks one from the clock)")
	f.Float64Var(&cfg.DupRate, "dup-rate", defaultDupRate, "fraction of logs submitted twice")
	f.StringVar(&cfg.OutputFile, "output", "", "dataset output file (default: simulated_logs_TIMESTAMP.json)")
	f.StringVar(&cfg.LogFile, "log", "", "log file (default: simulate_TIMESTAMP.log)")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")
	f.DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "overall run timeout")
	return cmd
}
