package repository

import (
	"time"

	"github.com/okian/forecast/pkg/logger"
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithSnapshotRetention caps how many confidence snapshots are kept per user.
func WithSnapshotRetention(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.snapshotRetention = n
		}
	}
}

// PostgresOption applies a configuration option to the PostgresCalibrationStore.
type PostgresOption func(*PostgresCalibrationStore)

// WithPostgresLogger sets the logger used by the Postgres store.
func WithPostgresLogger(l logger.Logger) PostgresOption {
	return func(s *PostgresCalibrationStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMigrations controls whether schema migrations run on open.
func WithMigrations(enabled bool) PostgresOption {
	return func(s *PostgresCalibrationStore) {
		s.migrate = enabled
	}
}

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) PostgresOption {
	return func(s *PostgresCalibrationStore) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}
