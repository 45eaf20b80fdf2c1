package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/forecast/internal/adapters/repository"
	"github.com/okian/forecast/internal/config"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the log queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the log-id deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDedupeTTL sets how long a log id is remembered.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.dedupeTTL = ttl
		}
	}
}

// WithCacheTTL sets how long a computed forecast is served from cache.
// Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl >= 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCatalog replaces the KPI catalog.
func WithCatalog(kpis []model.KPIDefinition) Option {
	return func(s *Service) {
		if len(kpis) == 0 {
			return
		}
		s.catalog = make(map[string]model.KPIDefinition, len(kpis))
		for _, k := range kpis {
			s.catalog[k.ID] = k
		}
	}
}

// WithEngine sets the engine tuning.
func WithEngine(e config.Engine) Option {
	return func(s *Service) {
		s.engine = e
	}
}

// WithConversionRate overrides the engine's global conversion rate.
func WithConversionRate(rate float64) Option {
	return func(s *Service) {
		if rate >= 0 {
			s.engine.ConversionRate = rate
		}
	}
}

// WithClock sets the clock used for "now".
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithStore sets the log, anchor, profile and snapshot store.
// The service does not close stores it did not create.
func WithStore(st Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithCalibrationStore sets where calibration state lives.
func WithCalibrationStore(st repository.CalibrationStore) Option {
	return func(s *Service) {
		s.calStore = st
	}
}
