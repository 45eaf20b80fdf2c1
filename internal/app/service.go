// Package service hosts the forecasting engine: it accepts activity logs,
// applies them asynchronously, runs deal-close calibration and serves
// per-user forecasts to the HTTP API.
package service

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/okian/forecast/internal/adapters/mq/queue"
	"github.com/okian/forecast/internal/adapters/mq/worker"
	"github.com/okian/forecast/internal/adapters/repository"
	"github.com/okian/forecast/internal/config"
	"github.com/okian/forecast/internal/domain/confidence"
	"github.com/okian/forecast/internal/domain/dedupe"
	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/logger"
	"github.com/okian/forecast/pkg/metrics"
)

const (
	defaultQueueSize  = 10_000
	defaultDedupeSize = 100_000
	defaultDedupeTTL  = 24 * time.Hour
	defaultCacheTTL   = time.Minute
	stopTimeout       = 30 * time.Second
)

// Store is everything the service persists besides calibration state.
type Store interface {
	repository.LogStore
	repository.AnchorStore
	repository.ProfileStore
	repository.SnapshotStore
}

type statser interface {
	Stats(ctx context.Context) repository.Stats
}

// runtimeDeps are the components built by Start and torn down by Stop.
type runtimeDeps struct {
	store    Store
	calStore repository.CalibrationStore
	queue    *queue.InMemoryQueue
	pool     *worker.Pool
	deduper  dedupe.Deduper
	cache    *ttlcache.Cache[string, Forecast]
	// versions counts writes per user; a forecast computed across a write
	// is not cached.
	versions sync.Map // userID -> *atomic.Uint64

	owned  *repository.MemoryStore
	cancel context.CancelFunc
}

// Service implements the dependencies of the HTTP API.
type Service struct {
	mu sync.RWMutex

	workerCount int
	queueSize   int
	dedupeSize  int
	dedupeTTL   time.Duration
	cacheTTL    time.Duration

	catalog map[string]model.KPIDefinition
	engine  config.Engine
	scorer  *confidence.Scorer
	clock   clockwork.Clock

	store    Store
	calStore repository.CalibrationStore

	rt      *runtimeDeps
	started bool

	logger logger.Logger
}

// New constructs a Service with the default engine and catalog.
func New(opts ...Option) *Service {
	defaults := config.New(context.Background())
	s := &Service{
		workerCount: runtime.NumCPU() * 2,
		queueSize:   defaultQueueSize,
		dedupeSize:  defaultDedupeSize,
		dedupeTTL:   defaultDedupeTTL,
		cacheTTL:    defaultCacheTTL,
		catalog:     defaults.Catalog(),
		engine:      defaults.Engine,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scorer = confidence.NewScorer(confidence.WithConfig(s.engine.Confidence))
	return s
}

// Start builds the runtime components and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting forecast service...")

	rt := &runtimeDeps{store: s.store, calStore: s.calStore}
	if rt.store == nil || rt.calStore == nil {
		rt.owned = repository.NewMemoryStore(ctx)
		if rt.store == nil {
			rt.store = rt.owned
		}
		if rt.calStore == nil {
			rt.calStore = rt.owned
		}
		s.logger.Info(ctx, "using in-memory store")
	}

	rt.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
		dedupe.WithTTL(s.dedupeTTL),
	)
	rt.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithBufferSize(s.queueSize),
	)
	if s.cacheTTL > 0 {
		rt.cache = ttlcache.New[string, Forecast](
			ttlcache.WithTTL[string, Forecast](s.cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, Forecast](),
		)
		go rt.cache.Start()
	}

	// Workers outlive ctx so Stop can drain the queue.
	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel

	s.rt = rt
	rt.pool = worker.NewPool(s.workerCount, rt.queue, worker.ProcessorFunc(s.Process))
	rt.pool.Start(poolCtx)

	s.started = true
	s.logger.Info(ctx, "forecast service started",
		logger.Int("workers", rt.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("kpis", len(s.catalog)),
	)
	return nil
}

// Stop drains the queue and releases the runtime components.
func (s *Service) Stop() {
	s.mu.Lock()
	rt := s.rt
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping forecast service...")

	// Workers still resolve s.rt while draining, so it is cleared afterwards.
	if err := rt.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	rt.cancel()
	if rt.cache != nil {
		rt.cache.Stop()
	}
	rt.deduper.Close()
	if rt.owned != nil {
		_ = rt.owned.Close()
	}

	s.mu.Lock()
	if !s.started {
		s.rt = nil
	}
	s.mu.Unlock()
	s.logger.Info(ctx, "forecast service stopped")
}

// deps returns the live runtime components.
func (s *Service) deps() (*runtimeDeps, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rt == nil {
		return nil, ErrNotStarted
	}
	return s.rt, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// Catalog returns the KPI definitions sorted by id.
func (s *Service) Catalog(_ context.Context) []model.KPIDefinition {
	out := make([]model.KPIDefinition, 0, len(s.catalog))
	for _, k := range s.catalog {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	started, rt := s.started, s.rt
	s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"kpis":        len(s.catalog),
	}
	if !started || rt == nil {
		return stats
	}

	queueLen := rt.queue.Len(ctx)
	stats["queueLength"] = queueLen
	stats["dedupeEntries"] = rt.deduper.Size()
	if rt.cache != nil {
		stats["cachedForecasts"] = rt.cache.Len()
	}
	if st, ok := rt.store.(statser); ok {
		counts := st.Stats(ctx)
		stats["totalUsers"] = counts.Users
		stats["totalLogs"] = counts.Logs
		metrics.UpdateTotalUsers(counts.Users)
		metrics.UpdateTotalLogs(counts.Logs)
	}
	metrics.UpdateQueueSize(queueLen)
	return stats
}

func (s *Service) invalidate(rt *runtimeDeps, userID string) {
	rt.version(userID).Add(1)
	if rt.cache != nil {
		rt.cache.Delete(userID)
	}
}

func (rt *runtimeDeps) version(userID string) *atomic.Uint64 {
	if v, ok := rt.versions.Load(userID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := rt.versions.LoadOrStore(userID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}
