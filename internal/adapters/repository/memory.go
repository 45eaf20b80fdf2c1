package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/metrics"
)

const (
	defaultMetricsUpdateInterval = 5 * time.Second
	defaultSnapshotRetention     = 500
)

type userData struct {
	index       *node
	logs        map[string]model.ActivityLog
	anchors     map[string]model.PipelineAnchor
	profile     *model.Profile
	snapshots   []model.ConfidenceSnapshot // oldest first
	calibration map[string]model.CalibrationState
	events      []model.CalibrationEvent // oldest first
}

func newUserData() *userData {
	return &userData{
		logs:        make(map[string]model.ActivityLog),
		anchors:     make(map[string]model.PipelineAnchor),
		calibration: make(map[string]model.CalibrationState),
	}
}

// MemoryStore implements every store interface in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*userData
	logCount int

	locksMu sync.Mutex
	locks   map[string]*userMutex

	metricsUpdateInterval time.Duration
	snapshotRetention     int

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

var (
	_ LogStore         = (*MemoryStore)(nil)
	_ AnchorStore      = (*MemoryStore)(nil)
	_ ProfileStore     = (*MemoryStore)(nil)
	_ SnapshotStore    = (*MemoryStore)(nil)
	_ CalibrationStore = (*MemoryStore)(nil)
)

// NewMemoryStore constructs an empty store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		users:                 make(map[string]*userData),
		locks:                 make(map[string]*userMutex),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		snapshotRetention:     defaultSnapshotRetention,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops background goroutines.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// user returns the user's data, creating it when create is set. Caller holds s.mu.
func (s *MemoryStore) user(userID string, create bool) *userData {
	u, ok := s.users[userID]
	if !ok && create {
		u = newUserData()
		s.users[userID] = u
	}
	return u
}

func observeUpdate(start time.Time) {
	metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}

// AppendLog implements LogStore.
func (s *MemoryStore) AppendLog(_ context.Context, log model.ActivityLog) error {
	defer observeUpdate(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(log.UserID, true)
	if _, ok := u.logs[log.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, log.ID)
	}
	u.logs[log.ID] = log
	u.index = insert(u.index, keyOf(log.Timestamp, log.ID))
	s.logCount++
	return nil
}

// DeleteLog implements LogStore.
func (s *MemoryStore) DeleteLog(_ context.Context, userID, logID string) (model.ActivityLog, error) {
	defer observeUpdate(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID, false)
	if u == nil {
		return model.ActivityLog{}, ErrNotFound
	}
	log, ok := u.logs[logID]
	if !ok {
		return model.ActivityLog{}, ErrNotFound
	}
	delete(u.logs, logID)
	u.index = deleteNode(u.index, keyOf(log.Timestamp, log.ID))
	s.logCount--
	return log, nil
}

// LogsBetween implements LogStore.
func (s *MemoryStore) LogsBetween(_ context.Context, userID string, from, to time.Time) ([]model.ActivityLog, error) {
	defer observeQuery(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil {
		return nil, nil
	}
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	if !to.IsZero() {
		hi = to.UnixNano()
	}
	ids := make([]string, 0, nsize(u.index))
	collectRange(u.index, lo, hi, &ids)

	out := make([]model.ActivityLog, 0, len(ids))
	for _, id := range ids {
		out = append(out, u.logs[id])
	}
	return out, nil
}

// LatestLog implements LogStore.
func (s *MemoryStore) LatestLog(_ context.Context, userID, kpiID string) (model.ActivityLog, error) {
	defer observeQuery(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil {
		return model.ActivityLog{}, ErrNotFound
	}
	var (
		best  model.ActivityLog
		found bool
	)
	descend(u.index, func(k logKey) bool {
		if l := u.logs[k.id]; l.KPIID == kpiID {
			best, found = l, true
			return false
		}
		return true
	})
	if !found {
		return model.ActivityLog{}, ErrNotFound
	}
	return best, nil
}

// LastActivity implements LogStore.
func (s *MemoryStore) LastActivity(_ context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil {
		return time.Time{}, nil
	}
	k, ok := last(u.index)
	if !ok {
		return time.Time{}, nil
	}
	return u.logs[k.id].Timestamp, nil
}

// UpsertAnchor implements AnchorStore.
func (s *MemoryStore) UpsertAnchor(_ context.Context, anchor model.PipelineAnchor) error {
	defer observeUpdate(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(anchor.UserID, true).anchors[anchor.KPIID] = anchor
	return nil
}

// DeleteAnchor implements AnchorStore.
func (s *MemoryStore) DeleteAnchor(_ context.Context, userID, kpiID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.user(userID, false); u != nil {
		delete(u.anchors, kpiID)
	}
	return nil
}

// Anchors implements AnchorStore. Results are ordered by KPI id.
func (s *MemoryStore) Anchors(_ context.Context, userID string) ([]model.PipelineAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil {
		return nil, nil
	}
	out := make([]model.PipelineAnchor, 0, len(u.anchors))
	for _, a := range u.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KPIID < out[j].KPIID })
	return out, nil
}

// SaveProfile implements ProfileStore.
func (s *MemoryStore) SaveProfile(_ context.Context, profile model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := profile
	p.SelectedKPIs = append([]string(nil), profile.SelectedKPIs...)
	p.WeeklyAverages = make(map[string]float64, len(profile.WeeklyAverages))
	for k, v := range profile.WeeklyAverages {
		p.WeeklyAverages[k] = v
	}
	s.user(profile.UserID, true).profile = &p
	return nil
}

// Profile implements ProfileStore.
func (s *MemoryStore) Profile(_ context.Context, userID string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user(userID, false)
	if u == nil || u.profile == nil {
		return model.Profile{}, ErrNotFound
	}
	return *u.profile, nil
}

// SaveSnapshot implements SnapshotStore. Only the newest snapshots are retained.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot model.ConfidenceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(snapshot.UserID, true)
	u.snapshots = append(u.snapshots, snapshot)
	if over := len(u.snapshots) - s.snapshotRetention; over > 0 {
		u.snapshots = append([]model.ConfidenceSnapshot(nil), u.snapshots[over:]...)
	}
	return nil
}

// Snapshots implements SnapshotStore.
func (s *MemoryStore) Snapshots(_ context.Context, userID string, limit int) ([]model.ConfidenceSnapshot, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user(userID, false)
	if u == nil {
		return nil, nil
	}
	n := min(limit, len(u.snapshots))
	out := make([]model.ConfidenceSnapshot, 0, n)
	for i := len(u.snapshots) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, u.snapshots[i])
	}
	return out, nil
}

// userMutex serializes calibration passes of one user. refs counts holders
// and waiters; the entry is dropped when it reaches zero.
type userMutex struct {
	sync.Mutex
	refs int
}

func (s *MemoryStore) lockUser(userID string) {
	s.locksMu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userMutex{}
		s.locks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.Lock()
}

func (s *MemoryStore) unlockUser(userID string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l := s.locks[userID]
	l.Unlock()
	if l.refs--; l.refs == 0 {
		delete(s.locks, userID)
	}
}

// UpdateCalibration implements CalibrationStore.
func (s *MemoryStore) UpdateCalibration(ctx context.Context, userID string, fn CalibrationFunc) error {
	s.lockUser(userID)
	defer s.unlockUser(userID)

	current, err := s.CalibrationStates(ctx, userID)
	if err != nil {
		return err
	}
	upd, err := fn(current)
	if err != nil {
		return err
	}

	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID, true)
	if upd.Replace {
		u.calibration = make(map[string]model.CalibrationState, len(upd.States))
	}
	for _, st := range upd.States {
		u.calibration[st.KPIID] = st
	}
	if upd.Event != nil {
		u.events = append(u.events, *upd.Event)
	}
	return nil
}

// CalibrationStates implements CalibrationStore.
func (s *MemoryStore) CalibrationStates(_ context.Context, userID string) (map[string]model.CalibrationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.CalibrationState)
	if u := s.user(userID, false); u != nil {
		for k, v := range u.calibration {
			out[k] = v
		}
	}
	return out, nil
}

// CalibrationEvents implements CalibrationStore.
func (s *MemoryStore) CalibrationEvents(_ context.Context, userID string, limit int) ([]model.CalibrationEvent, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user(userID, false)
	if u == nil {
		return nil, nil
	}
	out := make([]model.CalibrationEvent, 0, min(limit, len(u.events)))
	for i := len(u.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, u.events[i])
	}
	return out, nil
}

// Stats returns user and log counts.
func (s *MemoryStore) Stats(_ context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Users: len(s.users), Logs: s.logCount}
}

// startMetricsUpdater periodically publishes store sizes.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				st := s.Stats(ctx)
				metrics.UpdateTotalUsers(st.Users)
				metrics.UpdateTotalLogs(st.Logs)
			}
		}
	}()
}
