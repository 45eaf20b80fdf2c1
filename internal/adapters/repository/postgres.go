package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/okian/forecast/internal/domain/model"
	"github.com/okian/forecast/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresCalibrationStore persists calibration state and its audit trail in
// Postgres so multipliers survive restarts and are shared by replicas.
type PostgresCalibrationStore struct {
	db           *sql.DB
	logger       logger.Logger
	migrate      bool
	maxOpenConns int
}

var _ CalibrationStore = (*PostgresCalibrationStore)(nil)

// OpenPostgres connects to dsn, applies migrations and returns the store.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresCalibrationStore, error) {
	if dsn == "" {
		return nil, ErrNoDatabase
	}
	s := &PostgresCalibrationStore{migrate: true, maxOpenConns: 10}
	for _, opt := range opts {
		opt(s)
	}

	if s.migrate {
		if err := Migrate(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.db = db
	if s.logger != nil {
		s.logger.Info(ctx, "postgres calibration store ready", logger.Bool("migrated", s.migrate))
	}
	return s, nil
}

// Migrate applies the embedded schema migrations to dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresCalibrationStore) Close() error {
	return s.db.Close()
}

const selectStates = `
SELECT kpi_id, multiplier, sample_size, rolling_error_ratio, rolling_abs_pct_error, last_calibrated_at
FROM calibration_states WHERE user_id = $1`

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadStates(ctx context.Context, q rowQuerier, userID, suffix string) (map[string]model.CalibrationState, error) {
	rows, err := q.QueryContext(ctx, selectStates+suffix, userID)
	if err != nil {
		return nil, fmt.Errorf("query calibration states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.CalibrationState)
	for rows.Next() {
		var (
			st       = model.CalibrationState{UserID: userID}
			errRatio sql.NullFloat64
			ape      sql.NullFloat64
			at       sql.NullTime
		)
		if err := rows.Scan(&st.KPIID, &st.Multiplier, &st.SampleSize, &errRatio, &ape, &at); err != nil {
			return nil, fmt.Errorf("scan calibration state: %w", err)
		}
		if errRatio.Valid {
			st.RollingErrorRatio = &errRatio.Float64
		}
		if ape.Valid {
			st.RollingAbsPctError = &ape.Float64
		}
		if at.Valid {
			st.LastCalibratedAt = at.Time.UTC()
		}
		out[st.KPIID] = st
	}
	return out, rows.Err()
}

// UpdateCalibration implements CalibrationStore. The pass runs in one
// transaction holding an advisory lock on the user, so concurrent passes
// from any replica are serialized.
func (s *PostgresCalibrationStore) UpdateCalibration(ctx context.Context, userID string, fn CalibrationFunc) (err error) {
	defer observeUpdate(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	current, err := loadStates(ctx, tx, userID, " FOR UPDATE")
	if err != nil {
		return err
	}
	upd, err := fn(current)
	if err != nil {
		return err
	}

	if upd.Replace {
		if _, err = tx.ExecContext(ctx, `DELETE FROM calibration_states WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear calibration states: %w", err)
		}
	}
	for _, st := range upd.States {
		var at sql.NullTime
		if !st.LastCalibratedAt.IsZero() {
			at = sql.NullTime{Time: st.LastCalibratedAt, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO calibration_states
  (user_id, kpi_id, multiplier, sample_size, rolling_error_ratio, rolling_abs_pct_error, last_calibrated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, kpi_id) DO UPDATE SET
  multiplier = EXCLUDED.multiplier,
  sample_size = EXCLUDED.sample_size,
  rolling_error_ratio = EXCLUDED.rolling_error_ratio,
  rolling_abs_pct_error = EXCLUDED.rolling_abs_pct_error,
  last_calibrated_at = EXCLUDED.last_calibrated_at`,
			userID, st.KPIID, st.Multiplier, st.SampleSize,
			nullFloat(st.RollingErrorRatio), nullFloat(st.RollingAbsPctError), at)
		if err != nil {
			return fmt.Errorf("upsert calibration state %s: %w", st.KPIID, err)
		}
	}

	if ev := upd.Event; ev != nil {
		attr, mErr := json.Marshal(ev.Attribution)
		if mErr != nil {
			err = fmt.Errorf("encode attribution: %w", mErr)
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO calibration_events (id, user_id, log_id, at, realized_amount, predicted_total, error_ratio, attribution)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			ev.ID, userID, ev.LogID, ev.At, ev.RealizedAmount, ev.PredictedTotal, ev.ErrorRatio, attr)
		if err != nil {
			return fmt.Errorf("insert calibration event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CalibrationStates implements CalibrationStore.
func (s *PostgresCalibrationStore) CalibrationStates(ctx context.Context, userID string) (map[string]model.CalibrationState, error) {
	defer observeQuery(time.Now())
	return loadStates(ctx, s.db, userID, "")
}

// CalibrationEvents implements CalibrationStore.
func (s *PostgresCalibrationStore) CalibrationEvents(ctx context.Context, userID string, limit int) ([]model.CalibrationEvent, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	defer observeQuery(time.Now())

	rows, err := s.db.QueryContext(ctx, `
SELECT id, log_id, at, realized_amount, predicted_total, error_ratio, attribution
FROM calibration_events WHERE user_id = $1 ORDER BY at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query calibration events: %w", err)
	}
	defer rows.Close()

	var out []model.CalibrationEvent
	for rows.Next() {
		ev := model.CalibrationEvent{UserID: userID}
		var attr []byte
		if err := rows.Scan(&ev.ID, &ev.LogID, &ev.At, &ev.RealizedAmount, &ev.PredictedTotal, &ev.ErrorRatio, &attr); err != nil {
			return nil, fmt.Errorf("scan calibration event: %w", err)
		}
		if err := json.Unmarshal(attr, &ev.Attribution); err != nil {
			return nil, fmt.Errorf("decode attribution: %w", err)
		}
		ev.At = ev.At.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
