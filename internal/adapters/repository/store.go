// Package repository defines the storage interfaces of the forecast service
// and their in-memory and Postgres implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/forecast/internal/domain/model"
)

// LogStore keeps activity logs per user, ordered by timestamp.
type LogStore interface {
	// AppendLog stores a log. Returns ErrDuplicate if the id is already stored.
	AppendLog(ctx context.Context, log model.ActivityLog) error

	// DeleteLog removes a log and returns it. Returns ErrNotFound if unknown.
	DeleteLog(ctx context.Context, userID, logID string) (model.ActivityLog, error)

	// LogsBetween returns the user's logs with from <= timestamp <= to,
	// ordered by timestamp then id.
	LogsBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ActivityLog, error)

	// LatestLog returns the user's most recent log of the KPI.
	// Returns ErrNotFound if there is none.
	LatestLog(ctx context.Context, userID, kpiID string) (model.ActivityLog, error)

	// LastActivity returns the timestamp of the user's most recent log, or
	// the zero time when the user has none.
	LastActivity(ctx context.Context, userID string) (time.Time, error)
}

// AnchorStore keeps the latest pipeline anchor value per (user, KPI).
type AnchorStore interface {
	UpsertAnchor(ctx context.Context, anchor model.PipelineAnchor) error
	DeleteAnchor(ctx context.Context, userID, kpiID string) error
	Anchors(ctx context.Context, userID string) ([]model.PipelineAnchor, error)
}

// ProfileStore keeps onboarding answers.
type ProfileStore interface {
	SaveProfile(ctx context.Context, profile model.Profile) error
	// Profile returns ErrNotFound for users that never onboarded.
	Profile(ctx context.Context, userID string) (model.Profile, error)
}

// SnapshotStore keeps point-in-time confidence results.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot model.ConfidenceSnapshot) error
	// Snapshots returns up to limit snapshots, newest first.
	Snapshots(ctx context.Context, userID string, limit int) ([]model.ConfidenceSnapshot, error)
}

// CalibrationUpdate is what one atomic calibration pass writes back.
type CalibrationUpdate struct {
	// States are upserted by KPI id.
	States []model.CalibrationState
	// Replace removes every state of the user not present in States.
	Replace bool
	// Event is appended to the audit trail when set.
	Event *model.CalibrationEvent
}

// CalibrationFunc computes the update from the user's current states.
// Returning an error aborts the pass without writing anything.
type CalibrationFunc func(current map[string]model.CalibrationState) (CalibrationUpdate, error)

// CalibrationStore keeps per (user, KPI) calibration state.
type CalibrationStore interface {
	// UpdateCalibration runs fn on the user's current states and persists its
	// result as one unit. Calls for the same user are serialized.
	UpdateCalibration(ctx context.Context, userID string, fn CalibrationFunc) error

	// CalibrationStates returns the user's states keyed by KPI id.
	CalibrationStates(ctx context.Context, userID string) (map[string]model.CalibrationState, error)

	// CalibrationEvents returns up to limit audit events, newest first.
	CalibrationEvents(ctx context.Context, userID string, limit int) ([]model.CalibrationEvent, error)
}

// Stats summarises what a store holds.
type Stats struct {
	Users int `json:"users"`
	Logs  int `json:"logs"`
}
