package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrUnknownKPI     = errors.New("unknown kpi")
	ErrInvalidLog     = errors.New("invalid activity log")
	ErrInvalidProfile = errors.New("invalid profile")
	ErrNotOnboarded   = errors.New("user not onboarded")
	ErrNotFound       = errors.New("not found")
	ErrBackpressure   = errors.New("backpressure")
	ErrInvalidLimit   = errors.New("invalid limit")
)
