package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate log id")
	ErrInvalidLimit = errors.New("invalid limit")
	ErrNoDatabase   = errors.New("database url is empty")
)
