package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotStarted      = errors.New("service not started")
	ErrInvalidSyncMode = errors.New("invalid sync mode")
)
