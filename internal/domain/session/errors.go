package session

import "errors"

var (
	ErrInvalidParticipant = errors.New("participant name is required")
	ErrInvalidConfig      = errors.New("invalid session configuration")
	ErrStaleRound         = errors.New("round is not the current round")
	ErrNotInBatch         = errors.New("winner is not in the current batch")
	ErrFinished           = errors.New("session already finished")
	ErrNotFinished        = errors.New("session not finished")
)
