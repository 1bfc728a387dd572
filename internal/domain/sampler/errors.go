package sampler

import "errors"

var (
	// ErrInsufficientPool is returned when fewer items exist than a batch needs.
	ErrInsufficientPool = errors.New("insufficient item pool")
	// ErrInvalidSize is returned for a negative sample size.
	ErrInvalidSize = errors.New("invalid sample size")
)
