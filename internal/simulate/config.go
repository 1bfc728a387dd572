// Package simulate drives simulated participants through full study
// sessions over the HTTP API and checks what comes back.
package simulate

import (
	"errors"
	"time"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Participants   int           // Number of simulated participants
	Concurrency    int           // Sessions driven at once
	Rate           float64       // Requests per second across all participants; 0 means unlimited
	Noise          float64       // Spread of personal taste around the shared one
	Seed           uint64        // Seed for participant tastes
	Timeout        time.Duration // HTTP request timeout
	LeaderboardTop int           // Leaderboard entries to print
	Verbose        bool          // Log every session
}

// Error kinds reported by a run.
var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	ErrUnhealthy     = errors.New("service unhealthy")
	ErrVerification  = errors.New("comparison verification failed")
)

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case c.Participants < 1:
		return errors.Join(ErrInvalidConfig, errors.New("participants must be positive"))
	case c.Concurrency < 1:
		return errors.Join(ErrInvalidConfig, errors.New("concurrency must be positive"))
	case c.Rate < 0 || c.Noise < 0:
		return errors.Join(ErrInvalidConfig, errors.New("rate and noise must not be negative"))
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	SessionsStarted  int
	SessionsFinished int
	SessionsFailed   int
	Votes            int
	Duplicates       int
	TablesVerified   int
	Leaderboard      int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
