package simulate

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/prefstudy/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging sends logs to stdout and, when logFile is set, to that file
// as well. "auto" picks a timestamped name.
func SetupLogging(logFile string, verbose bool) error {
	var out io.Writer = os.Stdout
	if logFile != "" {
		if logFile == "auto" {
			logFile = "simulate_" + time.Now().Format("20060102_150405") + ".log"
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.InitWithOptions(logger.Options{Output: out}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Preference Study Simulator
==========================

Drives simulated participants through full sessions against a running
service, verifies every comparison table and prints the leaderboard.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string          Base URL of the service (default "http://localhost:9080")
  -participants int    Number of participants (default 50)
  -concurrency int     Sessions driven at once (default CPU cores * 2)
  -rate float          Requests per second, 0 for unlimited (default 200)
  -noise float         Spread of personal taste (default 0.15)
  -seed uint           Taste seed (default 1)
  -top int             Leaderboard entries to print (default 10)
  -timeout duration    HTTP request timeout (default 30s)
  -log string          Also log to this file ("auto" for a timestamped name)
  -verbose             Log every session
  -help                Show this help message
`)
}
