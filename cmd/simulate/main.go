package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/prefstudy/internal/simulate"
)

// Default configuration constants.
const (
	defaultParticipants = 50
	defaultConcurrency  = 2 // multiplier for runtime.NumCPU()
	defaultRate         = 200
	defaultNoise        = 0.15
	defaultTop          = 10
	defaultTimeout      = 30 * time.Second
	defaultRunTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		participants = flag.Int("participants", defaultParticipants, "Number of simulated participants")
		concurrency  = flag.Int("concurrency", runtime.NumCPU()*defaultConcurrency, "Sessions driven at once")
		rps          = flag.Float64("rate", defaultRate, "Requests per second, 0 for unlimited")
		noise        = flag.Float64("noise", defaultNoise, "Spread of personal taste")
		seed         = flag.Uint64("seed", 1, "Taste seed")
		top          = flag.Int("top", defaultTop, "Leaderboard entries to print")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile      = flag.String("log", "", `Also log to this file ("auto" for a timestamped name)`)
		verbose      = flag.Bool("verbose", false, "Log every session")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFile, *verbose); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	_, err := simulate.Run(ctx, &simulate.Config{
		BaseURL:        *baseURL,
		Participants:   *participants,
		Concurrency:    *concurrency,
		Rate:           *rps,
		Noise:          *noise,
		Seed:           *seed,
		Timeout:        *timeout,
		LeaderboardTop: *top,
		Verbose:        *verbose,
	})
	if err != nil {
		_, _ = os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
