package simulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/prefstudy/internal/domain/types"
	"github.com/okian/prefstudy/pkg/logger"
)

// Report is the outcome of a run.
type Report struct {
	Stats       Stats
	Leaderboard []types.Entry
	Failures    []error
}

// Run drives cfg.Participants sessions to completion, verifies every
// comparison table and fetches the leaderboard. Individual session failures
// are collected in the report; a run with any failure returns an error.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("simulate")
	client := NewClient(cfg.BaseURL, cfg.Timeout, cfg.Rate)
	report := &Report{Stats: Stats{StartTime: time.Now()}}

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("participants", cfg.Participants),
		logger.Int("concurrency", cfg.Concurrency),
		logger.Float64("rate", cfg.Rate),
		logger.Float64("noise", cfg.Noise))

	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i := range cfg.Participants {
		p := newParticipant(fmt.Sprintf("participant-%04d", i+1), cfg.Seed, cfg.Noise)
		g.Go(func() error {
			res, err := drive(gctx, client, p)

			mu.Lock()
			defer mu.Unlock()
			report.Stats.SessionsStarted += res.started
			report.Stats.Votes += res.votes
			report.Stats.Duplicates += res.duplicates
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				report.Stats.SessionsFailed++
				report.Failures = append(report.Failures, fmt.Errorf("%s: %w", p.name, err))
				log.Warn(gctx, "session failed", logger.String("participant", p.name), logger.Error(err))
				return nil
			}
			report.Stats.SessionsFinished++
			report.Stats.TablesVerified++
			if cfg.Verbose {
				log.Info(gctx, "session verified",
					logger.String("participant", p.name),
					logger.Int("votes", res.votes))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	top := cfg.LeaderboardTop
	if top < 1 {
		top = 10
	}
	entries, err := client.Leaderboard(ctx, top)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Errorf("leaderboard: %w", err))
	} else {
		report.Leaderboard = entries
		report.Stats.Leaderboard = len(entries)
		for i := 1; i < len(entries); i++ {
			if entries[i].Rating > entries[i-1].Rating {
				report.Failures = append(report.Failures,
					fmt.Errorf("%w: leaderboard not sorted at %d", ErrVerification, i))
				break
			}
		}
	}

	report.Stats.EndTime = time.Now()
	report.Stats.Duration = report.Stats.EndTime.Sub(report.Stats.StartTime)
	displayFinalStats(ctx, log, report)

	if len(report.Failures) > 0 {
		return report, errors.Join(report.Failures...)
	}
	return report, nil
}

type sessionResult struct {
	started    int
	votes      int
	duplicates int
}

// drive plays one participant's whole session and verifies its table.
func drive(ctx context.Context, c *Client, p *participant) (sessionResult, error) {
	var res sessionResult
	view, err := c.StartSession(ctx, p.name)
	if err != nil {
		return res, fmt.Errorf("start: %w", err)
	}
	res.started = 1

	for !view.Finished {
		if len(view.Batch) == 0 {
			return res, fmt.Errorf("round %d: empty batch", view.Round)
		}
		vote, err := c.Vote(ctx, view.ID, view.Round, p.pick(view.Batch))
		if err != nil {
			return res, fmt.Errorf("round %d: %w", view.Round, err)
		}
		res.votes++
		if vote.Duplicate {
			res.duplicates++
		}
		view = vote.Session
	}

	rows, err := c.Comparison(ctx, view.ID)
	if err != nil {
		return res, fmt.Errorf("comparison: %w", err)
	}
	if err := verifyComparison(rows); err != nil {
		return res, err
	}
	if len(rows) != len(view.Comparison) {
		return res, fmt.Errorf("%w: comparison endpoint has %d rows, final view %d",
			ErrVerification, len(rows), len(view.Comparison))
	}
	return res, c.Reset(ctx, view.ID)
}

// displayFinalStats logs the final run statistics and the leaderboard.
func displayFinalStats(ctx context.Context, log logger.Logger, r *Report) {
	var votesPerSecond float64
	if r.Stats.Duration > 0 {
		votesPerSecond = float64(r.Stats.Votes) / r.Stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("sessionsStarted", r.Stats.SessionsStarted),
		logger.Int("sessionsFinished", r.Stats.SessionsFinished),
		logger.Int("sessionsFailed", r.Stats.SessionsFailed),
		logger.Int("votes", r.Stats.Votes),
		logger.Int("duplicates", r.Stats.Duplicates),
		logger.Int("tablesVerified", r.Stats.TablesVerified),
		logger.Duration("duration", r.Stats.Duration),
		logger.Float64("votesPerSecond", votesPerSecond))
	for _, e := range r.Leaderboard {
		log.Info(ctx, "leaderboard",
			logger.Int("rank", e.Rank),
			logger.String("item", e.Filename),
			logger.Float64("elo", e.Rating),
			logger.Int("votes", e.VotesCount))
	}
}
