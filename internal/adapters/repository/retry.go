package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/pkg/logger"
	"github.com/okian/prefstudy/pkg/metrics"
)

const (
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 50 * time.Millisecond
	DefaultMaxDelay      = 2 * time.Second
	DefaultJitterPercent = 0.1
)

// RetryConfig bounds retries around store calls. MaxAttempts counts retries
// after the first try.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent float64
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterPercent: DefaultJitterPercent,
	}
}

var _ Store = (*RetryingStore)(nil)

// RetryingStore wraps a Store with exponential backoff. A call that still
// fails after the last attempt is reported wrapped in ErrStoreUnavailable.
type RetryingStore struct {
	store  Store
	config RetryConfig
	log    logger.Logger
}

// NewRetryingStore wraps store.
func NewRetryingStore(store Store, config RetryConfig, log logger.Logger) *RetryingStore {
	if log == nil {
		log = logger.Get().Named("store")
	}
	return &RetryingStore{store: store, config: config, log: log}
}

// Unwrap returns the wrapped store.
func (r *RetryingStore) Unwrap() Store { return r.store }

func retryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidUpdate),
		errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (r *RetryingStore) delay(attempt int) time.Duration {
	d := r.config.BaseDelay * time.Duration(1<<attempt)
	if d > r.config.MaxDelay || d <= 0 {
		d = r.config.MaxDelay
	}
	jitter := int64(float64(d) * r.config.JitterPercent)
	if jitter > 0 {
		d += time.Duration(rand.Int64N(2*jitter) - jitter)
	}
	if d < r.config.BaseDelay {
		return r.config.BaseDelay
	}
	return d
}

func retry[T any](ctx context.Context, r *RetryingStore, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= r.config.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		metrics.RecordStoreRetry(op)
		r.log.Warn(ctx, "store call failed, retrying",
			logger.String("op", op),
			logger.Int("attempt", attempt+1),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: context cancelled during retry: %w", op, ctx.Err())
		case <-time.After(r.delay(attempt)):
		}
	}

	metrics.RecordErrorByComponent("store", op)
	r.log.Error(ctx, "store call failed after retries",
		logger.String("op", op),
		logger.Int("attempts", r.config.MaxAttempts+1),
		logger.Error(lastErr))
	return zero, fmt.Errorf("%s failed after %d attempts: %w: %w", op, r.config.MaxAttempts+1, ErrStoreUnavailable, lastErr)
}

func exec(ctx context.Context, r *RetryingStore, op string, fn func(context.Context) error) error {
	_, err := retry(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *RetryingStore) ListItems(ctx context.Context) ([]model.Item, error) {
	return retry(ctx, r, "list_items", r.store.ListItems)
}

func (r *RetryingStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	return retry(ctx, r, "get_item", func(ctx context.Context) (model.Item, error) {
		return r.store.GetItem(ctx, id)
	})
}

func (r *RetryingStore) RankedItems(ctx context.Context) ([]model.Item, error) {
	return retry(ctx, r, "ranked_items", r.store.RankedItems)
}

type rankResult struct {
	rank int
	item model.Item
}

func (r *RetryingStore) Rank(ctx context.Context, id string) (int, model.Item, error) {
	res, err := retry(ctx, r, "rank", func(ctx context.Context) (rankResult, error) {
		rank, it, err := r.store.Rank(ctx, id)
		return rankResult{rank: rank, item: it}, err
	})
	return res.rank, res.item, err
}

func (r *RetryingStore) UpdateItem(ctx context.Context, id string, upd ItemUpdate) error {
	return exec(ctx, r, "update_item", func(ctx context.Context) error {
		return r.store.UpdateItem(ctx, id, upd)
	})
}

func (r *RetryingStore) UpdateEloParallel(ctx context.Context, winnerID string, loserIDs []string, k float64) error {
	return exec(ctx, r, "update_elo_parallel", func(ctx context.Context) error {
		return r.store.UpdateEloParallel(ctx, winnerID, loserIDs, k)
	})
}

func (r *RetryingStore) InsertVote(ctx context.Context, v model.Vote) error {
	return exec(ctx, r, "insert_vote", func(ctx context.Context) error {
		return r.store.InsertVote(ctx, v)
	})
}

func (r *RetryingStore) InsertRanking(ctx context.Context, row model.RankingRow) error {
	return exec(ctx, r, "insert_ranking", func(ctx context.Context) error {
		return r.store.InsertRanking(ctx, row)
	})
}

func (r *RetryingStore) EnsureItems(ctx context.Context, items []model.Item) (int, error) {
	return retry(ctx, r, "ensure_items", func(ctx context.Context) (int, error) {
		return r.store.EnsureItems(ctx, items)
	})
}

func (r *RetryingStore) Close() error { return r.store.Close() }
