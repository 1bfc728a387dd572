package service

import (
	"context"
	"fmt"

	"github.com/okian/prefstudy/internal/adapters/repository"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/pkg/metrics"
)

// recorder writes one decision to the shared population: the atomic rating
// update first, then the vote log row. A failed rating update skips the log
// row so the log never claims a vote the population did not see.
type recorder struct {
	store repository.Store
	k     float64
}

func (r *recorder) Apply(ctx context.Context, d model.Decision) error {
	if err := r.store.UpdateEloParallel(ctx, d.WinnerID, d.LoserIDs, r.k); err != nil {
		metrics.RecordDurableWriteFailure("update_elo_parallel")
		return fmt.Errorf("rating update: %w", err)
	}
	metrics.RecordDurableWrite("update_elo_parallel")

	if err := r.store.InsertVote(ctx, model.VoteFromDecision(d)); err != nil {
		metrics.RecordDurableWriteFailure("insert_vote")
		return fmt.Errorf("vote log: %w", err)
	}
	metrics.RecordDurableWrite("insert_vote")
	return nil
}
