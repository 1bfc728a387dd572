// Package repository holds the durable rating store: the shared item
// population, the vote log and the per-session ranking rows.
package repository

import (
	"context"

	"github.com/okian/prefstudy/internal/domain/model"
)

// ItemUpdate carries the fields to change on one item. Nil fields are left
// as they are.
type ItemUpdate struct {
	Rating     *float64
	VotesCount *int
}

// Store provides read/write access to the durable population.
type Store interface {
	// ListItems returns every item in stable catalog order.
	ListItems(ctx context.Context) ([]model.Item, error)

	// GetItem returns one item or ErrNotFound.
	GetItem(ctx context.Context, id string) (model.Item, error)

	// RankedItems returns every item ordered by rating desc, then id asc.
	RankedItems(ctx context.Context) ([]model.Item, error)

	// Rank returns the 1-based global position of one item, or ErrNotFound.
	Rank(ctx context.Context, id string) (int, model.Item, error)

	// UpdateItem overwrites the rating and/or vote count of one item.
	UpdateItem(ctx context.Context, id string, upd ItemUpdate) error

	// UpdateEloParallel applies one decision to the shared population as a
	// single atomic step: the sequential multi-loser update over the current
	// stored ratings, plus one vote for the winner. Concurrent calls never
	// lose updates.
	UpdateEloParallel(ctx context.Context, winnerID string, loserIDs []string, k float64) error

	// InsertVote appends one row to the vote log.
	InsertVote(ctx context.Context, v model.Vote) error

	// InsertRanking appends one fixed-slot ranking row.
	InsertRanking(ctx context.Context, row model.RankingRow) error

	// EnsureItems inserts catalog items that do not exist yet and returns
	// how many were added. Existing items keep their ratings.
	EnsureItems(ctx context.Context, items []model.Item) (int, error)

	Close() error
}
