package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/pkg/metrics"
)

// MemoryStore is an in-process Store. Every write holds one mutex, which
// makes UpdateEloParallel atomic with respect to all other calls. Ranking
// reads walk a treap instead of sorting.
type MemoryStore struct {
	mu       sync.RWMutex
	root     *node
	byID     map[string]*model.Item
	order    []string // insertion order for ListItems
	votes    []model.Vote
	rankings []model.RankingRow
	closed   bool
}

// NewMemoryStore returns a store holding items. Items without a rating
// start at the baseline.
func NewMemoryStore(items ...model.Item) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]*model.Item, len(items))}
	_, _ = s.EnsureItems(context.Background(), items)
	return s
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
}

func (s *MemoryStore) ListItems(ctx context.Context) ([]model.Item, error) {
	defer observe("list_items", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Item, len(s.order))
	for i, id := range s.order {
		out[i] = *s.byID[id]
	}
	return out, nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	defer observe("get_item", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return model.Item{}, err
	}
	it, ok := s.byID[id]
	if !ok {
		return model.Item{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return *it, nil
}

func (s *MemoryStore) RankedItems(ctx context.Context) ([]model.Item, error) {
	defer observe("ranked_items", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Item, 0, len(s.byID))
	walk(s.root, func(id string) bool {
		out = append(out, *s.byID[id])
		return true
	})
	return out, nil
}

func (s *MemoryStore) Rank(ctx context.Context, id string) (int, model.Item, error) {
	defer observe("rank", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, model.Item{}, err
	}
	it, ok := s.byID[id]
	if !ok {
		return 0, model.Item{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return rankOf(s.root, id, it.Rating), *it, nil
}

func (s *MemoryStore) UpdateItem(ctx context.Context, id string, upd ItemUpdate) error {
	defer observe("update_item", time.Now())
	if upd.Rating == nil && upd.VotesCount == nil {
		return ErrInvalidUpdate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	it, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	if upd.Rating != nil {
		s.setRatingLocked(it, *upd.Rating)
	}
	if upd.VotesCount != nil {
		it.VotesCount = *upd.VotesCount
	}
	return nil
}

func (s *MemoryStore) UpdateEloParallel(ctx context.Context, winnerID string, loserIDs []string, k float64) error {
	defer observe("update_elo_parallel", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	winner, ok := s.byID[winnerID]
	if !ok {
		return fmt.Errorf("winner %q: %w", winnerID, ErrNotFound)
	}
	losers := make([]*model.Item, len(loserIDs))
	ratings := make([]float64, len(loserIDs))
	for i, id := range loserIDs {
		it, ok := s.byID[id]
		if !ok {
			return fmt.Errorf("loser %q: %w", id, ErrNotFound)
		}
		losers[i] = it
		ratings[i] = it.Rating
	}

	newWinner, newLosers := elo.Update(winner.Rating, ratings, k)
	for i, it := range losers {
		s.setRatingLocked(it, newLosers[i])
	}
	s.setRatingLocked(winner, newWinner)
	winner.VotesCount++
	return nil
}

func (s *MemoryStore) InsertVote(ctx context.Context, v model.Vote) error {
	defer observe("insert_vote", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.votes = append(s.votes, v)
	return nil
}

func (s *MemoryStore) InsertRanking(ctx context.Context, row model.RankingRow) error {
	defer observe("insert_ranking", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	cp := row
	cp.Ranks = append([]*int(nil), row.Ranks...)
	s.rankings = append(s.rankings, cp)
	return nil
}

func (s *MemoryStore) EnsureItems(ctx context.Context, items []model.Item) (int, error) {
	defer observe("ensure_items", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	added := 0
	for _, it := range items {
		if _, ok := s.byID[it.ID]; ok {
			continue
		}
		cp := it
		if cp.Rating == 0 {
			cp.Rating = elo.BaselineRating
		}
		s.byID[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
		s.root = insert(s.root, cp.ID, cp.Rating)
		added++
	}
	return added, nil
}

// Votes returns a copy of the vote log.
func (s *MemoryStore) Votes() []model.Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Vote(nil), s.votes...)
}

// Rankings returns a copy of the stored ranking rows.
func (s *MemoryStore) Rankings() []model.RankingRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RankingRow(nil), s.rankings...)
}

// Close marks the store closed; later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) setRatingLocked(it *model.Item, rating float64) {
	s.root = remove(s.root, it.ID, it.Rating)
	it.Rating = rating
	s.root = insert(s.root, it.ID, rating)
}
