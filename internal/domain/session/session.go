// Package session holds one participant's in-memory study state: the
// personal ledger, the current batch, the round counter and, in deferred
// mode, the decisions waiting to be written to the shared store.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/ledger"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/internal/domain/sampler"
)

// DefaultRoundLimit is the number of decisions in a session.
const DefaultRoundLimit = 30

// Session is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id          string
	participant string
	createdAt   time.Time

	batchSize  int
	roundLimit int
	k          float64
	sampler    *sampler.Sampler
	now        func() time.Time

	ledger    *ledger.Ledger
	ids       []string
	batch     []model.Item
	completed int
	finished  bool

	pending []model.Decision
	writes  sync.WaitGroup

	finalizing bool
	comparison []model.ComparisonRow
	ready      chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithBatchSize sets how many items are shown per round.
func WithBatchSize(n int) Option {
	return func(s *Session) { s.batchSize = n }
}

// WithRoundLimit sets how many decisions end the session.
func WithRoundLimit(n int) Option {
	return func(s *Session) { s.roundLimit = n }
}

// WithKFactor sets the K used for the personal ledger.
func WithKFactor(k float64) Option {
	return func(s *Session) { s.k = k }
}

// WithSampler sets the batch sampler.
func WithSampler(sm *sampler.Sampler) Option {
	return func(s *Session) {
		if sm != nil {
			s.sampler = sm
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New starts a session over items. The ledger is seeded at the baseline
// rating regardless of the ratings carried by items.
func New(id, participant string, items []model.Item, opts ...Option) (*Session, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return nil, ErrInvalidParticipant
	}

	s := &Session{
		id:          id,
		participant: participant,
		batchSize:   elo.DefaultBatchSize,
		roundLimit:  DefaultRoundLimit,
		k:           elo.DefaultKFactor,
		now:         time.Now,
		ledger:      ledger.New(),
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.batchSize < 2 || s.roundLimit < 1 || s.k <= 0 {
		return nil, fmt.Errorf("batch=%d rounds=%d k=%v: %w", s.batchSize, s.roundLimit, s.k, ErrInvalidConfig)
	}
	if s.sampler == nil {
		s.sampler = sampler.New()
	}
	if len(items) < s.batchSize {
		return nil, fmt.Errorf("need %d items, catalog has %d: %w", s.batchSize, len(items), sampler.ErrInsufficientPool)
	}

	s.createdAt = s.now()
	s.ledger.Seed(items)
	s.ids = s.ledger.IDs()
	return s, nil
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Participant() string { return s.participant }
func (s *Session) RoundLimit() int     { return s.roundLimit }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Progress returns the number of completed rounds and whether the session
// has finished.
func (s *Session) Progress() (completed int, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.finished
}

// Batch returns the current batch, drawing a new one if none is pending.
// A finished session has no batch.
func (s *Session) Batch() ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil, nil
	}
	if err := s.ensureBatchLocked(); err != nil {
		return nil, err
	}
	out := make([]model.Item, len(s.batch))
	copy(out, s.batch)
	return out, nil
}

func (s *Session) ensureBatchLocked() error {
	if len(s.batch) > 0 {
		return nil
	}
	drawn, err := s.sampler.Draw(s.ids, s.batchSize)
	if err != nil {
		return err
	}
	batch := make([]model.Item, len(drawn))
	for i, id := range drawn {
		it, ok := s.ledger.Get(id)
		if !ok {
			return fmt.Errorf("drawn %q: %w", id, ledger.ErrItemNotFound)
		}
		batch[i] = it
	}
	s.batch = batch
	return nil
}

// Choose records that winnerID beat the rest of the current batch in the
// given 1-based round. The personal ledger is updated before it returns.
func (s *Session) Choose(round int, winnerID string) (model.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return model.Decision{}, ErrFinished
	}
	if round != s.completed+1 {
		return model.Decision{}, fmt.Errorf("got round %d, current is %d: %w", round, s.completed+1, ErrStaleRound)
	}
	if err := s.ensureBatchLocked(); err != nil {
		return model.Decision{}, err
	}

	found := false
	losers := make([]string, 0, len(s.batch)-1)
	names := make([]string, 0, len(s.batch)-1)
	for _, it := range s.batch {
		if it.ID == winnerID {
			found = true
			continue
		}
		losers = append(losers, it.ID)
		names = append(names, it.Filename)
	}
	if !found {
		return model.Decision{}, fmt.Errorf("winner %q: %w", winnerID, ErrNotInBatch)
	}

	if err := s.ledger.Apply(winnerID, losers, s.k); err != nil {
		return model.Decision{}, err
	}

	s.completed++
	s.batch = nil
	if s.completed == s.roundLimit {
		s.finished = true
	}

	return model.Decision{
		SessionID:      s.id,
		Participant:    s.participant,
		Sequence:       round,
		WinnerID:       winnerID,
		LoserIDs:       losers,
		LoserFilenames: names,
		CreatedAt:      s.now(),
	}, nil
}

// Defer queues a decision for the shared store until the session ends.
func (s *Session) Defer(d model.Decision) {
	s.mu.Lock()
	s.pending = append(s.pending, d)
	s.mu.Unlock()
}

// DrainPending hands back the deferred decisions in event order and empties
// the queue.
func (s *Session) DrainPending() []model.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// PendingLen returns the number of deferred decisions.
func (s *Session) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// BeginWrite registers an in-flight shared-store write; call the returned
// func when it completes.
func (s *Session) BeginWrite() func() {
	s.writes.Add(1)
	return s.writes.Done
}

// WaitWrites blocks until every in-flight write has completed or ctx ends.
func (s *Session) WaitWrites(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SnapshotSortedDesc returns the personal standings, best first.
func (s *Session) SnapshotSortedDesc() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.SnapshotSortedDesc()
}

// Filenames returns the catalog filenames in seed order.
func (s *Session) Filenames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Filenames()
}

// BeginFinalize reports true exactly once, for the first caller after the
// session finished. That caller must eventually call SetComparison.
func (s *Session) BeginFinalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished || s.finalizing {
		return false
	}
	s.finalizing = true
	return true
}

// SetComparison stores the reconciliation result and releases waiters.
func (s *Session) SetComparison(rows []model.ComparisonRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
		return
	default:
	}
	s.comparison = rows
	close(s.ready)
}

// Comparison returns the stored comparison table, or ErrNotFinished while
// the session is still running. A finished session whose table is still
// being built is waited for.
func (s *Session) Comparison(ctx context.Context) ([]model.ComparisonRow, error) {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if !finished {
		return nil, ErrNotFinished
	}
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ComparisonRow, len(s.comparison))
	copy(out, s.comparison)
	return out, nil
}
