// Package service runs the preference study: participant sessions with
// their personal ledgers, the durable write path to the shared population,
// and the end-of-session reconciliation.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/okian/prefstudy/internal/adapters/mq/queue"
	workerpool "github.com/okian/prefstudy/internal/adapters/mq/worker"
	"github.com/okian/prefstudy/internal/adapters/repository"
	"github.com/okian/prefstudy/internal/domain/dedupe"
	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/internal/domain/reconcile"
	"github.com/okian/prefstudy/internal/domain/sampler"
	"github.com/okian/prefstudy/internal/domain/session"
	"github.com/okian/prefstudy/internal/domain/types"
	"github.com/okian/prefstudy/pkg/logger"
	"github.com/okian/prefstudy/pkg/metrics"
)

// SyncMode selects when decisions reach the durable store.
type SyncMode string

const (
	// SyncImmediate writes each decision as it happens, in the background.
	SyncImmediate SyncMode = "immediate"
	// SyncDeferred holds decisions in the session and writes them when the
	// session finishes.
	SyncDeferred SyncMode = "deferred"
)

// ParseSyncMode validates a configured mode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SyncImmediate, SyncDeferred:
		return m, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidSyncMode)
}

const (
	catalogKey          = "items"
	defaultSessionTTL   = 2 * time.Hour
	defaultCatalogTTL   = time.Hour
	defaultDrainTimeout = 10 * time.Second
	defaultDedupeSize   = 100000
	defaultQueueSize    = 1024
)

// entry is a registered session plus the lock that keeps one session's
// votes, and their durable writes, strictly sequential.
type entry struct {
	vote sync.Mutex
	sess *session.Session
}

// Service implements the API dependencies for the study.
type Service struct {
	mu sync.RWMutex

	rawStore   repository.Store
	store      repository.Store
	deduper    dedupe.Deduper
	pool       *workerpool.Pool
	applier    *recorder
	reconciler *reconcile.Reconciler
	sessions   *cache.Cache
	catalog    *cache.Cache
	sampler    *sampler.Sampler
	newID      func() string

	batchSize    int
	roundLimit   int
	kFactor      float64
	syncMode     SyncMode
	workerCount  int
	queueSize    int
	dedupeSize   int
	sessionTTL   time.Duration
	catalogTTL   time.Duration
	drainTimeout time.Duration
	retry        repository.RetryConfig

	// outlives individual requests; durable writes and reconciliation run
	// under it so a client hanging up does not cut them short
	ctx    context.Context
	cancel context.CancelFunc

	started bool
	logger  logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		batchSize:    elo.DefaultBatchSize,
		roundLimit:   session.DefaultRoundLimit,
		kFactor:      elo.DefaultKFactor,
		syncMode:     SyncImmediate,
		workerCount:  runtime.NumCPU(),
		queueSize:    defaultQueueSize,
		dedupeSize:   defaultDedupeSize,
		sessionTTL:   defaultSessionTTL,
		catalogTTL:   defaultCatalogTTL,
		drainTimeout: defaultDrainTimeout,
		retry:        repository.DefaultRetryConfig(),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if _, err := ParseSyncMode(string(s.syncMode)); err != nil {
		return err
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.rawStore == nil {
		s.logger.Warn(ctx, "no rating store configured, using an empty in-memory store")
		s.rawStore = repository.NewMemoryStore()
	}
	if s.sampler == nil {
		s.sampler = sampler.New()
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.store = repository.NewRetryingStore(s.rawStore, s.retry, s.logger.Named("store"))
	s.applier = &recorder{store: s.store, k: s.kFactor}
	s.reconciler = reconcile.New(s.store, reconcile.WithLogger(s.logger.Named("reconcile")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.catalog = cache.New(s.catalogTTL, s.catalogTTL)
	s.sessions = cache.New(s.sessionTTL, s.sessionTTL/2)
	s.sessions.OnEvicted(s.onSessionEvicted)

	if s.syncMode == SyncImmediate {
		s.pool = workerpool.NewPool(s.workerCount, s.queueSize, s.applier,
			workerpool.WithPoolLogger(s.logger.Named("writer")))
		s.pool.Start(s.ctx)
	}

	s.started = true
	s.logger.Info(ctx, "study service started",
		logger.String("sync_mode", string(s.syncMode)),
		logger.Int("batch_size", s.batchSize),
		logger.Int("round_limit", s.roundLimit),
		logger.Float64("k_factor", s.kFactor),
		logger.Int("workers", s.workerCount),
	)
	return nil
}

// Stop drains pending durable writes and shuts the service down.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping study service...")

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Error(ctx, "durable writer shutdown", logger.Error(err))
		}
		s.pool = nil
	}
	s.cancel()
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "closing rating store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "study service stopped")
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func (s *Service) onSessionEvicted(id string, v any) {
	e, ok := v.(*entry)
	if !ok {
		return
	}
	if n := e.sess.PendingLen(); n > 0 {
		s.logger.Warn(context.Background(), "session dropped with unsynced decisions",
			logger.String("session_id", id),
			logger.Int("pending", n))
	}
	metrics.UpdateActiveSessions(s.sessions.ItemCount())
}

// items returns the catalog, cached for catalogTTL.
func (s *Service) items(ctx context.Context) ([]model.Item, error) {
	if v, ok := s.catalog.Get(catalogKey); ok {
		return v.([]model.Item), nil
	}
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	s.catalog.Set(catalogKey, items, cache.DefaultExpiration)
	metrics.UpdateCatalogItems(len(items))
	return items, nil
}

func (s *Service) lookup(id string) (*entry, error) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrSessionNotFound)
	}
	e := v.(*entry)
	// go-cache does not extend expiry on reads
	s.sessions.Set(id, e, cache.DefaultExpiration)
	return e, nil
}

// StartSession begins a session for participant over the current catalog.
func (s *Service) StartSession(ctx context.Context, participant string) (types.SessionView, error) {
	if err := s.running(); err != nil {
		return types.SessionView{}, err
	}
	items, err := s.items(ctx)
	if err != nil {
		return types.SessionView{}, err
	}

	id := s.newID()
	sess, err := session.New(id, participant, items,
		session.WithBatchSize(s.batchSize),
		session.WithRoundLimit(s.roundLimit),
		session.WithKFactor(s.kFactor),
		session.WithSampler(s.sampler),
	)
	if err != nil {
		return types.SessionView{}, err
	}
	s.sessions.Set(id, &entry{sess: sess}, cache.DefaultExpiration)

	metrics.RecordSessionStarted()
	metrics.UpdateActiveSessions(s.sessions.ItemCount())
	s.logger.Info(ctx, "session started",
		logger.String("session_id", id),
		logger.String("participant", sess.Participant()),
		logger.Int("items", len(items)))

	return s.view(ctx, sess)
}

// Session returns the current view of a session, drawing its next batch
// if needed.
func (s *Service) Session(ctx context.Context, id string) (types.SessionView, error) {
	if err := s.running(); err != nil {
		return types.SessionView{}, err
	}
	e, err := s.lookup(id)
	if err != nil {
		return types.SessionView{}, err
	}
	return s.view(ctx, e.sess)
}

// Vote records that winnerID won the given round of session id. The
// personal ledger is updated before it returns; durable-store trouble is
// logged and never fails the vote. A round that was already accepted is
// reported as a duplicate.
func (s *Service) Vote(ctx context.Context, id string, round int, winnerID string) (types.VoteResult, error) {
	if err := s.running(); err != nil {
		return types.VoteResult{}, err
	}
	e, err := s.lookup(id)
	if err != nil {
		return types.VoteResult{}, err
	}

	key := model.DecisionKey(id, round)
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordVoteDuplicate()
		view, err := s.view(ctx, e.sess)
		if err != nil {
			return types.VoteResult{}, err
		}
		return types.VoteResult{Status: "duplicate", Duplicate: true, Session: view}, nil
	}

	e.vote.Lock()
	d, err := e.sess.Choose(round, winnerID)
	if err != nil {
		e.vote.Unlock()
		s.deduper.Unrecord(ctx, key)
		return types.VoteResult{}, err
	}
	metrics.RecordVote(string(s.syncMode))

	switch s.syncMode {
	case SyncDeferred:
		e.sess.Defer(d)
	default:
		s.submit(ctx, e.sess, d)
	}

	if _, finished := e.sess.Progress(); finished {
		s.finalize(ctx, e.sess)
	}
	e.vote.Unlock()

	view, err := s.view(ctx, e.sess)
	if err != nil {
		return types.VoteResult{}, err
	}
	return types.VoteResult{Status: "accepted", Session: view}, nil
}

// submit hands d to the background writer. When the writer is saturated it
// waits for the session's earlier writes and writes d inline, keeping the
// session's durable writes in event order.
func (s *Service) submit(ctx context.Context, sess *session.Session, d model.Decision) {
	done := sess.BeginWrite()
	job := queue.Job{Decision: d, Done: func(error) { done() }}
	if s.pool != nil && s.pool.Submit(s.ctx, job) {
		return
	}
	done()

	s.logger.Warn(ctx, "durable writer saturated, writing inline",
		logger.String("session_id", d.SessionID),
		logger.Int("round", d.Sequence))
	waitCtx, cancel := context.WithTimeout(s.ctx, s.drainTimeout)
	defer cancel()
	if err := sess.WaitWrites(waitCtx); err != nil {
		s.logger.Warn(ctx, "earlier writes still in flight", logger.String("session_id", d.SessionID), logger.Error(err))
	}
	s.applyInline(ctx, d)
}

func (s *Service) applyInline(ctx context.Context, d model.Decision) {
	if err := s.applier.Apply(s.ctx, d); err != nil {
		s.logger.Error(ctx, "durable write failed",
			logger.String("session_id", d.SessionID),
			logger.Int("round", d.Sequence),
			logger.Error(err))
	}
}

// finalize flushes the session's outstanding durable writes and reconciles
// it. Only the first caller after the last round does any work.
func (s *Service) finalize(ctx context.Context, sess *session.Session) {
	if !sess.BeginFinalize() {
		return
	}
	metrics.RecordSessionFinished()

	waitCtx, cancel := context.WithTimeout(s.ctx, s.drainTimeout)
	if err := sess.WaitWrites(waitCtx); err != nil {
		s.logger.Warn(ctx, "reconciling before all durable writes landed",
			logger.String("session_id", sess.ID()), logger.Error(err))
	}
	cancel()

	pending := sess.DrainPending()
	for _, d := range pending {
		s.applyInline(ctx, d)
	}
	if len(pending) > 0 {
		metrics.RecordPendingFlushed(len(pending))
		s.logger.Info(ctx, "deferred decisions flushed",
			logger.String("session_id", sess.ID()),
			logger.Int("decisions", len(pending)))
	}

	res := s.reconciler.Reconcile(s.ctx, sess.ID(), sess.Participant(), sess)
	sess.SetComparison(res.Rows)
}

// Comparison returns the comparison table of a finished session.
func (s *Service) Comparison(ctx context.Context, id string) ([]model.ComparisonRow, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.sess.Comparison(ctx)
}

// Reset discards a session. Deferred decisions that were never flushed are
// dropped with it.
func (s *Service) Reset(ctx context.Context, id string) error {
	if err := s.running(); err != nil {
		return err
	}
	if _, ok := s.sessions.Get(id); !ok {
		return fmt.Errorf("%q: %w", id, ErrSessionNotFound)
	}
	s.sessions.Delete(id)
	s.logger.Info(ctx, "session reset", logger.String("session_id", id))
	return nil
}

// Leaderboard returns the top limit items of the shared population.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	ranked, err := s.store.RankedItems(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	out := make([]types.Entry, len(ranked))
	for i, it := range ranked {
		out[i] = toEntry(i+1, it)
	}
	return out, nil
}

// Rank returns one item's place in the shared population.
func (s *Service) Rank(ctx context.Context, itemID string) (types.Entry, error) {
	if err := s.running(); err != nil {
		return types.Entry{}, err
	}
	rank, it, err := s.store.Rank(ctx, itemID)
	if err != nil {
		return types.Entry{}, err
	}
	return toEntry(rank, it), nil
}

func toEntry(rank int, it model.Item) types.Entry {
	return types.Entry{
		Rank:       rank,
		ItemID:     it.ID,
		Filename:   it.Filename,
		ImageURL:   it.ImageURL,
		Rating:     it.Rating,
		VotesCount: it.VotesCount,
	}
}

func (s *Service) view(ctx context.Context, sess *session.Session) (types.SessionView, error) {
	completed, finished := sess.Progress()
	v := types.SessionView{
		ID:          sess.ID(),
		Participant: sess.Participant(),
		Round:       completed + 1,
		Completed:   completed,
		RoundLimit:  sess.RoundLimit(),
		Finished:    finished,
		Batch:       []types.Option{},
	}
	if finished {
		v.Round = completed
		rows, err := sess.Comparison(ctx)
		if err != nil {
			return types.SessionView{}, err
		}
		v.Comparison = rows
		return v, nil
	}

	batch, err := sess.Batch()
	if err != nil {
		return types.SessionView{}, err
	}
	for i, it := range batch {
		v.Batch = append(v.Batch, types.Option{
			Label:    "Option " + string(rune('A'+i)),
			ItemID:   it.ID,
			Filename: it.Filename,
			ImageURL: it.ImageURL,
		})
	}
	return v, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"syncMode":    string(s.syncMode),
		"batchSize":   s.batchSize,
		"roundLimit":  s.roundLimit,
		"kFactor":     s.kFactor,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	stats["activeSessions"] = s.sessions.ItemCount()
	stats["dedupeEntries"] = s.deduper.Size()
	if v, ok := s.catalog.Get(catalogKey); ok {
		stats["catalogItems"] = len(v.([]model.Item))
	}
	if s.pool != nil {
		n := s.pool.Len(s.ctx)
		stats["queueLength"] = n
		metrics.UpdateQueueSize(n)
	}
	metrics.UpdateActiveSessions(s.sessions.ItemCount())
	return stats
}

// IsUnavailable reports whether err means the rating store is down.
func IsUnavailable(err error) bool {
	return errors.Is(err, repository.ErrStoreUnavailable)
}
