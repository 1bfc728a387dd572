// Package reconcile turns a finished session into its comparison table:
// personal rank against global rank for every catalog image. It also
// persists the participant's fixed-slot ranking row.
package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/internal/domain/natsort"
	"github.com/okian/prefstudy/pkg/logger"
	"github.com/okian/prefstudy/pkg/metrics"
)

// Store is the part of the rating store reconciliation needs.
type Store interface {
	InsertRanking(ctx context.Context, row model.RankingRow) error
	// RankedItems returns every item ordered by rating, highest first.
	RankedItems(ctx context.Context) ([]model.Item, error)
}

// Standings is a finished personal ledger.
type Standings interface {
	SnapshotSortedDesc() []model.Item
	Filenames() []string
}

// Result is the outcome of one reconciliation.
type Result struct {
	Rows    []model.ComparisonRow
	Ranking model.RankingRow
	// Partial is set when a store call failed; rows are still complete on
	// the personal side.
	Partial bool
}

// Reconciler compares personal and global rankings.
type Reconciler struct {
	store Store
	log   logger.Logger
	now   func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithClock overrides time.Now for ranking rows.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New returns a Reconciler over store.
func New(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("reconcile")
	}
	return r
}

// Reconcile builds the comparison table for a finished session. Store
// failures are logged and leave global ranks nil; they never fail the call.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID, participant string, st Standings) Result {
	start := time.Now()

	personal := rankByFilename(st.SnapshotSortedDesc())

	slots := st.Filenames()
	natsort.Sort(slots)

	ranking := model.RankingRow{
		SessionID:   sessionID,
		Participant: participant,
		Ranks:       make([]*int, len(slots)),
		CreatedAt:   r.now(),
	}
	for i, name := range slots {
		if rank, ok := personal[strings.ToLower(name)]; ok {
			ranking.Ranks[i] = intPtr(rank)
		}
	}

	var (
		global            map[string]int
		insertErr, getErr error
		g                 errgroup.Group
	)
	if r.store != nil {
		g.Go(func() error {
			insertErr = r.store.InsertRanking(ctx, ranking)
			return nil
		})
		g.Go(func() error {
			ranked, err := r.store.RankedItems(ctx)
			if err != nil {
				getErr = err
				return nil
			}
			global = rankByFilename(ranked)
			return nil
		})
		_ = g.Wait()
	}

	partial := r.store == nil
	if insertErr != nil {
		partial = true
		metrics.RecordErrorByComponent("reconcile", "insert_ranking")
		r.log.Error(ctx, "failed to persist ranking row",
			logger.String("session_id", sessionID),
			logger.String("participant", participant),
			logger.Error(insertErr))
	}
	if getErr != nil {
		partial = true
		metrics.RecordErrorByComponent("reconcile", "ranked_items")
		r.log.Error(ctx, "failed to read global ranking",
			logger.String("session_id", sessionID),
			logger.Error(getErr))
	}

	rows := make([]model.ComparisonRow, 0, len(slots))
	for _, name := range slots {
		key := strings.ToLower(name)
		row := model.ComparisonRow{Filename: name, PersonalRank: personal[key]}
		if gr, ok := global[key]; ok {
			row.GlobalRank = intPtr(gr)
			row.Difference = intPtr(gr - row.PersonalRank)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].PersonalRank < rows[j].PersonalRank
	})

	outcome := "complete"
	if partial {
		outcome = "partial"
	}
	metrics.RecordReconciliation(outcome, float64(time.Since(start).Milliseconds()))
	r.log.Info(ctx, "session reconciled",
		logger.String("session_id", sessionID),
		logger.Int("items", len(rows)),
		logger.String("outcome", outcome))

	return Result{Rows: rows, Ranking: ranking, Partial: partial}
}

// rankByFilename maps lowercased filename to 1-based position. A later
// duplicate overwrites an earlier one.
func rankByFilename(ordered []model.Item) map[string]int {
	out := make(map[string]int, len(ordered))
	for i, it := range ordered {
		out[strings.ToLower(it.Filename)] = i + 1
	}
	return out
}

func intPtr(v int) *int { return &v }
