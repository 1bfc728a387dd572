// Package ledger holds a participant's session-local copy of the item
// population. It is seeded once per session at the baseline rating and is
// only ever changed by applying decisions; it never reads from or writes to
// the durable store.
package ledger

import (
	"fmt"
	"sort"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
)

// Ledger is not safe for concurrent use; a session owns exactly one.
type Ledger struct {
	items map[string]*model.Item
	order []string // insertion order, used for stable tie-breaking
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{items: make(map[string]*model.Item)}
}

// Seed replaces the ledger contents with one entry per raw item. Ratings are
// forced to the baseline; every other field is carried over verbatim. When
// raw contains the same id twice, the later item wins but keeps the earlier
// position.
func (l *Ledger) Seed(raw []model.Item) {
	l.items = make(map[string]*model.Item, len(raw))
	l.order = make([]string, 0, len(raw))
	for _, it := range raw {
		cp := it
		cp.Rating = elo.BaselineRating
		if _, dup := l.items[it.ID]; !dup {
			l.order = append(l.order, it.ID)
		}
		l.items[it.ID] = &cp
	}
}

// Apply runs the Elo update for winnerID over loserIDs (in that order) and
// writes the results back. Every id is resolved before anything changes, so a
// missing id leaves the ledger untouched.
func (l *Ledger) Apply(winnerID string, loserIDs []string, k float64) error {
	winner, ok := l.items[winnerID]
	if !ok {
		return fmt.Errorf("winner %q: %w", winnerID, ErrItemNotFound)
	}
	losers := make([]*model.Item, len(loserIDs))
	ratings := make([]float64, len(loserIDs))
	for i, id := range loserIDs {
		it, ok := l.items[id]
		if !ok {
			return fmt.Errorf("loser %q: %w", id, ErrItemNotFound)
		}
		losers[i] = it
		ratings[i] = it.Rating
	}

	newWinner, newLosers := elo.Update(winner.Rating, ratings, k)
	for i, it := range losers {
		it.Rating = newLosers[i]
	}
	winner.Rating = newWinner
	return nil
}

// Get returns a copy of the item with the given id.
func (l *Ledger) Get(id string) (model.Item, bool) {
	it, ok := l.items[id]
	if !ok {
		return model.Item{}, false
	}
	return *it, true
}

// Len returns the number of items.
func (l *Ledger) Len() int {
	return len(l.order)
}

// IDs returns item ids in insertion order.
func (l *Ledger) IDs() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Filenames returns item filenames in insertion order.
func (l *Ledger) Filenames() []string {
	out := make([]string, len(l.order))
	for i, id := range l.order {
		out[i] = l.items[id].Filename
	}
	return out
}

// SnapshotSortedDesc returns copies of all items ordered by rating, highest
// first. Equal ratings keep insertion order.
func (l *Ledger) SnapshotSortedDesc() []model.Item {
	out := make([]model.Item, len(l.order))
	for i, id := range l.order {
		out[i] = *l.items[id]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rating > out[j].Rating
	})
	return out
}
