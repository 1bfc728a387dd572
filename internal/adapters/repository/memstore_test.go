package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
)

func floatEqual(a, b float64) bool {
	const tolerance = 1e-9
	return math.Abs(a-b) < tolerance
}

func testItems(n int) []model.Item {
	items := make([]model.Item, n)
	for i := range items {
		items[i] = model.Item{
			ID:       fmt.Sprintf("item-%03d", i),
			Filename: fmt.Sprintf("image_%d.png", i+1),
			ImageURL: fmt.Sprintf("https://cdn.example/image_%d.png", i+1),
		}
	}
	return items
}

func TestMemoryStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(4)...)

	items, err := store.ListItems(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	for i, it := range items {
		if it.ID != fmt.Sprintf("item-%03d", i) {
			t.Errorf("expected catalog order, got %s at %d", it.ID, i)
		}
		if it.Rating != elo.BaselineRating {
			t.Errorf("expected baseline rating, got %f", it.Rating)
		}
	}

	it, err := store.GetItem(ctx, "item-002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Filename != "image_3.png" {
		t.Errorf("expected image_3.png, got %s", it.Filename)
	}

	if _, err := store.GetItem(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateEloParallel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(6)...)

	losers := []string{"item-001", "item-002", "item-003"}
	if err := store.UpdateEloParallel(ctx, "item-000", losers, elo.DefaultKFactor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantW, wantL := elo.Update(1200, []float64{1200, 1200, 1200}, elo.DefaultKFactor)
	w, _ := store.GetItem(ctx, "item-000")
	if !floatEqual(w.Rating, wantW) {
		t.Errorf("winner: expected %f, got %f", wantW, w.Rating)
	}
	if w.VotesCount != 1 {
		t.Errorf("expected winner votes 1, got %d", w.VotesCount)
	}
	for i, id := range losers {
		it, _ := store.GetItem(ctx, id)
		if !floatEqual(it.Rating, wantL[i]) {
			t.Errorf("%s: expected %f, got %f", id, wantL[i], it.Rating)
		}
		if it.VotesCount != 0 {
			t.Errorf("%s: loser votes should be unchanged, got %d", id, it.VotesCount)
		}
	}

	// Missing loser leaves everything untouched.
	before, _ := store.RankedItems(ctx)
	err := store.UpdateEloParallel(ctx, "item-004", []string{"item-005", "ghost"}, elo.DefaultKFactor)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	after, _ := store.RankedItems(ctx)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("item %s changed after failed update", before[i].ID)
		}
	}
}

func TestMemoryStore_RankedOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(5)...)

	ratings := map[string]float64{
		"item-000": 1100,
		"item-001": 1300,
		"item-002": 1250,
		"item-003": 1300,
		"item-004": 1200,
	}
	for id, r := range ratings {
		r := r
		if err := store.UpdateItem(ctx, id, ItemUpdate{Rating: &r}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ranked, err := store.RankedItems(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"item-001", "item-003", "item-002", "item-004", "item-000"}
	for i, id := range want {
		if ranked[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i+1, id, ranked[i].ID)
		}
		rank, _, err := store.Rank(ctx, id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rank != i+1 {
			t.Errorf("%s: expected rank %d, got %d", id, i+1, rank)
		}
	}

	if _, _, err := store.Rank(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateItem(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(2)...)

	if err := store.UpdateItem(ctx, "item-000", ItemUpdate{}); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("expected ErrInvalidUpdate, got %v", err)
	}
	votes := 7
	if err := store.UpdateItem(ctx, "item-000", ItemUpdate{VotesCount: &votes}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	it, _ := store.GetItem(ctx, "item-000")
	if it.VotesCount != 7 || it.Rating != elo.BaselineRating {
		t.Errorf("unexpected item after votes update: %+v", it)
	}
	r := 1234.5
	if err := store.UpdateItem(ctx, "ghost", ItemUpdate{Rating: &r}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_EnsureItems(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(3)...)

	r := 1500.0
	_ = store.UpdateItem(ctx, "item-000", ItemUpdate{Rating: &r})

	added, err := store.EnsureItems(ctx, testItems(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 2 {
		t.Errorf("expected 2 new items, got %d", added)
	}
	it, _ := store.GetItem(ctx, "item-000")
	if it.Rating != 1500 {
		t.Errorf("existing rating overwritten: %f", it.Rating)
	}
}

func TestMemoryStore_LogTables(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(4)...)

	if err := store.InsertVote(ctx, model.Vote{Participant: "alice", WinnerID: "item-000", Losers: "a, b, c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	one := 1
	row := model.RankingRow{Participant: "alice", Ranks: []*int{&one, nil}}
	if err := store.InsertRanking(ctx, row); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row.Ranks[1] = &one // caller mutation must not leak in

	if got := store.Votes(); len(got) != 1 || got[0].Losers != "a, b, c" {
		t.Errorf("unexpected votes: %+v", got)
	}
	got := store.Rankings()
	if len(got) != 1 || got[0].Ranks[1] != nil {
		t.Errorf("unexpected rankings: %+v", got)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(4)...)
	if err := store.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.ListItems(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := store.UpdateEloParallel(ctx, "item-000", []string{"item-001"}, 32); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryStore_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore(testItems(4)...)
	if _, err := store.RankedItems(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// Concurrent decisions must not lose votes or desync the treap.
func TestMemoryStore_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	const (
		nItems    = 12
		nSessions = 16
		perSess   = 30
	)
	store := NewMemoryStore(testItems(nItems)...)

	var wg sync.WaitGroup
	for s := 0; s < nSessions; s++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < perSess; i++ {
				perm := rng.Perm(nItems)[:4]
				ids := make([]string, 4)
				for j, p := range perm {
					ids[j] = fmt.Sprintf("item-%03d", p)
				}
				if err := store.UpdateEloParallel(ctx, ids[0], ids[1:], 32); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(int64(s))
	}
	wg.Wait()

	items, _ := store.ListItems(ctx)
	totalVotes := 0
	for _, it := range items {
		totalVotes += it.VotesCount
	}
	if totalVotes != nSessions*perSess {
		t.Errorf("lost votes: expected %d, got %d", nSessions*perSess, totalVotes)
	}

	ranked, _ := store.RankedItems(ctx)
	if len(ranked) != nItems {
		t.Fatalf("treap out of sync: %d ranked, %d items", len(ranked), nItems)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Rating > ranked[i-1].Rating {
			t.Errorf("ranking not descending at %d", i)
		}
	}
}

func BenchmarkMemoryStore_UpdateEloParallel(b *testing.B) {
	ctx := context.Background()
	const n = 500
	store := NewMemoryStore(testItems(n)...)
	rng := rand.New(rand.NewSource(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		perm := rng.Perm(n)[:4]
		_ = store.UpdateEloParallel(ctx,
			fmt.Sprintf("item-%03d", perm[0]),
			[]string{fmt.Sprintf("item-%03d", perm[1]), fmt.Sprintf("item-%03d", perm[2]), fmt.Sprintf("item-%03d", perm[3])},
			32)
	}
}

func BenchmarkMemoryStore_RankedItems(b *testing.B) {
	ctx := context.Background()
	store := NewMemoryStore(testItems(500)...)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.RankedItems(ctx)
	}
}
