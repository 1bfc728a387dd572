package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
)

// runStoreContract exercises behaviour every Store must share. The store
// must start empty.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	added, err := store.EnsureItems(ctx, testItems(6))
	if err != nil {
		t.Fatalf("EnsureItems: %v", err)
	}
	if added != 6 {
		t.Fatalf("expected 6 items added, got %d", added)
	}
	if added, _ = store.EnsureItems(ctx, testItems(6)); added != 0 {
		t.Errorf("second EnsureItems added %d items", added)
	}

	t.Run("list in catalog order", func(t *testing.T) {
		items, err := store.ListItems(ctx)
		if err != nil {
			t.Fatalf("ListItems: %v", err)
		}
		for i, it := range items {
			if it.ID != fmt.Sprintf("item-%03d", i) || it.Rating != elo.BaselineRating {
				t.Errorf("unexpected item at %d: %+v", i, it)
			}
		}
	})

	t.Run("update elo parallel", func(t *testing.T) {
		losers := []string{"item-001", "item-002", "item-003"}
		if err := store.UpdateEloParallel(ctx, "item-000", losers, 32); err != nil {
			t.Fatalf("UpdateEloParallel: %v", err)
		}
		wantW, wantL := elo.Update(1200, []float64{1200, 1200, 1200}, 32)
		w, err := store.GetItem(ctx, "item-000")
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if !floatEqual(w.Rating, wantW) || w.VotesCount != 1 {
			t.Errorf("winner: expected %f/1, got %f/%d", wantW, w.Rating, w.VotesCount)
		}
		for i, id := range losers {
			it, _ := store.GetItem(ctx, id)
			if !floatEqual(it.Rating, wantL[i]) {
				t.Errorf("%s: expected %f, got %f", id, wantL[i], it.Rating)
			}
		}

		rank, _, err := store.Rank(ctx, "item-000")
		if err != nil || rank != 1 {
			t.Errorf("expected winner rank 1, got %d (%v)", rank, err)
		}
		ranked, err := store.RankedItems(ctx)
		if err != nil {
			t.Fatalf("RankedItems: %v", err)
		}
		// untouched items tie at the baseline and break ties by id
		if ranked[0].ID != "item-000" || ranked[1].ID != "item-004" || ranked[2].ID != "item-005" {
			t.Errorf("unexpected ranking head: %s %s %s", ranked[0].ID, ranked[1].ID, ranked[2].ID)
		}
	})

	t.Run("unknown ids", func(t *testing.T) {
		if _, err := store.GetItem(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetItem: expected ErrNotFound, got %v", err)
		}
		if err := store.UpdateEloParallel(ctx, "item-004", []string{"ghost"}, 32); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateEloParallel: expected ErrNotFound, got %v", err)
		}
		it, _ := store.GetItem(ctx, "item-004")
		if it.Rating != elo.BaselineRating || it.VotesCount != 0 {
			t.Errorf("failed update leaked: %+v", it)
		}
		r := 1.0
		if err := store.UpdateItem(ctx, "ghost", ItemUpdate{Rating: &r}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateItem: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update item", func(t *testing.T) {
		r, v := 1111.5, 9
		if err := store.UpdateItem(ctx, "item-005", ItemUpdate{Rating: &r, VotesCount: &v}); err != nil {
			t.Fatalf("UpdateItem: %v", err)
		}
		it, _ := store.GetItem(ctx, "item-005")
		if it.Rating != 1111.5 || it.VotesCount != 9 {
			t.Errorf("unexpected item: %+v", it)
		}
	})

	t.Run("log tables", func(t *testing.T) {
		v := model.Vote{SessionID: "s1", Participant: "alice", WinnerID: "item-000", Losers: "image_2.png, image_3.png, image_4.png", Sequence: 1, CreatedAt: time.Now()}
		if err := store.InsertVote(ctx, v); err != nil {
			t.Fatalf("InsertVote: %v", err)
		}
		one, two := 1, 2
		if err := store.InsertRanking(ctx, model.RankingRow{SessionID: "s1", Participant: "alice", Ranks: []*int{&two, &one, nil}}); err != nil {
			t.Fatalf("InsertRanking: %v", err)
		}
		// a larger catalog later needs more slot columns
		ranks := make([]*int, 8)
		for i := range ranks {
			ranks[i] = &one
		}
		if err := store.InsertRanking(ctx, model.RankingRow{SessionID: "s2", Participant: "bob", Ranks: ranks}); err != nil {
			t.Fatalf("InsertRanking (wider): %v", err)
		}
	})

	t.Run("concurrent decisions keep every vote", func(t *testing.T) {
		before, _ := store.GetItem(ctx, "item-002")
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := store.UpdateEloParallel(ctx, "item-002", []string{"item-003", "item-004", "item-005"}, 32); err != nil {
					t.Errorf("UpdateEloParallel: %v", err)
				}
			}()
		}
		wg.Wait()
		after, _ := store.GetItem(ctx, "item-002")
		if after.VotesCount != before.VotesCount+20 {
			t.Errorf("lost updates: votes %d -> %d", before.VotesCount, after.VotesCount)
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}
