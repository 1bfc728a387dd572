package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/okian/prefstudy/internal/domain/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefstudy-test.db")
	store, err := NewSQLiteStore(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newTestSQLite(t))
}

func TestSQLiteStore_RankingColumns(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	three := 3
	if err := store.InsertRanking(ctx, model.RankingRow{Participant: "alice", Ranks: []*int{nil, &three}}); err != nil {
		t.Fatalf("InsertRanking: %v", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('user_rankings_fixed') WHERE name LIKE 'image_%_rank'`).Scan(&count); err != nil {
		t.Fatalf("query pragma_table_info failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rank columns, got %d", count)
	}

	var (
		first  *int
		second *int
		name   string
	)
	if err := store.db.QueryRow(`SELECT user_name, image_1_rank, image_2_rank FROM user_rankings_fixed`).Scan(&name, &first, &second); err != nil {
		t.Fatalf("select ranking failed: %v", err)
	}
	if name != "alice" || first != nil || second == nil || *second != 3 {
		t.Errorf("unexpected row: %s %v %v", name, first, second)
	}
}

func TestSQLiteStore_ReopenKeepsColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	store, err := NewSQLiteStore(ctx, path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	one := 1
	if err := store.InsertRanking(ctx, model.RankingRow{Participant: "a", Ranks: []*int{&one, &one, &one}}); err != nil {
		t.Fatalf("InsertRanking: %v", err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if got := reopened.cols.missing(3); len(got) != 0 {
		t.Errorf("expected known columns after reopen, missing %v", got)
	}
	if got := reopened.cols.missing(4); len(got) != 1 || got[0] != "image_4_rank" {
		t.Errorf("unexpected missing columns: %v", got)
	}
}
