package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	image_url   TEXT NOT NULL DEFAULT '',
	elo_rating  REAL NOT NULL DEFAULT 1200.0,
	votes_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_rating ON items(elo_rating DESC, id ASC);

CREATE TABLE IF NOT EXISTS votes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL,
	winner_id  TEXT NOT NULL,
	losers     TEXT NOT NULL,
	round      INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_rankings_fixed (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore keeps the population in a SQLite file. Each Elo update is
// one BEGIN IMMEDIATE transaction, which takes the write lock before
// reading the ratings it is about to change.
type SQLiteStore struct {
	db   *sql.DB
	log  logger.Logger
	cols rankColumns
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Get().Named("sqlite")
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	s := &SQLiteStore{db: db, log: log}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and learns the ranking column count.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('user_rankings_fixed') WHERE name LIKE 'image_%_rank'`,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("sqlite: inspect ranking columns: %w", err)
	}
	s.cols.grow(n)
	s.log.Info(ctx, "sqlite schema ready", logger.Int("rank_columns", n))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (model.Item, error) {
	var it model.Item
	err := r.Scan(&it.ID, &it.Filename, &it.ImageURL, &it.Rating, &it.VotesCount)
	return it, err
}

func (s *SQLiteStore) queryItems(ctx context.Context, q string) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]model.Item, error) {
	defer observe("list_items", time.Now())
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM items ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	defer observe("get_item", time.Now())
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("sqlite: get item: %w", err)
	}
	return it, nil
}

func (s *SQLiteStore) RankedItems(ctx context.Context) ([]model.Item, error) {
	defer observe("ranked_items", time.Now())
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM items ORDER BY elo_rating DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ranked items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Rank(ctx context.Context, id string) (int, model.Item, error) {
	defer observe("rank", time.Now())
	var (
		it   model.Item
		rank int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT i.id, i.filename, i.image_url, i.elo_rating, i.votes_count,
		        (SELECT COUNT(*) FROM items o
		          WHERE o.elo_rating > i.elo_rating OR (o.elo_rating = i.elo_rating AND o.id < i.id)) + 1
		   FROM items i WHERE i.id = ?`, id,
	).Scan(&it.ID, &it.Filename, &it.ImageURL, &it.Rating, &it.VotesCount, &rank)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.Item{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, model.Item{}, fmt.Errorf("sqlite: rank: %w", err)
	}
	return rank, it, nil
}

func (s *SQLiteStore) UpdateItem(ctx context.Context, id string, upd ItemUpdate) error {
	defer observe("update_item", time.Now())
	var (
		sets []string
		args []any
	)
	if upd.Rating != nil {
		sets = append(sets, "elo_rating = ?")
		args = append(args, *upd.Rating)
	}
	if upd.VotesCount != nil {
		sets = append(sets, "votes_count = ?")
		args = append(args, *upd.VotesCount)
	}
	if len(sets) == 0 {
		return ErrInvalidUpdate
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) UpdateEloParallel(ctx context.Context, winnerID string, loserIDs []string, k float64) error {
	defer observe("update_elo_parallel", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rating := func(id string) (float64, error) {
		var r float64
		err := tx.QueryRowContext(ctx, `SELECT elo_rating FROM items WHERE id = ?`, id).Scan(&r)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%q: %w", id, ErrNotFound)
		}
		return r, err
	}

	winner, err := rating(winnerID)
	if err != nil {
		return err
	}
	losers := make([]float64, len(loserIDs))
	for i, id := range loserIDs {
		if losers[i], err = rating(id); err != nil {
			return err
		}
	}

	newWinner, newLosers := elo.Update(winner, losers, k)
	for i, id := range loserIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE items SET elo_rating = ? WHERE id = ?`, newLosers[i], id); err != nil {
			return fmt.Errorf("sqlite: update loser: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET elo_rating = ?, votes_count = votes_count + 1 WHERE id = ?`, newWinner, winnerID); err != nil {
		return fmt.Errorf("sqlite: update winner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertVote(ctx context.Context, v model.Vote) error {
	defer observe("insert_vote", time.Now())
	created := v.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO votes (session_id, user_name, winner_id, losers, round, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.SessionID, v.Participant, v.WinnerID, v.Losers, v.Sequence, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert vote: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertRanking(ctx context.Context, row model.RankingRow) error {
	defer observe("insert_ranking", time.Now())
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if missing := s.cols.missing(len(row.Ranks)); len(missing) > 0 {
		for _, col := range missing {
			var exists int
			_ = s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM pragma_table_info('user_rankings_fixed') WHERE name = ?`, col).Scan(&exists)
			if exists > 0 {
				continue
			}
			if _, err := s.db.ExecContext(ctx, `ALTER TABLE user_rankings_fixed ADD COLUMN `+col+` INTEGER`); err != nil {
				return fmt.Errorf("sqlite: add column %s: %w", col, err)
			}
		}
		s.cols.grow(len(row.Ranks))
	}
	q, args := rankingInsert(row, func(int) string { return "?" })
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sqlite: insert ranking: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnsureItems(ctx context.Context, items []model.Item) (int, error) {
	defer observe("ensure_items", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO items (id, filename, image_url, elo_rating, votes_count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, it := range items {
		rating := it.Rating
		if rating == 0 {
			rating = elo.BaselineRating
		}
		res, err := stmt.ExecContext(ctx, it.ID, it.Filename, it.ImageURL, rating, it.VotesCount)
		if err != nil {
			return 0, fmt.Errorf("sqlite: ensure item %q: %w", it.ID, err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return added, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
