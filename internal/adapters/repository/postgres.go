package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/prefstudy/internal/domain/elo"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/pkg/logger"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS items (
	seq         BIGSERIAL,
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	image_url   TEXT NOT NULL DEFAULT '',
	elo_rating  DOUBLE PRECISION NOT NULL DEFAULT 1200.0,
	votes_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_rating ON items (elo_rating DESC, id ASC);

CREATE TABLE IF NOT EXISTS votes (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL,
	winner_id  TEXT NOT NULL,
	losers     TEXT NOT NULL,
	round      INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_rankings_fixed (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION update_elo_parallel(p_winner TEXT, p_losers TEXT[], p_k DOUBLE PRECISION)
RETURNS VOID LANGUAGE plpgsql AS $$
DECLARE
	n       INTEGER := coalesce(array_length(p_losers, 1), 0);
	eff_k   DOUBLE PRECISION;
	running DOUBLE PRECISION;
	rb      DOUBLE PRECISION;
	ew      DOUBLE PRECISION;
	el      DOUBLE PRECISION;
	loser   TEXT;
BEGIN
	-- lock in id order so concurrent calls cannot deadlock
	PERFORM 1 FROM items WHERE id = p_winner OR id = ANY(p_losers) ORDER BY id FOR UPDATE;

	SELECT elo_rating INTO running FROM items WHERE id = p_winner;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'item % not found', p_winner USING ERRCODE = 'no_data_found';
	END IF;

	IF n > 0 THEN
		eff_k := p_k / n;
		FOREACH loser IN ARRAY p_losers LOOP
			SELECT elo_rating INTO rb FROM items WHERE id = loser;
			IF NOT FOUND THEN
				RAISE EXCEPTION 'item % not found', loser USING ERRCODE = 'no_data_found';
			END IF;
			ew := 1.0 / (1.0 + power(10::DOUBLE PRECISION, (rb - running) / 400.0));
			el := 1.0 / (1.0 + power(10::DOUBLE PRECISION, (running - rb) / 400.0));
			UPDATE items SET elo_rating = rb + eff_k * (0 - el) WHERE id = loser;
			running := running + eff_k * (1 - ew);
		END LOOP;
	END IF;

	UPDATE items SET elo_rating = running, votes_count = votes_count + 1 WHERE id = p_winner;
END
$$;
`

// sqlstate raised by update_elo_parallel for unknown ids.
const pgNoDataFound = "P0002"

const itemColumns = "id, filename, image_url, elo_rating, votes_count"

// PostgresStore keeps the population in PostgreSQL. Elo updates run inside
// the update_elo_parallel function, one transaction per decision.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logger.Logger
	cols rankColumns
}

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string, log logger.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logger.Get().Named("postgres")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &PostgresStore{pool: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates tables and the update function if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM information_schema.columns
		 WHERE table_name = 'user_rankings_fixed' AND column_name LIKE 'image\_%\_rank'`,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("postgres: inspect ranking columns: %w", err)
	}
	s.cols.grow(n)
	s.log.Info(ctx, "postgres schema ready", logger.Int("rank_columns", n))
	return nil
}

func scanItems(rows pgx.Rows) ([]model.Item, error) {
	defer rows.Close()
	var out []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.Filename, &it.ImageURL, &it.Rating, &it.VotesCount); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]model.Item, error) {
	defer observe("list_items", time.Now())
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	defer observe("get_item", time.Now())
	var it model.Item
	err := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Filename, &it.ImageURL, &it.Rating, &it.VotesCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Item{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("postgres: get item: %w", err)
	}
	return it, nil
}

func (s *PostgresStore) RankedItems(ctx context.Context) ([]model.Item, error) {
	defer observe("ranked_items", time.Now())
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY elo_rating DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: ranked items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: ranked items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Rank(ctx context.Context, id string) (int, model.Item, error) {
	defer observe("rank", time.Now())
	var (
		it   model.Item
		rank int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT i.id, i.filename, i.image_url, i.elo_rating, i.votes_count,
		        (SELECT count(*) FROM items o
		          WHERE o.elo_rating > i.elo_rating OR (o.elo_rating = i.elo_rating AND o.id < i.id)) + 1
		   FROM items i WHERE i.id = $1`, id,
	).Scan(&it.ID, &it.Filename, &it.ImageURL, &it.Rating, &it.VotesCount, &rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.Item{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, model.Item{}, fmt.Errorf("postgres: rank: %w", err)
	}
	return rank, it, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, id string, upd ItemUpdate) error {
	defer observe("update_item", time.Now())
	var (
		sets []string
		args []any
	)
	if upd.Rating != nil {
		args = append(args, *upd.Rating)
		sets = append(sets, fmt.Sprintf("elo_rating = $%d", len(args)))
	}
	if upd.VotesCount != nil {
		args = append(args, *upd.VotesCount)
		sets = append(sets, fmt.Sprintf("votes_count = $%d", len(args)))
	}
	if len(sets) == 0 {
		return ErrInvalidUpdate
	}
	args = append(args, id)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE items SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fmt.Errorf("postgres: update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateEloParallel(ctx context.Context, winnerID string, loserIDs []string, k float64) error {
	defer observe("update_elo_parallel", time.Now())
	if loserIDs == nil {
		loserIDs = []string{}
	}
	_, err := s.pool.Exec(ctx, `SELECT update_elo_parallel($1, $2, $3)`, winnerID, loserIDs, k)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgNoDataFound {
		return fmt.Errorf("%s: %w", pgErr.Message, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: update_elo_parallel: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertVote(ctx context.Context, v model.Vote) error {
	defer observe("insert_vote", time.Now())
	created := v.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO votes (session_id, user_name, winner_id, losers, round, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.SessionID, v.Participant, v.WinnerID, v.Losers, v.Sequence, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRanking(ctx context.Context, row model.RankingRow) error {
	defer observe("insert_ranking", time.Now())
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if missing := s.cols.missing(len(row.Ranks)); len(missing) > 0 {
		for _, col := range missing {
			if _, err := s.pool.Exec(ctx,
				`ALTER TABLE user_rankings_fixed ADD COLUMN IF NOT EXISTS `+col+` INTEGER`); err != nil {
				return fmt.Errorf("postgres: add column %s: %w", col, err)
			}
		}
		s.cols.grow(len(row.Ranks))
	}
	q, args := rankingInsert(row, func(i int) string { return fmt.Sprintf("$%d", i) })
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("postgres: insert ranking: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureItems(ctx context.Context, items []model.Item) (int, error) {
	defer observe("ensure_items", time.Now())
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	added := 0
	for _, it := range items {
		rating := it.Rating
		if rating == 0 {
			rating = elo.BaselineRating
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO items (id, filename, image_url, elo_rating, votes_count)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
			it.ID, it.Filename, it.ImageURL, rating, it.VotesCount,
		)
		if err != nil {
			return 0, fmt.Errorf("postgres: ensure item %q: %w", it.ID, err)
		}
		added += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return added, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
