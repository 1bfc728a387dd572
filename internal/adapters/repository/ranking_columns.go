package repository

import (
	"strings"
	"sync"

	"github.com/okian/prefstudy/internal/domain/model"
)

// rankColumns tracks how many image_<slot>_rank columns the ranking table
// has, so rows for a larger catalog can add the missing ones first.
type rankColumns struct {
	mu    sync.Mutex
	known int
}

// missing returns the columns needed for n slots that are not known yet.
func (c *rankColumns) missing(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for slot := c.known + 1; slot <= n; slot++ {
		out = append(out, model.RankColumn(slot))
	}
	return out
}

func (c *rankColumns) grow(n int) {
	c.mu.Lock()
	if n > c.known {
		c.known = n
	}
	c.mu.Unlock()
}

// rankingInsert builds the INSERT for row. placeholder renders the i-th
// (1-based) bind parameter.
func rankingInsert(row model.RankingRow, placeholder func(i int) string) (string, []any) {
	cols := []string{"session_id", "user_name", "created_at"}
	args := []any{row.SessionID, row.Participant, row.CreatedAt.UTC()}
	for i, r := range row.Ranks {
		cols = append(cols, model.RankColumn(i+1))
		args = append(args, r)
	}
	ph := make([]string, len(cols))
	for i := range ph {
		ph[i] = placeholder(i + 1)
	}
	q := "INSERT INTO user_rankings_fixed (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")"
	return q, args
}
