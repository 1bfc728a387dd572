package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/internal/domain/types"
)

// Client talks to the study API. Every request waits on the shared limiter.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client. A zero rps disables pacing.
func NewClient(baseURL string, timeout time.Duration, rps float64) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Status int
	Code   string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rdr io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &e)
		return &StatusError{Status: resp.StatusCode, Code: e.Code, Body: e.Message}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// StartSession starts a session for participant.
func (c *Client) StartSession(ctx context.Context, participant string) (types.SessionView, error) {
	var v types.SessionView
	err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{"participant": participant}, &v)
	return v, err
}

// Vote submits the winner of a round.
func (c *Client) Vote(ctx context.Context, id string, round int, winnerID string) (types.VoteResult, error) {
	var res types.VoteResult
	err := c.do(ctx, http.MethodPost, "/sessions/"+id+"/votes",
		map[string]any{"round": round, "winner_id": winnerID}, &res)
	return res, err
}

// Comparison fetches a finished session's table.
func (c *Client) Comparison(ctx context.Context, id string) ([]model.ComparisonRow, error) {
	var rows []model.ComparisonRow
	err := c.do(ctx, http.MethodGet, "/sessions/"+id+"/comparison", nil, &rows)
	return rows, err
}

// Reset discards a session.
func (c *Client) Reset(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+id, nil, nil)
}

// Leaderboard fetches the top n global entries.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]types.Entry, error) {
	var entries []types.Entry
	err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(n), nil, &entries)
	return entries, err
}
