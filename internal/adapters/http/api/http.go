// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	service "github.com/okian/prefstudy/internal/app"
	"github.com/okian/prefstudy/internal/adapters/repository"
	"github.com/okian/prefstudy/internal/domain/ledger"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/internal/domain/sampler"
	"github.com/okian/prefstudy/internal/domain/session"
	"github.com/okian/prefstudy/internal/domain/types"
	"github.com/okian/prefstudy/pkg/metrics"
)

// DefaultMaxLeaderboardLimit caps GET /leaderboard when no limit is configured.
const DefaultMaxLeaderboardLimit = 100

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SessionDependencies
	LeaderboardDependencies
	RankDependencies
}

// SessionDependencies drive a participant session.
type SessionDependencies interface {
	StartSession(ctx context.Context, participant string) (types.SessionView, error)
	Session(ctx context.Context, id string) (types.SessionView, error)
	Vote(ctx context.Context, id string, round int, winnerID string) (types.VoteResult, error)
	Comparison(ctx context.Context, id string) ([]model.ComparisonRow, error)
	Reset(ctx context.Context, id string) error
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	sessionsHandler    *SessionsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	if maxLimit < 1 {
		maxLimit = DefaultMaxLeaderboardLimit
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		sessionsHandler:    NewSessionsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionsHandler.HandleCreate, "sessions"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleGet, "session"))
	mux.HandleFunc("DELETE /sessions/{id}", MetricsMiddleware(s.sessionsHandler.HandleReset, "session"))
	mux.HandleFunc("POST /sessions/{id}/votes", MetricsMiddleware(s.sessionsHandler.HandleVote, "votes"))
	mux.HandleFunc("GET /sessions/{id}/comparison", MetricsMiddleware(s.sessionsHandler.HandleComparison, "comparison"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /items/{id}", MetricsMiddleware(s.rankHandler.HandleGetRank, "items"))
}

// createSessionRequest mirrors the OpenAPI schema for POST /sessions.
type createSessionRequest struct {
	Participant string `json:"participant" validate:"required,max=200"`
}

// voteRequest mirrors the OpenAPI schema for POST /sessions/{id}/votes.
type voteRequest struct {
	Round    int    `json:"round" validate:"required,min=1"`
	WinnerID string `json:"winner_id" validate:"required,max=200"`
}

var validate = validator.New(validator.WithRequiredStructEnabled()) //nolint:gochecknoglobals // validators cache struct metadata

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps an upstream error to its status code.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	writeError(w, status, code, Wrap(op, err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, session.ErrInvalidParticipant):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ledger.ErrItemNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrStaleRound):
		return http.StatusConflict, "stale_round"
	case errors.Is(err, session.ErrNotInBatch):
		return http.StatusConflict, "not_in_batch"
	case errors.Is(err, session.ErrFinished):
		return http.StatusConflict, "finished"
	case errors.Is(err, session.ErrNotFinished):
		return http.StatusConflict, "not_finished"
	case errors.Is(err, sampler.ErrInsufficientPool):
		return http.StatusConflict, "insufficient_pool"
	case errors.Is(err, repository.ErrStoreUnavailable),
		errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
