package api

import (
	"net/http"
)

// SessionsHandler handles participant session requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// HandleCreate handles POST /sessions requests.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_session"
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	view, err := h.deps.StartSession(r.Context(), req.Participant)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

// HandleGet handles GET /sessions/{id} requests.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_session"
	view, err := h.deps.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleVote handles POST /sessions/{id}/votes requests. Resubmitting an
// accepted round is acknowledged with duplicate=true.
func (h *SessionsHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_vote"
	var req voteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Vote(r.Context(), r.PathValue("id"), req.Round, req.WinnerID)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleComparison handles GET /sessions/{id}/comparison requests.
func (h *SessionsHandler) HandleComparison(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_comparison"
	rows, err := h.deps.Comparison(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleReset handles DELETE /sessions/{id} requests.
func (h *SessionsHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	const op = "api.reset_session"
	if err := h.deps.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
