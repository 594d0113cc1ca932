package api

import (
	"net/http"
	"strings"

	service "github.com/okian/lunchvote/internal/app"
)

// VoteHandler handles vote submissions.
type VoteHandler struct {
	deps VoteDependencies
}

// NewVoteHandler creates a new vote handler.
func NewVoteHandler(deps VoteDependencies) *VoteHandler {
	return &VoteHandler{deps: deps}
}

// HandlePostVote handles POST /votes requests. A repeated request_id is
// acknowledged without writing again; a failed write forgets the id so the
// client can retry.
func (h *VoteHandler) HandlePostVote(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_vote"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req service.VoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ctx := r.Context()
	id := strings.TrimSpace(req.RequestID)
	if id != "" && h.deps.SeenAndRecord(ctx, id) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "recorded", Duplicate: true})
		return
	}

	if err := h.deps.CastVote(ctx, req); err != nil {
		if id != "" {
			h.deps.Unrecord(ctx, id)
		}
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "recorded"})
}
