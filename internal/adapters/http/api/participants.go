package api

import (
	"net/http"

	service "github.com/okian/lunchvote/internal/app"
)

// ParticipantHandler handles check-in and check-out.
type ParticipantHandler struct {
	deps ParticipantDependencies
}

// NewParticipantHandler creates a new participant handler.
func NewParticipantHandler(deps ParticipantDependencies) *ParticipantHandler {
	return &ParticipantHandler{deps: deps}
}

// HandleCheckIn handles POST /checkin requests. The origin address is taken
// from the request, not the body.
func (h *ParticipantHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkin"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req service.ParticipantRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.CheckIn(r.Context(), req.Username, originOf(r)); err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "checked_in"})
}

// HandleCheckOut handles POST /checkout requests.
func (h *ParticipantHandler) HandleCheckOut(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkout"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req service.ParticipantRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.CheckOut(r.Context(), req.Username); err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "checked_out"})
}
