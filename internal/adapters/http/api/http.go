// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	service "github.com/okian/lunchvote/internal/app"
	"github.com/okian/lunchvote/internal/domain/model"
)

// maxBodyBytes caps request bodies on write endpoints.
const maxBodyBytes = 64 << 10

// ViewDependencies exposes the derived view and today's option order.
type ViewDependencies interface {
	View(id model.Identity) model.View
	Options() (time.Time, []model.Option)
}

// ParticipantDependencies performs check-in writes.
type ParticipantDependencies interface {
	CheckIn(ctx context.Context, username, origin string) error
	CheckOut(ctx context.Context, username string) error
}

// VoteDependencies records votes, deduplicating on client request ids.
type VoteDependencies interface {
	SeenAndRecord(ctx context.Context, id string) bool
	Unrecord(ctx context.Context, id string)
	CastVote(ctx context.Context, req service.VoteRequest) error
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ViewDependencies
	ParticipantDependencies
	VoteDependencies
	Started() bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	viewHandler        *ViewHandler
	participantHandler *ParticipantHandler
	voteHandler        *VoteHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(statsProvider),
		viewHandler:        NewViewHandler(deps),
		participantHandler: NewParticipantHandler(deps),
		voteHandler:        NewVoteHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/view", MetricsMiddleware(s.viewHandler.HandleGetView, "view"))
	mux.HandleFunc("/options", MetricsMiddleware(s.viewHandler.HandleGetOptions, "options"))
	mux.HandleFunc("/checkin", MetricsMiddleware(s.participantHandler.HandleCheckIn, "checkin"))
	mux.HandleFunc("/checkout", MetricsMiddleware(s.participantHandler.HandleCheckOut, "checkout"))
	mux.HandleFunc("/votes", MetricsMiddleware(s.voteHandler.HandlePostVote, "votes"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
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

// writeFailure translates a service error into a status and error code.
func writeFailure(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	writeError(w, status, code, Wrap(op, err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrUnknownOption):
		return http.StatusNotFound, "unknown_option"
	case errors.Is(err, service.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, service.ErrOptionResolved):
		return http.StatusConflict, "option_resolved"
	case errors.Is(err, service.ErrNotify):
		return http.StatusBadGateway, "notify_failed"
	case errors.Is(err, ErrNotReady), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_ready"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody reads a JSON body into v. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
