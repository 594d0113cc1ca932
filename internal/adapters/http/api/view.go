package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/internal/domain/resolver"
)

// UserHeader names the caller explicitly, overriding origin matching.
const UserHeader = "X-Lunchvote-User"

// ViewHandler serves the derived view and the day's option order.
type ViewHandler struct {
	deps ViewDependencies
	now  func() time.Time
}

// NewViewHandler creates a new view handler.
func NewViewHandler(deps ViewDependencies) *ViewHandler {
	return &ViewHandler{deps: deps, now: time.Now}
}

type viewResponse struct {
	model.View
	Now time.Time `json:"now"`
	// Countdown is MM:SS until the current option's grace period ends.
	Countdown string `json:"countdown,omitempty"`
}

type optionsResponse struct {
	StartOfDay time.Time      `json:"start_of_day"`
	Options    []model.Option `json:"options"`
}

// HandleGetView handles GET /view requests.
func (h *ViewHandler) HandleGetView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	view := h.deps.View(identityOf(r))
	resp := viewResponse{View: view, Now: h.now().UTC()}
	if view.GracePeriodEnd != nil {
		resp.Countdown = resolver.Countdown(*view.GracePeriodEnd, resp.Now)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetOptions handles GET /options requests.
func (h *ViewHandler) HandleGetOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	start, options := h.deps.Options()
	writeJSON(w, http.StatusOK, optionsResponse{StartOfDay: start, Options: options})
}

func identityOf(r *http.Request) model.Identity {
	name := strings.TrimSpace(r.Header.Get(UserHeader))
	if name == "" {
		name = strings.TrimSpace(r.URL.Query().Get("as"))
	}
	return model.Identity{Username: name, Origin: originOf(r)}
}

// originOf returns the first X-Forwarded-For hop, else the peer host.
func originOf(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
