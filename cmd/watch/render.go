package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/internal/domain/resolver"
	"github.com/okian/lunchvote/pkg/logger"
)

// Vote states shown next to each checked-in participant.
const (
	stateYes     = "yes"
	stateNo      = "no"
	stateWaiting = "waiting"
)

// summary is the part of a view the watch command prints.
type summary struct {
	Connected bool
	Option    string
	Price     string
	URL       string
	Status    model.Status
	// Voters maps each checked-in username to yes, no or waiting.
	Voters   []voter
	Deadline *time.Time
	Me       string
}

type voter struct {
	Username string
	State    string
}

func (s summary) voters() string {
	parts := make([]string, 0, len(s.Voters))
	for _, v := range s.Voters {
		parts = append(parts, v.Username+"="+v.State)
	}
	return strings.Join(parts, " ")
}

// summarize extracts what the renderer shows from view.
func summarize(view model.View) summary {
	s := summary{Connected: view.Connected, Deadline: view.GracePeriodEnd}
	if view.Me != nil {
		s.Me = view.Me.Username
	}
	if view.Current == nil {
		return s
	}
	s.Option = view.Current.Option.Name
	s.Price = strings.Repeat("$", view.Current.Option.PriceTier)
	s.URL = view.Current.Option.URL
	s.Status = view.Current.Status

	byUser := make(map[string]bool, len(view.VotesForCurrent))
	for _, v := range view.VotesForCurrent {
		byUser[v.Username] = v.Approve
	}
	for _, p := range view.CheckedIn {
		state := stateWaiting
		if approve, ok := byUser[p.Username]; ok {
			state = stateNo
			if approve {
				state = stateYes
			}
		}
		s.Voters = append(s.Voters, voter{Username: p.Username, State: state})
	}
	return s
}

func (s summary) equal(o summary) bool {
	if s.Connected != o.Connected || s.Option != o.Option || s.Status != o.Status || s.Me != o.Me {
		return false
	}
	if (s.Deadline == nil) != (o.Deadline == nil) || (s.Deadline != nil && !s.Deadline.Equal(*o.Deadline)) {
		return false
	}
	return slices.Equal(s.Voters, o.Voters)
}

// renderer logs the active option whenever it changes, and the countdown
// once a second while a grace period runs.
type renderer struct {
	log logger.Logger
	now func() time.Time

	mu       sync.Mutex
	last     summary
	rendered bool
	tick     string
}

func newRenderer(l logger.Logger) *renderer {
	return &renderer{log: l, now: time.Now}
}

// Show renders view if it differs from the last one shown.
func (r *renderer) Show(view model.View) {
	s := summarize(view)

	r.mu.Lock()
	if r.rendered && r.last.equal(s) {
		r.mu.Unlock()
		return
	}
	r.last, r.rendered, r.tick = s, true, ""
	r.mu.Unlock()

	ctx := context.Background()
	switch {
	case !s.Connected:
		r.log.Info(ctx, "waiting for shared state")
	case s.Option == "":
		r.log.Info(ctx, "no options left today")
	default:
		fields := []logger.Field{
			logger.String("option", s.Option),
			logger.String("price", s.Price),
			logger.String("url", s.URL),
			logger.String("status", string(s.Status)),
			logger.String("votes", s.voters()),
		}
		if s.Deadline != nil {
			fields = append(fields, logger.String("remaining", resolver.Countdown(*s.Deadline, r.now())))
		}
		r.log.Info(ctx, headline(s), fields...)
	}
}

// Tick logs the countdown if a grace period is running and the displayed
// value changed.
func (r *renderer) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last.Deadline == nil {
		return
	}
	text := resolver.Countdown(*r.last.Deadline, r.now())
	if text == r.tick {
		return
	}
	r.tick = text
	r.log.Info(context.Background(), "time remaining",
		logger.String("option", r.last.Option),
		logger.String("remaining", text))
}

func headline(s summary) string {
	switch s.Status {
	case model.StatusResolvedYes:
		return fmt.Sprintf("lunch is %s", s.Option)
	case model.StatusPendingGrace:
		return "quorum reached, waiting out the grace period"
	default:
		return "vote y/n on the current option"
	}
}
