// Package resolver derives the decision view from a state snapshot.
//
// Everything here is a pure function of (snapshot, instant, identity): no
// I/O, no clocks, no shared mutable state. Independent processes resolving
// the same snapshot at the same instant converge on the same view.
package resolver

import (
	"sort"
	"time"

	"github.com/okian/lunchvote/internal/domain/catalog"
	"github.com/okian/lunchvote/internal/domain/model"
)

// DefaultGracePeriod is the rolling window after quorum during which votes still count.
const DefaultGracePeriod = time.Minute

// Resolver resolves snapshots against a fixed catalog.
type Resolver struct {
	catalog      *catalog.Catalog
	grace        time.Duration
	stopOnWinner bool
	version      string
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithGracePeriod sets the grace period length.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Resolver) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithStopOnWinner makes the first resolved-yes option active as soon as it
// resolves, ending the walk through later options.
func WithStopOnWinner(enabled bool) Option {
	return func(r *Resolver) {
		r.stopOnWinner = enabled
	}
}

// WithBuildVersion sets the schema version snapshots are compared against.
func WithBuildVersion(version string) Option {
	return func(r *Resolver) {
		if version != "" {
			r.version = version
		}
	}
}

// New constructs a Resolver for cat.
func New(cat *catalog.Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		catalog: cat,
		grace:   DefaultGracePeriod,
		version: model.SchemaVersion,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GracePeriod returns the configured grace period.
func (r *Resolver) GracePeriod() time.Duration { return r.grace }

// Catalog returns the catalog options are drawn from.
func (r *Resolver) Catalog() *catalog.Catalog { return r.catalog }

// Resolve derives the view. A nil snapshot yields the not-yet-connected view.
func (r *Resolver) Resolve(snap *model.Snapshot, asOf time.Time, id model.Identity) model.View {
	if snap == nil {
		return model.View{}
	}

	start, ordered := r.catalog.Daily(asOf)
	byOption := groupByOption(TodaysVotes(snap.Votes, start))
	quorum := snap.EffectiveQuorum()

	statuses := make([]model.OptionStatus, len(ordered))
	for i, opt := range ordered {
		res := ResolveOption(byOption[opt.ID], quorum, r.grace, asOf)
		statuses[i] = toOptionStatus(opt, res)
	}

	view := model.View{
		Connected:           true,
		IncompatibleVersion: snap.SchemaVersion != r.version,
		StartOfDay:          start,
		Options:             statuses,
		Participants:        sortedByUsername(snap.Participants),
		CheckedIn:           sortedByUsername(snap.CheckedIn),
		VotesForCurrent:     []model.Vote{},
		Me:                  ResolveMe(snap.Participants, id),
	}

	if idx := SelectActive(statuses, r.stopOnWinner); idx >= 0 {
		current := statuses[idx]
		view.Current = &current
		view.VotesForCurrent = votesByUsername(byOption[current.Option.ID])
		view.GracePeriodEnd = current.GracePeriodEnd
	}
	return view
}

// StatusOf resolves a single option at asOf. It reports false when optionID
// is not in the catalog.
func (r *Resolver) StatusOf(snap *model.Snapshot, asOf time.Time, optionID int) (model.Status, bool) {
	if _, ok := r.catalog.Lookup(optionID); !ok || snap == nil {
		return "", false
	}
	start := catalog.StartOfDay(asOf, r.catalog.Location())
	votes := groupByOption(TodaysVotes(snap.Votes, start))[optionID]
	return ResolveOption(votes, snap.EffectiveQuorum(), r.grace, asOf).Status, true
}

// TodaysVotes keeps votes cast strictly after start.
func TodaysVotes(votes []model.Vote, start time.Time) []model.Vote {
	out := make([]model.Vote, 0, len(votes))
	for _, v := range votes {
		if v.CastAt.After(start) {
			out = append(out, v)
		}
	}
	return out
}

// SelectActive returns the index of the active option, or -1 when none is
// surfaced. The first open option wins; once every option is final, the
// first resolved-yes one is announced.
func SelectActive(statuses []model.OptionStatus, stopOnWinner bool) int {
	winner := -1
	for i, s := range statuses {
		if s.Status == model.StatusResolvedYes {
			if stopOnWinner {
				return i
			}
			if winner < 0 {
				winner = i
			}
		}
		if s.Status.Open() {
			return i
		}
	}
	return winner
}

// ResolveMe picks the caller among participants: by explicit username when
// given, otherwise by origin address. The latest check-in wins.
func ResolveMe(participants []model.Participant, id model.Identity) *model.Participant {
	if id.Username == "" && id.Origin == "" {
		return nil
	}
	var best *model.Participant
	for i := range participants {
		p := participants[i]
		if id.Username != "" {
			if p.Username != id.Username {
				continue
			}
		} else if p.OriginAddress != id.Origin {
			continue
		}
		if best == nil || p.CheckedInAt.After(best.CheckedInAt) ||
			(p.CheckedInAt.Equal(best.CheckedInAt) && p.Username < best.Username) {
			best = &p
		}
	}
	return best
}

func toOptionStatus(opt model.Option, res Resolution) model.OptionStatus {
	s := model.OptionStatus{Option: opt, Status: res.Status, Tally: res.Tally}
	if res.Status == model.StatusPendingGrace {
		end := res.GracePeriodEnd
		s.GracePeriodEnd = &end
	}
	if res.Status.Final() {
		at := res.ResolvedAt
		s.ResolvedAt = &at
	}
	return s
}

func groupByOption(votes []model.Vote) map[int][]model.Vote {
	out := make(map[int][]model.Vote)
	for _, v := range votes {
		out[v.OptionID] = append(out[v.OptionID], v)
	}
	return out
}

func votesByUsername(votes []model.Vote) []model.Vote {
	out := make([]model.Vote, len(votes))
	copy(out, votes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func sortedByUsername(ps []model.Participant) []model.Participant {
	out := make([]model.Participant, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
