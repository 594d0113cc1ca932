package resolver

import (
	"sort"
	"time"

	"github.com/okian/lunchvote/internal/domain/model"
)

// Resolution is the outcome of resolving a single option at an instant.
type Resolution struct {
	Status model.Status
	Tally  model.Tally
	// GracePeriodEnd is set while Status is StatusPendingGrace.
	GracePeriodEnd time.Time
	// ResolvedAt is the instant the option became final.
	ResolvedAt time.Time
	// Counted holds the votes that entered the tally, in evaluation order.
	Counted []model.Vote
}

// SortVotes orders votes by cast time, breaking ties by username so every
// observer derives the same quorum set regardless of delivery order.
func SortVotes(votes []model.Vote) []model.Vote {
	out := make([]model.Vote, len(votes))
	copy(out, votes)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.Before(out[j].CastAt)
		}
		return out[i].Username < out[j].Username
	})
	return out
}

// ResolveOption applies the quorum and rolling grace-period rule to the
// votes of one option. votes must already be limited to the current day.
func ResolveOption(votes []model.Vote, quorum int, grace time.Duration, asOf time.Time) Resolution {
	if quorum < 1 {
		quorum = 1
	}
	if len(votes) < quorum {
		return Resolution{Status: model.StatusUndecided, Tally: count(votes)}
	}

	ordered := SortVotes(votes)
	counted := ordered[:quorum]
	quorumDate := counted[len(counted)-1].CastAt

	// Each vote inside the window extends it; the first one outside closes
	// the option, and everything after the close is ignored.
	n := quorum
	for _, v := range ordered[quorum:] {
		if v.CastAt.After(quorumDate.Add(grace)) {
			break
		}
		quorumDate = v.CastAt
		n++
	}
	counted = ordered[:n]
	end := quorumDate.Add(grace)
	tally := count(counted)

	if !asOf.After(end) {
		return Resolution{
			Status:         model.StatusPendingGrace,
			Tally:          tally,
			GracePeriodEnd: end,
			Counted:        counted,
		}
	}

	status := model.StatusResolvedNo
	if tally.Yes > tally.No {
		status = model.StatusResolvedYes
	}
	return Resolution{Status: status, Tally: tally, ResolvedAt: end, Counted: counted}
}

func count(votes []model.Vote) model.Tally {
	var t model.Tally
	for _, v := range votes {
		if v.Approve {
			t.Yes++
		} else {
			t.No++
		}
	}
	return t
}
