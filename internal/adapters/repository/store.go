// Package repository holds the shared voting state: who has used the app,
// who is checked in, and every vote cast.
package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/lunchvote/internal/domain/model"
)

// Source pushes complete snapshots of the shared state.
type Source interface {
	// Subscribe delivers the current snapshot, then a new one after every
	// change, until the returned function is called or ctx ends. The callback
	// must not write back to the store synchronously.
	Subscribe(ctx context.Context, fn func(model.Snapshot)) (func(), error)

	// Snapshot reads the current state once.
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// VoteGuard decides whether a vote may be written. It sees the state the vote
// would be applied to and the instant the vote will be stamped with.
type VoteGuard func(snap model.Snapshot, at time.Time) error

// Sink accepts writes. The store stamps every write with its own clock.
type Sink interface {
	// CheckIn returns the participant as stored.
	CheckIn(ctx context.Context, username, origin string) (model.Participant, error)
	CheckOut(ctx context.Context, username string) error
	// CastVote runs guard, when set, atomically with the write. A guard error
	// aborts the vote and is returned wrapped in ErrVoteRefused.
	CastVote(ctx context.Context, username string, optionID int, approve *bool, guard VoteGuard) error
}

// Store is a Source and Sink with a lifecycle.
type Store interface {
	Source
	Sink
	Name() string
	Close() error
}

type checkInRequest struct {
	Username string `validate:"required"`
	Origin   string
}

type checkOutRequest struct {
	Username string `validate:"required"`
}

type voteRequest struct {
	Username string `validate:"required"`
	OptionID int    `validate:"required"`
	Approve  *bool  `validate:"required"`
}

var validate = validator.New() //nolint:gochecknoglobals // validator caches struct metadata

func check(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// normalize sorts snapshot collections into a delivery-independent order.
func normalize(snap *model.Snapshot) {
	byName := func(ps []model.Participant) {
		sort.Slice(ps, func(i, j int) bool { return ps[i].Username < ps[j].Username })
	}
	byName(snap.Participants)
	byName(snap.CheckedIn)
	sort.Slice(snap.Votes, func(i, j int) bool {
		a, b := snap.Votes[i], snap.Votes[j]
		if !a.CastAt.Equal(b.CastAt) {
			return a.CastAt.Before(b.CastAt)
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.OptionID < b.OptionID
	})
}
