package service

import (
	"errors"

	"github.com/okian/lunchvote/internal/adapters/repository"
)

// Sentinel kinds for service errors.
var (
	ErrValidation       = repository.ErrValidation
	ErrAlreadyCheckedIn = repository.ErrAlreadyCheckedIn
	ErrUnknownOption    = errors.New("unknown option")
	ErrOptionResolved   = errors.New("option already resolved")
	ErrNotify           = errors.New("check-in notification failed")
	ErrNotStarted       = errors.New("service not started")

	ErrIdentityLocked     = errors.New("session identity already set")
	ErrNoIdentity         = errors.New("session has no identity")
	ErrNoActiveOption     = errors.New("no option is open for voting")
	ErrUnknownParticipant = errors.New("participant unknown")
)
