package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrValidation        = errors.New("invalid write")
	ErrAlreadyCheckedIn  = errors.New("participant already checked in")
	ErrVoteRefused       = errors.New("vote refused")
	ErrUnsupportedDriver = errors.New("unsupported sql driver")
	ErrRead              = errors.New("store read failed")
	ErrWrite             = errors.New("store write failed")
	ErrClosed            = errors.New("store closed")
)
