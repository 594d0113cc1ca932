package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidFilter   = errors.New("invalid catalog filter")
	ErrInvalidOption   = errors.New("invalid catalog option")
)
