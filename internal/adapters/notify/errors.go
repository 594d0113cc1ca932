package notify

import "errors"

// Sentinel kinds for notifier errors.
var (
	ErrPublish         = errors.New("publish check-in")
	ErrUnknownNotifier = errors.New("unknown notifier")
)
