package model

import "time"

// Status is the derived resolution state of an option. It is computed, never stored.
type Status string

const (
	StatusUndecided    Status = "undecided"
	StatusPendingGrace Status = "pending-grace"
	StatusResolvedYes  Status = "resolved-yes"
	StatusResolvedNo   Status = "resolved-no"
)

// Final reports whether the status can no longer change.
func (s Status) Final() bool {
	return s == StatusResolvedYes || s == StatusResolvedNo
}

// Open reports whether participants may still vote on an option with this status.
func (s Status) Open() bool {
	return s == StatusUndecided || s == StatusPendingGrace
}

// Chosen mirrors the tri-state "chosen" flag: nil while undecided or in grace.
func (s Status) Chosen() *bool {
	switch s {
	case StatusResolvedYes:
		t := true
		return &t
	case StatusResolvedNo:
		f := false
		return &f
	default:
		return nil
	}
}

// Tally counts the votes taken into account for an option.
type Tally struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}

// Total returns the number of counted votes.
func (t Tally) Total() int { return t.Yes + t.No }

// OptionStatus is an option together with its resolution.
type OptionStatus struct {
	Option Option `json:"option"`
	Status Status `json:"status"`
	Tally  Tally  `json:"tally"`
	// GracePeriodEnd is set only while Status is StatusPendingGrace.
	GracePeriodEnd *time.Time `json:"grace_period_end,omitempty"`
	// ResolvedAt is the instant the option became final.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// View is the derived state handed to renderers.
type View struct {
	// Connected is false until a snapshot has been observed. A disconnected
	// view is always empty and is distinct from a legitimately empty one.
	Connected           bool           `json:"connected"`
	IncompatibleVersion bool           `json:"incompatible_version"`
	StartOfDay          time.Time      `json:"start_of_day"`
	Options             []OptionStatus `json:"options"`
	Current             *OptionStatus  `json:"current,omitempty"`
	Participants        []Participant  `json:"participants"`
	CheckedIn           []Participant  `json:"checked_in"`
	VotesForCurrent     []Vote         `json:"votes_for_current"`
	GracePeriodEnd      *time.Time     `json:"grace_period_end,omitempty"`
	Me                  *Participant   `json:"me,omitempty"`
}

// Identity carries what the caller knows about itself.
type Identity struct {
	// Username is an explicit override; when set it wins over Origin.
	Username string
	// Origin is the caller's network address.
	Origin string
}
