// Package model contains domain models passed between layers.
package model

import "time"

// SchemaVersion tags snapshots written by this build. Readers compare it with
// the version carried on a snapshot to flag mixed deployments.
const SchemaVersion = "2"

// DefaultQuorumSize is used when a snapshot carries no usable quorum size.
const DefaultQuorumSize = 2

// Participant is a checked-in (or previously checked-in) user.
type Participant struct {
	Username      string    `json:"username"`
	CheckedInAt   time.Time `json:"checked_in_at"`
	OriginAddress string    `json:"origin_address"`
}

// Option is a candidate choice from the configured catalog.
type Option struct {
	ID        int    `json:"id" koanf:"id"`
	Name      string `json:"name" koanf:"name"`
	URL       string `json:"url" koanf:"url"`
	PriceTier int    `json:"price_tier" koanf:"price_tier"`
}

// Vote is a single yes/no vote keyed by (Username, OptionID).
type Vote struct {
	Username string    `json:"username"`
	OptionID int       `json:"option_id"`
	Approve  bool      `json:"approve"`
	CastAt   time.Time `json:"cast_at"`
}

// Key returns the identity a vote overwrites on.
func (v Vote) Key() VoteKey { return VoteKey{Username: v.Username, OptionID: v.OptionID} }

// VoteKey identifies the single live vote of a user on an option.
type VoteKey struct {
	Username string
	OptionID int
}

// Snapshot is the full observed state delivered by a state source.
// Each snapshot replaces the previous one wholesale.
type Snapshot struct {
	Participants  []Participant `json:"participants"`
	CheckedIn     []Participant `json:"checked_in"`
	Votes         []Vote        `json:"votes"`
	QuorumSize    int           `json:"quorum_size"`
	SchemaVersion string        `json:"schema_version"`
}

// EffectiveQuorum returns the configured quorum size, never less than one.
func (s Snapshot) EffectiveQuorum() int {
	if s.QuorumSize < 1 {
		return DefaultQuorumSize
	}
	return s.QuorumSize
}
