package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/pkg/metrics"
)

const memoryStoreName = "memory"

// MemoryStore keeps state in process and pushes a snapshot to every
// subscriber after each write.
type MemoryStore struct {
	s settings

	mu           sync.Mutex
	participants map[string]model.Participant
	checkedIn    map[string]model.Participant
	votes        map[model.VoteKey]model.Vote
	subs         map[string]func(model.Snapshot)
	closed       bool

	// deliver is taken before mu is released so snapshots reach subscribers
	// in write order.
	deliver sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		s:            newSettings(opts),
		participants: make(map[string]model.Participant),
		checkedIn:    make(map[string]model.Participant),
		votes:        make(map[model.VoteKey]model.Vote),
		subs:         make(map[string]func(model.Snapshot)),
	}
}

// Name identifies the store in logs and metrics.
func (m *MemoryStore) Name() string { return memoryStoreName }

// Subscribe registers fn and delivers the current snapshot immediately.
func (m *MemoryStore) Subscribe(ctx context.Context, fn func(model.Snapshot)) (func(), error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	m.subs[id] = fn
	snap := m.snapshotLocked()
	m.deliver.Lock()
	m.mu.Unlock()

	fn(snap)
	metrics.RecordSnapshotReceived(memoryStoreName)
	m.deliver.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	context.AfterFunc(ctx, unsubscribe)
	return unsubscribe, nil
}

// Snapshot returns a copy of the current state.
func (m *MemoryStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(), nil
}

// CheckIn records username as a participant and marks them checked in.
func (m *MemoryStore) CheckIn(ctx context.Context, username, origin string) (model.Participant, error) {
	if err := check(checkInRequest{Username: username, Origin: origin}); err != nil {
		return model.Participant{}, err
	}
	var p model.Participant
	err := m.write("check_in", func() error {
		if _, ok := m.checkedIn[username]; ok {
			return ErrAlreadyCheckedIn
		}
		p = model.Participant{Username: username, CheckedInAt: m.s.now(), OriginAddress: origin}
		m.participants[username] = p
		m.checkedIn[username] = p
		return nil
	})
	if err != nil {
		return model.Participant{}, err
	}
	return p, nil
}

// CheckOut removes username from the checked-in set. It is a no-op for
// someone who is not checked in.
func (m *MemoryStore) CheckOut(ctx context.Context, username string) error {
	if err := check(checkOutRequest{Username: username}); err != nil {
		return err
	}
	return m.write("check_out", func() error {
		delete(m.checkedIn, username)
		return nil
	})
}

// CastVote stores or replaces username's vote on optionID. guard runs under
// the store lock against the current state and the stamp time.
func (m *MemoryStore) CastVote(ctx context.Context, username string, optionID int, approve *bool, guard VoteGuard) error {
	if err := check(voteRequest{Username: username, OptionID: optionID, Approve: approve}); err != nil {
		return err
	}
	return m.write("put_vote", func() error {
		at := m.s.now()
		if guard != nil {
			if err := guard(m.snapshotLocked(), at); err != nil {
				return fmt.Errorf("%w: %w", ErrVoteRefused, err)
			}
		}
		v := model.Vote{Username: username, OptionID: optionID, Approve: *approve, CastAt: at}
		m.votes[v.Key()] = v
		return nil
	})
}

// Close drops all subscribers.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]func(model.Snapshot))
	return nil
}

func (m *MemoryStore) write(op string, apply func() error) error {
	start := time.Now()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if err := apply(); err != nil {
		m.mu.Unlock()
		return err
	}
	snap := m.snapshotLocked()
	subs := make([]func(model.Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.deliver.Lock()
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
		metrics.RecordSnapshotReceived(memoryStoreName)
	}
	m.deliver.Unlock()
	metrics.RecordStoreLatency(memoryStoreName, op, float64(time.Since(start).Microseconds())/1000)
	return nil
}

func (m *MemoryStore) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Participants:  make([]model.Participant, 0, len(m.participants)),
		CheckedIn:     make([]model.Participant, 0, len(m.checkedIn)),
		Votes:         make([]model.Vote, 0, len(m.votes)),
		QuorumSize:    m.s.quorumSize,
		SchemaVersion: m.s.version,
	}
	for _, p := range m.participants {
		snap.Participants = append(snap.Participants, p)
	}
	for _, p := range m.checkedIn {
		snap.CheckedIn = append(snap.CheckedIn, p)
	}
	for _, v := range m.votes {
		snap.Votes = append(snap.Votes, v)
	}
	normalize(&snap)
	return snap
}
