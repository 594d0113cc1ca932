package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/go-sql-driver/mysql" // mysql driver
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/lunchvote/internal/domain/model"
	"github.com/okian/lunchvote/pkg/logger"
	"github.com/okian/lunchvote/pkg/metrics"
)

// Supported database/sql driver names.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Statements are shared by both drivers: `?` placeholders and REPLACE INTO
// are understood by sqlite and MySQL alike.
var schema = []string{ //nolint:gochecknoglobals // static DDL
	`CREATE TABLE IF NOT EXISTS lunch_participants (
		username VARCHAR(191) NOT NULL PRIMARY KEY,
		checked_in_at BIGINT NOT NULL,
		origin_address VARCHAR(191) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS lunch_checked_in (
		username VARCHAR(191) NOT NULL PRIMARY KEY,
		checked_in_at BIGINT NOT NULL,
		origin_address VARCHAR(191) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS lunch_votes (
		username VARCHAR(191) NOT NULL,
		option_id INTEGER NOT NULL,
		approve BOOLEAN NOT NULL,
		cast_at BIGINT NOT NULL,
		PRIMARY KEY (username, option_id)
	)`,
	`CREATE TABLE IF NOT EXISTS lunch_meta (
		name VARCHAR(64) NOT NULL PRIMARY KEY,
		value VARCHAR(191) NOT NULL
	)`,
}

const (
	metaQuorumSize    = "quorum_size"
	metaSchemaVersion = "schema_version"

	qPutMeta         = `REPLACE INTO lunch_meta (name, value) VALUES (?, ?)`
	qSelectMeta      = `SELECT name, value FROM lunch_meta`
	qSelectUsers     = `SELECT username, checked_in_at, origin_address FROM lunch_participants`
	qSelectCheckedIn = `SELECT username, checked_in_at, origin_address FROM lunch_checked_in`
	qSelectVotes     = `SELECT username, option_id, approve, cast_at FROM lunch_votes`
	qIsCheckedIn     = `SELECT COUNT(*) FROM lunch_checked_in WHERE username = ?`
	qPutUser         = `REPLACE INTO lunch_participants (username, checked_in_at, origin_address) VALUES (?, ?, ?)`
	qPutCheckedIn    = `INSERT INTO lunch_checked_in (username, checked_in_at, origin_address) VALUES (?, ?, ?)`
	qDeleteCheckedIn = `DELETE FROM lunch_checked_in WHERE username = ?`
	qPutVote         = `REPLACE INTO lunch_votes (username, option_id, approve, cast_at) VALUES (?, ?, ?, ?)`

	// qLockVotes serializes guarded votes across MySQL clients. sqlite
	// transactions are already serialized by the single connection.
	qLockVotes = `SELECT value FROM lunch_meta WHERE name = ? FOR UPDATE`
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore keeps state in a database shared by every client. Subscribers
// poll it and receive a snapshot whenever its content changes.
type SQLStore struct {
	db     *sql.DB
	driver string
	s      settings
	log    logger.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	wg     sync.WaitGroup
}

// OpenSQL opens dsn with driver, verifies the connection and migrates the schema.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverMySQL {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	st := NewSQLStore(db, driver, opts...)
	if err := st.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// NewSQLStore wraps an open database. Call Migrate before use.
func NewSQLStore(db *sql.DB, driver string, opts ...Option) *SQLStore {
	s := newSettings(opts)
	return &SQLStore{
		db:     db,
		driver: driver,
		s:      s,
		log:    s.logger.Named(driver),
		subs:   make(map[string]*subscription),
	}
}

type subscription struct {
	kick   chan struct{}
	cancel context.CancelFunc
}

// Name identifies the store in logs and metrics.
func (st *SQLStore) Name() string { return st.driver }

// Migrate creates missing tables and publishes this instance's quorum size
// and schema version.
func (st *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := st.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", ErrWrite, err)
		}
	}
	if _, err := st.db.ExecContext(ctx, qPutMeta, metaQuorumSize, strconv.Itoa(st.s.quorumSize)); err != nil {
		return fmt.Errorf("%w: quorum size: %w", ErrWrite, err)
	}
	if _, err := st.db.ExecContext(ctx, qPutMeta, metaSchemaVersion, st.s.version); err != nil {
		return fmt.Errorf("%w: schema version: %w", ErrWrite, err)
	}
	return nil
}

// Snapshot reads the whole state.
func (st *SQLStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	start := time.Now()
	snap, err := st.read(ctx, st.db)
	if err != nil {
		metrics.RecordStoreError(st.driver, "snapshot")
		return model.Snapshot{}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	metrics.RecordStoreLatency(st.driver, "snapshot", float64(time.Since(start).Microseconds())/1000)
	return snap, nil
}

func (st *SQLStore) read(ctx context.Context, q querier) (model.Snapshot, error) {
	snap := model.Snapshot{QuorumSize: model.DefaultQuorumSize}

	rows, err := q.QueryContext(ctx, qSelectMeta)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			_ = rows.Close()
			return snap, err
		}
		switch name {
		case metaQuorumSize:
			if n, err := strconv.Atoi(value); err == nil {
				snap.QuorumSize = n
			}
		case metaSchemaVersion:
			snap.SchemaVersion = value
		}
	}
	if err := closeRows(rows); err != nil {
		return snap, err
	}

	if snap.Participants, err = participants(ctx, q, qSelectUsers); err != nil {
		return snap, err
	}
	if snap.CheckedIn, err = participants(ctx, q, qSelectCheckedIn); err != nil {
		return snap, err
	}

	rows, err = q.QueryContext(ctx, qSelectVotes)
	if err != nil {
		return snap, err
	}
	snap.Votes = []model.Vote{}
	for rows.Next() {
		var (
			v      model.Vote
			castAt int64
		)
		if err := rows.Scan(&v.Username, &v.OptionID, &v.Approve, &castAt); err != nil {
			_ = rows.Close()
			return snap, err
		}
		v.CastAt = time.UnixMilli(castAt).UTC()
		snap.Votes = append(snap.Votes, v)
	}
	if err := closeRows(rows); err != nil {
		return snap, err
	}

	normalize(&snap)
	return snap, nil
}

func participants(ctx context.Context, q querier, query string) ([]model.Participant, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	out := []model.Participant{}
	for rows.Next() {
		var (
			p  model.Participant
			at int64
		)
		if err := rows.Scan(&p.Username, &at, &p.OriginAddress); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p.CheckedInAt = time.UnixMilli(at).UTC()
		out = append(out, p)
	}
	return out, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

// CheckIn records username as a participant and marks them checked in.
func (st *SQLStore) CheckIn(ctx context.Context, username, origin string) (model.Participant, error) {
	if err := check(checkInRequest{Username: username, Origin: origin}); err != nil {
		return model.Participant{}, err
	}
	at := st.s.now().UnixMilli()
	err := st.write(ctx, "check_in", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, qIsCheckedIn, username).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyCheckedIn
		}
		if _, err := tx.ExecContext(ctx, qPutUser, username, at, origin); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, qPutCheckedIn, username, at, origin)
		return err
	})
	if err != nil {
		return model.Participant{}, err
	}
	return model.Participant{Username: username, CheckedInAt: time.UnixMilli(at).UTC(), OriginAddress: origin}, nil
}

// CheckOut removes username from the checked-in set.
func (st *SQLStore) CheckOut(ctx context.Context, username string) error {
	if err := check(checkOutRequest{Username: username}); err != nil {
		return err
	}
	return st.write(ctx, "check_out", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, qDeleteCheckedIn, username)
		return err
	})
}

// CastVote stores or replaces username's vote on optionID. guard runs inside
// the write transaction against the state it reads and the stamp time.
func (st *SQLStore) CastVote(ctx context.Context, username string, optionID int, approve *bool, guard VoteGuard) error {
	if err := check(voteRequest{Username: username, OptionID: optionID, Approve: approve}); err != nil {
		return err
	}
	return st.write(ctx, "put_vote", func(tx *sql.Tx) error {
		at := st.s.now()
		if guard != nil {
			var err error
			if at, err = st.guard(ctx, tx, guard); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, qPutVote, username, optionID, *approve, at.UnixMilli())
		return err
	})
}

// guard checks a vote against the state visible to tx and returns the
// instant to stamp it with. On MySQL it first takes a row lock that every
// guarded vote contends for, so the stamp is taken after earlier votes commit.
func (st *SQLStore) guard(ctx context.Context, tx *sql.Tx, guard VoteGuard) (time.Time, error) {
	if st.driver == DriverMySQL {
		var v string
		if err := tx.QueryRowContext(ctx, qLockVotes, metaQuorumSize).Scan(&v); err != nil {
			return time.Time{}, err
		}
	}
	snap, err := st.read(ctx, tx)
	if err != nil {
		return time.Time{}, err
	}
	// Stored stamps have millisecond precision.
	at := st.s.now().Truncate(time.Millisecond)
	if err := guard(snap, at); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrVoteRefused, err)
	}
	return at, nil
}

func (st *SQLStore) write(ctx context.Context, op string, apply func(tx *sql.Tx) error) error {
	if st.isClosed() {
		return ErrClosed
	}
	start := time.Now()
	err := st.inTx(ctx, apply)
	switch {
	case errors.Is(err, ErrAlreadyCheckedIn), errors.Is(err, ErrVoteRefused):
		return err
	case err != nil:
		metrics.RecordStoreError(st.driver, op)
		return fmt.Errorf("%w: %s: %w", ErrWrite, op, err)
	}
	metrics.RecordStoreLatency(st.driver, op, float64(time.Since(start).Microseconds())/1000)
	st.kick()
	return nil
}

func (st *SQLStore) inTx(ctx context.Context, apply func(tx *sql.Tx) error) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := apply(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Subscribe polls for changes and delivers a snapshot whenever the state
// differs from the last one delivered. The first snapshot is read before
// Subscribe returns.
func (st *SQLStore) Subscribe(ctx context.Context, fn func(model.Snapshot)) (func(), error) {
	first, err := st.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{kick: make(chan struct{}, 1), cancel: cancel}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	st.subs[id] = sub
	st.wg.Add(1)
	st.mu.Unlock()

	fn(first)
	metrics.RecordSnapshotReceived(st.driver)

	go func() {
		defer st.wg.Done()
		st.poll(pollCtx, sub.kick, fingerprint(first), fn)
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			st.mu.Lock()
			delete(st.subs, id)
			st.mu.Unlock()
		})
	}
	context.AfterFunc(pollCtx, unsubscribe)
	return unsubscribe, nil
}

func (st *SQLStore) poll(ctx context.Context, kick <-chan struct{}, last uint64, fn func(model.Snapshot)) {
	ticker := time.NewTicker(st.s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}

		snap, err := st.Snapshot(ctx)
		if err != nil {
			if ctx.Err() == nil {
				st.log.Warn(ctx, "poll failed", logger.Error(err))
			}
			continue
		}
		if fp := fingerprint(snap); fp != last {
			last = fp
			fn(snap)
			metrics.RecordSnapshotReceived(st.driver)
		}
	}
}

// kick wakes every local subscriber so writes made through this store are
// seen without waiting for the next tick.
func (st *SQLStore) kick() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, sub := range st.subs {
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
}

func (st *SQLStore) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// Close stops all subscriptions and closes the database.
func (st *SQLStore) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	for id, sub := range st.subs {
		sub.cancel()
		delete(st.subs, id)
	}
	st.mu.Unlock()

	st.wg.Wait()
	return st.db.Close()
}

func fingerprint(snap model.Snapshot) uint64 {
	b, err := json.Marshal(snap)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
