package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
	"github.com/Greyisheep/database-session-demo/internal/database"
)

// querier is the subset of pgx operations shared by *pgxpool.Pool and
// pgx.Tx, so the read helpers run equally inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages session, event, state and artifact-reference persistence
// with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines. All state lives
// in PostgreSQL; per-session writes serialize on a SELECT ... FOR UPDATE
// row lock, so appends to one session are linear while different sessions
// proceed in parallel.
type Store struct {
	pool      *pgxpool.Pool
	artifacts *artifact.Registry
	logger    *slog.Logger

	idGen          func() string
	createAttempts int
	readAttempts   int
	historyLimit   int32
	maxArtifact    int64
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the generated-session-id source (default
// uuid.NewString). Tests inject deterministic generators to exercise
// collision handling.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.idGen = gen
		}
	}
}

// WithCreateAttempts bounds how many generated ids CreateSession tries
// before giving up with ErrExhaustedRetries.
func WithCreateAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.createAttempts = n
		}
	}
}

// WithReadAttempts bounds the transient-failure retries on idempotent
// reads. Writes are never retried.
func WithReadAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.readAttempts = n
		}
	}
}

// WithHistoryLimit sets the default history window GetSession returns when
// no GetOption overrides it.
func WithHistoryLimit(n int32) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = NormalizeHistoryLimit(n)
		}
	}
}

// WithMaxArtifactBytes sets the blob size ceiling on the store's artifact
// registry.
func WithMaxArtifactBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxArtifact = n
		}
	}
}

// New creates a Store backed by pool.
//
// Parameters:
//   - pool: PostgreSQL connection pool (shared with the artifact registry)
//   - logger: Logger for debugging (nil = use default)
//   - opts: optional overrides for id generation, retry budgets and the
//     default history window
func New(pool *pgxpool.Pool, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		pool:           pool,
		logger:         logger,
		idGen:          uuid.NewString,
		createAttempts: DefaultCreateAttempts,
		readAttempts:   database.DefaultReadAttempts,
		historyLimit:   DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	var regOpts []artifact.Option
	if s.maxArtifact > 0 {
		regOpts = append(regOpts, artifact.WithMaxBytes(s.maxArtifact))
	}
	s.artifacts = artifact.New(pool, logger, regOpts...)
	return s
}

// Artifacts returns the registry the store releases references against.
// Callers use it to upload blobs before citing them in events and to read
// them back by hash.
func (s *Store) Artifacts() *artifact.Registry {
	return s.artifacts
}

const insertSessionSQL = `
INSERT INTO sessions (app_name, user_id, id)
VALUES ($1, $2, $3)
RETURNING created_at, updated_at`

// CreateSession creates a new session and writes its initial state in one
// transaction.
//
// Parameters:
//   - appName, userID: owning scope, validated before any SQL runs
//   - id: caller-supplied session id, or "" to generate a UUID (colliding
//     generated ids are retried up to the configured attempt budget)
//   - initialState: optional state delta routed across scopes by prefix
//
// Returns:
//   - *Session: the created session with its flattened state snapshot
//     (which includes user- and app-scope keys written by earlier sessions)
//   - error: ErrAlreadyExists for a colliding caller-supplied id,
//     ErrExhaustedRetries when every generated id collided
func (s *Store) CreateSession(ctx context.Context, appName, userID, id string, initialState map[string]any) (*Session, error) {
	if err := validateIdentifier("app_name", appName); err != nil {
		return nil, err
	}
	if err := validateIdentifier("user_id", userID); err != nil {
		return nil, err
	}
	supplied := id != ""
	if supplied {
		if err := validateIdentifier("session_id", id); err != nil {
			return nil, err
		}
	}
	// Route the delta up front so an invalid key never burns a generated id.
	if _, err := splitDelta(initialState); err != nil {
		return nil, err
	}

	attempts := 1
	if !supplied {
		attempts = s.createAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if !supplied {
			id = s.idGen()
		}
		key := Key{AppName: appName, UserID: userID, ID: id}

		sess, err := s.createOnce(ctx, key, initialState)
		if err == nil {
			s.logger.Debug("created session", "session", key, "attempt", attempt)
			return sess, nil
		}
		if errors.Is(err, ErrAlreadyExists) && !supplied {
			s.logger.Warn("generated session id collided",
				"session", key, "attempt", attempt)
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("%w: %d generated session ids collided", ErrExhaustedRetries, attempts)
}

// createOnce runs a single insert attempt in its own transaction.
func (s *Store) createOnce(ctx context.Context, key Key, initialState map[string]any) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	sess := &Session{Key: key, Events: []Event{}}
	err = tx.QueryRow(ctx, insertSessionSQL, key.AppName, key.UserID, key.ID).
		Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("session %s: %w", key, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create session %s: %w", key, err)
	}

	if err := s.mergeStateTx(ctx, tx, key, initialState); err != nil {
		return nil, err
	}

	sess.State, err = snapshotQ(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sess, nil
}

const selectSessionSQL = `
SELECT event_count, created_at, updated_at
FROM sessions
WHERE app_name = $1 AND user_id = $2 AND id = $3`

// GetSession retrieves a session with its flattened state snapshot and a
// bounded window of recent history.
//
// The read runs in one repeatable-read transaction, so version, state and
// events all describe the same instant. The history window defaults to the
// store's configured limit; override it with WithRecentEvents or
// WithEventsFrom. Transient connectivity failures are retried (the read is
// idempotent).
//
// Returns ErrSessionNotFound if no such session exists.
func (s *Store) GetSession(ctx context.Context, key Key, opts ...GetOption) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	cfg := getConfig{recent: s.historyLimit}
	for _, opt := range opts {
		opt(&cfg)
	}

	var sess *Session
	err := database.Retry(ctx, s.logger, s.readAttempts, func(ctx context.Context) error {
		var err error
		sess, err = s.getSessionOnce(ctx, key, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("retrieved session",
		"session", key, "version", sess.EventCount, "events", len(sess.Events))
	return sess, nil
}

func (s *Store) getSessionOnce(ctx context.Context, key Key, cfg getConfig) (*Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	sess := &Session{Key: key, Events: []Event{}}
	err = tx.QueryRow(ctx, selectSessionSQL, key.AppName, key.UserID, key.ID).
		Scan(&sess.EventCount, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", key, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}

	if cfg.hasFrom || cfg.recent > 0 {
		fromSeq := cfg.fromSeq
		if !cfg.hasFrom {
			// Sequence numbers are gap-free, so the last n events are
			// exactly those above event_count - n.
			fromSeq = sess.EventCount - int64(cfg.recent)
			if fromSeq < 0 {
				fromSeq = 0
			}
		}
		sess.Events, err = readEvents(ctx, tx, key, fromSeq, MaxHistoryLimit)
		if err != nil {
			return nil, err
		}
	}

	sess.State, err = snapshotQ(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sess, nil
}

const listSessionsSQL = `
SELECT id, event_count, created_at, updated_at
FROM sessions
WHERE app_name = $1 AND user_id = $2
ORDER BY updated_at DESC`

// ListSessions returns summaries of a user's sessions, most recently
// updated first. Summaries never carry event bodies; use GetSession for
// history. Single query, retried on transient failure.
func (s *Store) ListSessions(ctx context.Context, appName, userID string) ([]Summary, error) {
	if err := validateIdentifier("app_name", appName); err != nil {
		return nil, err
	}
	if err := validateIdentifier("user_id", userID); err != nil {
		return nil, err
	}

	var summaries []Summary
	err := database.Retry(ctx, s.logger, s.readAttempts, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, listSessionsSQL, appName, userID)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		defer rows.Close()

		summaries = summaries[:0]
		for rows.Next() {
			sum := Summary{Key: Key{AppName: appName, UserID: userID}}
			if err := rows.Scan(&sum.Key.ID, &sum.EventCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan session summary: %w", err)
			}
			summaries = append(summaries, sum)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("listed sessions",
		"app_name", appName, "user_id", userID, "count", len(summaries))
	return summaries, nil
}

const lockSessionSQL = `
SELECT event_count, created_at
FROM sessions
WHERE app_name = $1 AND user_id = $2 AND id = $3
FOR UPDATE`

const bumpSessionSQL = `
UPDATE sessions
SET event_count = $4, updated_at = now()
WHERE app_name = $1 AND user_id = $2 AND id = $3
RETURNING updated_at`

// AppendEvent appends one event to a session's history. It is the only
// write path for conversation turns.
//
// Everything happens in a single transaction: the session row is locked
// with SELECT ... FOR UPDATE, the caller's expected version is checked
// against event_count, the event receives the next sequence number, its
// state delta is merged into the scope keyspaces, reference rows are
// written for cited artifacts, and the session's version and update time
// advance. If any step fails the whole append rolls back.
//
// Parameters:
//   - key: session identity
//   - expectedVersion: the event count the caller last observed
//   - ev: author, parts and optional state delta; Seq and CreatedAt are
//     assigned by the store
//
// Returns:
//   - *Session: the updated session (fresh state snapshot and version,
//     no event bodies)
//   - error: ErrSessionNotFound, ErrConflict when expectedVersion is
//     stale, ErrArtifactNotFound when a file part cites an unknown hash
func (s *Store) AppendEvent(ctx context.Context, key Key, expectedVersion int64, ev Event) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	sess := &Session{Key: key, Events: []Event{}}
	var version int64
	err = tx.QueryRow(ctx, lockSessionSQL, key.AppName, key.UserID, key.ID).
		Scan(&version, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", key, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", key, err)
	}

	if version != expectedVersion {
		return nil, fmt.Errorf("%w: session %s is at version %d, caller expected %d",
			ErrConflict, key, version, expectedVersion)
	}

	seq := version + 1
	if err := s.appendEventTx(ctx, tx, key, seq, &ev); err != nil {
		return nil, err
	}

	if err := s.mergeStateTx(ctx, tx, key, ev.StateDelta); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, bumpSessionSQL, key.AppName, key.UserID, key.ID, seq).
		Scan(&sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", key, err)
	}
	sess.EventCount = seq

	sess.State, err = snapshotQ(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("appended event",
		"session", key, "seq", seq, "author", ev.Author, "parts", len(ev.Parts))
	return sess, nil
}

const aggregateRefsSQL = `
SELECT artifact_hash, COUNT(*)
FROM event_artifacts
WHERE app_name = $1 AND user_id = $2 AND session_id = $3
GROUP BY artifact_hash`

const deleteSessionStateSQL = `
DELETE FROM state
WHERE scope = 'session' AND app_name = $1 AND user_id = $2 AND session_id = $3`

const deleteSessionSQL = `
DELETE FROM sessions
WHERE app_name = $1 AND user_id = $2 AND id = $3`

// DeleteSession removes a session with its events, artifact reference rows
// and session-scope state, and decrements the reference count of every
// artifact the session's events cited (once per citing event). User- and
// app-scope state survives; the blobs themselves stay in the registry
// until Sweep reclaims the unreferenced ones.
//
// Idempotent: deleting an absent session returns (false, nil).
func (s *Store) DeleteSession(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	// Lock first so a concurrent append cannot add reference rows between
	// the aggregation and the delete.
	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM sessions WHERE app_name = $1 AND user_id = $2 AND id = $3 FOR UPDATE`,
		key.AppName, key.UserID, key.ID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock session %s: %w", key, err)
	}

	counts, err := s.aggregateRefs(ctx, tx, key)
	if err != nil {
		return false, err
	}
	if len(counts) > 0 {
		if err := s.artifacts.WithTx(tx).ReleaseCounts(ctx, counts); err != nil {
			return false, fmt.Errorf("failed to release artifacts of session %s: %w", key, err)
		}
	}

	if _, err := tx.Exec(ctx, deleteSessionStateSQL, key.AppName, key.UserID, key.ID); err != nil {
		return false, fmt.Errorf("failed to delete state of session %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx, deleteSessionSQL, key.AppName, key.UserID, key.ID); err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("deleted session", "session", key, "released_artifacts", len(counts))
	return true, nil
}

// aggregateRefs counts this session's reference rows per artifact hash.
func (s *Store) aggregateRefs(ctx context.Context, q querier, key Key) (map[string]int64, error) {
	rows, err := q.Query(ctx, aggregateRefsSQL, key.AppName, key.UserID, key.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate artifact references: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var hash string
		var n int64
		if err := rows.Scan(&hash, &n); err != nil {
			return nil, fmt.Errorf("failed to scan artifact reference: %w", err)
		}
		counts[hash] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate artifact references: %w", err)
	}
	return counts, nil
}
