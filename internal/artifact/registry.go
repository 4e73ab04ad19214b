package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgx operations the registry needs. It is satisfied by
// *pgxpool.Pool and by pgx.Tx, which lets session deletion run registry
// bookkeeping inside its own transaction via WithTx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultMaxBytes caps blobs at 10 MiB unless WithMaxBytes overrides it.
const DefaultMaxBytes int64 = 10 << 20

// Registry is the content-addressed blob store.
type Registry struct {
	db       DB
	logger   *slog.Logger
	maxBytes int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxBytes sets the size ceiling enforced by Put.
func WithMaxBytes(n int64) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// New creates a Registry. A nil logger falls back to slog.Default().
func New(db DB, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		db:       db,
		logger:   logger,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithTx returns a copy of the registry bound to tx, so registry operations
// join the caller's transaction and commit or roll back with it.
func (r *Registry) WithTx(tx pgx.Tx) *Registry {
	return &Registry{
		db:       tx,
		logger:   r.logger,
		maxBytes: r.maxBytes,
	}
}

// MaxBytes returns the configured blob size ceiling.
func (r *Registry) MaxBytes() int64 {
	return r.maxBytes
}

const putSQL = `
INSERT INTO artifacts (hash, mime_type, size_bytes, ref_count, data)
VALUES ($1, $2, $3, 1, $4)
ON CONFLICT (hash) DO UPDATE
SET ref_count = artifacts.ref_count + 1, updated_at = now()
RETURNING mime_type, size_bytes, ref_count`

// Put stores data and returns its reference. Identical bytes collapse to one
// stored blob whose reference count is incremented instead; the increment
// happens in SQL so concurrent writers cannot lose it. The returned Ref
// carries the stored MIME type, which for deduplicated content is whatever
// the first writer declared.
func (r *Registry) Put(ctx context.Context, data []byte, mimeType string) (Ref, error) {
	if len(data) == 0 {
		return Ref{}, ErrEmptyData
	}
	if int64(len(data)) > r.maxBytes {
		return Ref{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), r.maxBytes)
	}

	hash := Digest(data)
	declared := NormalizeMIME(mimeType)

	var ref Ref
	var refCount int64
	ref.Hash = hash
	err := r.db.QueryRow(ctx, putSQL, hash, declared, int64(len(data)), data).
		Scan(&ref.MIME, &ref.Size, &refCount)
	if err != nil {
		return Ref{}, fmt.Errorf("put artifact %s: %w", shortHash(hash), err)
	}

	r.logger.Debug("stored artifact",
		"hash", shortHash(hash),
		"mime_type", ref.MIME,
		"size", ref.Size,
		"ref_count", refCount)
	return ref, nil
}

// Get returns the stored bytes for ref. A blob whose reference count has
// reached zero is still readable until Sweep reclaims it.
func (r *Registry) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ValidateHash(ref.Hash); err != nil {
		return nil, err
	}

	var data []byte
	err := r.db.QueryRow(ctx, `SELECT data FROM artifacts WHERE hash = $1`, ref.Hash).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact %s: %w", shortHash(ref.Hash), err)
	}
	return data, nil
}

// Stat returns blob metadata including the current reference count.
func (r *Registry) Stat(ctx context.Context, hash string) (Info, error) {
	if err := ValidateHash(hash); err != nil {
		return Info{}, err
	}

	info := Info{Ref: Ref{Hash: hash}}
	err := r.db.QueryRow(ctx,
		`SELECT mime_type, size_bytes, ref_count, created_at, updated_at
		 FROM artifacts WHERE hash = $1`, hash).
		Scan(&info.MIME, &info.Size, &info.RefCount, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("stat artifact %s: %w", shortHash(hash), err)
	}
	return info, nil
}

// Retain increments the reference count for ref.
// Returns ErrNotFound if no such blob exists.
func (r *Registry) Retain(ctx context.Context, ref Ref) error {
	if err := ValidateHash(ref.Hash); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE artifacts SET ref_count = ref_count + 1, updated_at = now() WHERE hash = $1`,
		ref.Hash)
	if err != nil {
		return fmt.Errorf("retain artifact %s: %w", shortHash(ref.Hash), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Release decrements the reference count for ref, flooring at zero. A count
// of zero marks the blob eligible for Sweep; the bytes stay readable until
// then. Returns ErrNotFound if no such blob exists.
func (r *Registry) Release(ctx context.Context, ref Ref) error {
	if err := ValidateHash(ref.Hash); err != nil {
		return err
	}
	return r.release(ctx, ref.Hash, 1)
}

// ReleaseCounts decrements several blobs at once, typically inside a session
// deletion transaction (bind with WithTx first). Missing hashes are logged
// and skipped rather than failing the whole batch: deletion must stay
// idempotent even if a sweep already reclaimed a blob.
func (r *Registry) ReleaseCounts(ctx context.Context, counts map[string]int64) error {
	for hash, n := range counts {
		if n <= 0 {
			continue
		}
		if err := r.release(ctx, hash, n); err != nil {
			if errors.Is(err, ErrNotFound) {
				r.logger.Warn("release skipped missing artifact", "hash", shortHash(hash))
				continue
			}
			return err
		}
	}
	return nil
}

func (r *Registry) release(ctx context.Context, hash string, n int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE artifacts SET ref_count = GREATEST(ref_count - $2, 0), updated_at = now() WHERE hash = $1`,
		hash, n)
	if err != nil {
		return fmt.Errorf("release artifact %s: %w", shortHash(hash), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Debug("released artifact", "hash", shortHash(hash), "decrement", n)
	return nil
}

const sweepSQL = `
DELETE FROM artifacts a
WHERE a.ref_count <= 0
  AND NOT EXISTS (
      SELECT 1 FROM event_artifacts ea WHERE ea.artifact_hash = a.hash)`

// Sweep deletes blobs whose reference count has reached zero and returns how
// many were reclaimed. Blobs still cited by an event are skipped even at
// count zero (a manual Release can under-count; the citation wins). A
// concurrent Put either re-inserts the row fresh or bumps the count above
// zero before the delete scans it.
func (r *Registry) Sweep(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, sweepSQL)
	if err != nil {
		return 0, fmt.Errorf("sweep artifacts: %w", err)
	}

	reclaimed := tag.RowsAffected()
	if reclaimed > 0 {
		r.logger.Info("swept artifacts", "reclaimed", reclaimed)
	}
	return reclaimed, nil
}

// shortHash abbreviates a content hash for log lines.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
