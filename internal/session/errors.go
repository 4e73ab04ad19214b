package session

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// History window constants.
// These MUST match internal/config package constants to maintain consistency.
const (
	// DefaultHistoryLimit is the default number of events returned per read.
	// Matches config.DefaultHistoryLimit for consistency.
	DefaultHistoryLimit int32 = 100

	// MaxHistoryLimit is the absolute maximum to prevent OOM.
	// Matches config.MaxAllowedHistoryLimit for consistency.
	MaxHistoryLimit int32 = 10000
)

// MaxIdentifierBytes bounds app_name, user_id and session_id lengths.
const MaxIdentifierBytes = 512

// DefaultCreateAttempts bounds how many generated ids CreateSession tries
// before giving up.
const DefaultCreateAttempts = 3

// Sentinel errors for session operations.
// These errors are part of the Store's public API and should be checked using errors.Is().
//
// Example:
//
//	sess, err := store.GetSession(ctx, key)
//	if errors.Is(err, session.ErrSessionNotFound) {
//	    // Handle missing session
//	}
var (
	// ErrSessionNotFound indicates the requested session does not exist in the database.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAlreadyExists indicates a caller-supplied session id collides with
	// an existing session in the same (app_name, user_id) scope.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrConflict indicates the caller's expected version is stale: another
	// append committed since the caller last read the session.
	ErrConflict = errors.New("session version conflict")

	// ErrInvalidArgument indicates malformed input rejected before any SQL ran.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExhaustedRetries indicates every generated session id collided
	// within the configured attempt budget.
	ErrExhaustedRetries = errors.New("exhausted retries")

	// ErrArtifactNotFound indicates an event's file part cites an artifact
	// hash that is not in the registry.
	ErrArtifactNotFound = errors.New("referenced artifact not found")
)

// NormalizeHistoryLimit replaces a non-positive history limit with
// DefaultHistoryLimit and clamps to MaxHistoryLimit.
func NormalizeHistoryLimit(limit int32) int32 {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// validateIdentifier rejects identifiers that are empty, longer than
// MaxIdentifierBytes, or contain control characters.
func validateIdentifier(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidArgument, field)
	}
	if len(value) > MaxIdentifierBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidArgument, field, MaxIdentifierBytes)
	}
	for i := 0; i < len(value); i++ {
		if c := value[i]; c < 0x20 || c == 0x7f {
			return fmt.Errorf("%w: %s contains control character at byte %d", ErrInvalidArgument, field, i)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// isForeignKeyViolation reports whether err is PostgreSQL foreign_key_violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
