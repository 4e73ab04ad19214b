// Package database provides the shared error classification and bounded
// retry policy for PostgreSQL access.
//
// Only idempotent reads go through Retry. Writes are never retried here:
// a failed append must surface to the caller, who decides whether to
// resubmit against a freshly read session version.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnavailable indicates the backing store could not be reached.
// Check with errors.Is. The HTTP layer maps it to 503.
var ErrUnavailable = errors.New("storage unavailable")

const (
	// DefaultReadAttempts bounds Retry when callers pass attempts <= 0.
	DefaultReadAttempts = 3

	// baseBackoff doubles per attempt: 50ms, 100ms, 200ms, ...
	baseBackoff = 50 * time.Millisecond
)

// IsRetryable reports whether err is a transient connectivity failure that
// an idempotent operation may safely retry. Context cancellation is never
// retryable: the caller asked to stop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// The request never reached the server, so retrying cannot double-apply.
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return true
		}
		switch pgErr.Code {
		case pgerrcode.AdminShutdown, pgerrcode.CrashShutdown, pgerrcode.CannotConnectNow:
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUnavailable reports whether err means the backing store is unreachable,
// either already classified (ErrUnavailable) or still raw from pgx.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || IsRetryable(err)
}

// Retry runs fn up to attempts times with doubling backoff, retrying only
// failures IsRetryable reports as transient. The final transient failure is
// wrapped in ErrUnavailable so callers can classify it with one errors.Is.
//
// fn must be idempotent. attempts <= 0 uses DefaultReadAttempts.
func Retry(ctx context.Context, logger *slog.Logger, attempts int, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultReadAttempts
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			logger.Debug("retrying after transient storage error",
				"attempt", attempt+1, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, attempts, err)
}
