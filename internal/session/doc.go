// Package session provides persistent conversation sessions backed by
// PostgreSQL.
//
// A session is the unit of conversation continuity for one user of one
// application: an append-only event log, scoped key/value state and links
// to binary artifacts, all behind the composite identity
// (app_name, user_id, session_id).
//
// Key operations:
//
//   - Session lifecycle: [Store.CreateSession], [Store.GetSession], [Store.ListSessions], [Store.DeleteSession]
//   - Turn persistence: [Store.AppendEvent] (transaction-safe, optimistic version check)
//   - History and state reads: [Store.Events], [Store.Snapshot]
//
// # Transaction Safety
//
// [Store.AppendEvent] uses SELECT ... FOR UPDATE to lock the session row,
// so concurrent appends to one session serialize and sequence numbers stay
// gap-free. The expected-version check runs under that lock; a stale caller
// gets [ErrConflict] instead of a lost update. If any step fails, the
// entire transaction rolls back: a reader never observes an event without
// its state change or vice versa.
//
// # State Scopes
//
// Event state deltas address three scopes through key prefixes: "app:" for
// application-wide keys, "user:" for keys shared across one user's
// sessions, no prefix for session-local keys. "temp:" keys are discarded
// without being persisted. Reads flatten the scopes into bare keys with
// session winning over user winning over app.
//
// # Concurrency
//
// Store is safe for concurrent use. All state lives in PostgreSQL;
// no shared Go-side state exists. Session locking and transaction
// isolation handle concurrent access.
//
// # Local State
//
// [SaveCurrent] and [LoadCurrent] persist the CLI's active session bookmark
// to the config directory using atomic writes (temp file + rename) with
// file locking via [github.com/gofrs/flock].
package session
