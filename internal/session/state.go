package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Greyisheep/database-session-demo/internal/database"
)

// State scopes. The names are also the literal values of the state table's
// scope column.
const (
	ScopeApp     = "app"
	ScopeUser    = "user"
	ScopeSession = "session"
)

// Delta key prefixes route a key to its scope. The prefix is stripped
// before storage; temp-prefixed keys are discarded without being persisted.
const (
	PrefixApp  = "app:"
	PrefixUser = "user:"
	PrefixTemp = "temp:"
)

// scopeOrder fixes the iteration order over scopes so that merges write rows
// deterministically and flatten applies precedence lowest to highest.
var scopeOrder = [3]string{ScopeApp, ScopeUser, ScopeSession}

// splitDelta routes delta keys to scopes by prefix, stripping the prefix.
// temp: keys are dropped. A key left empty after stripping (or empty to
// begin with) is invalid. Pure; no database access.
func splitDelta(delta map[string]any) (map[string]map[string]any, error) {
	scoped := make(map[string]map[string]any, len(scopeOrder))
	put := func(scope, key string, value any) {
		m := scoped[scope]
		if m == nil {
			m = make(map[string]any)
			scoped[scope] = m
		}
		m[key] = value
	}

	for key, value := range delta {
		switch {
		case strings.HasPrefix(key, PrefixTemp):
			continue
		case strings.HasPrefix(key, PrefixApp):
			k := strings.TrimPrefix(key, PrefixApp)
			if k == "" {
				return nil, fmt.Errorf("%w: state key %q has no name after prefix", ErrInvalidArgument, key)
			}
			put(ScopeApp, k, value)
		case strings.HasPrefix(key, PrefixUser):
			k := strings.TrimPrefix(key, PrefixUser)
			if k == "" {
				return nil, fmt.Errorf("%w: state key %q has no name after prefix", ErrInvalidArgument, key)
			}
			put(ScopeUser, k, value)
		default:
			if key == "" {
				return nil, fmt.Errorf("%w: empty state key", ErrInvalidArgument)
			}
			put(ScopeSession, key, value)
		}
	}
	return scoped, nil
}

// flatten composes the scope maps into the view handed to callers: bare
// keys, precedence session over user over app on collision. Pure.
func flatten(scoped map[string]map[string]any) map[string]any {
	flat := make(map[string]any)
	for _, scope := range scopeOrder {
		for k, v := range scoped[scope] {
			flat[k] = v
		}
	}
	return flat
}

// scopeIDs returns the user_id and session_id column values for a scope's
// rows. Scopes that do not use a column store the empty string, keeping one
// primary-key shape across all three keyspaces.
func scopeIDs(scope string, key Key) (userID, sessionID string) {
	switch scope {
	case ScopeUser:
		return key.UserID, ""
	case ScopeSession:
		return key.UserID, key.ID
	default:
		return "", ""
	}
}

const upsertStateSQL = `
INSERT INTO state (scope, app_name, user_id, session_id, key, value)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (scope, app_name, user_id, session_id, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

const deleteStateSQL = `
DELETE FROM state
WHERE scope = $1 AND app_name = $2 AND user_id = $3 AND session_id = $4 AND key = $5`

// mergeStateTx folds a routed delta into the state keyspaces within the
// caller's transaction. A nil value is an explicit tombstone that deletes
// the key; keys are never deleted implicitly. Rows are written in fixed
// (scope, key) order so concurrent merges touching the same keys cannot
// deadlock.
func (s *Store) mergeStateTx(ctx context.Context, q querier, key Key, delta map[string]any) error {
	if len(delta) == 0 {
		return nil
	}
	scoped, err := splitDelta(delta)
	if err != nil {
		return err
	}

	for _, scope := range scopeOrder {
		entries := scoped[scope]
		if len(entries) == 0 {
			continue
		}
		userID, sessionID := scopeIDs(scope, key)

		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			v := entries[k]
			if v == nil {
				if _, err := q.Exec(ctx, deleteStateSQL, scope, key.AppName, userID, sessionID, k); err != nil {
					return fmt.Errorf("failed to delete state key %q: %w", k, err)
				}
				continue
			}
			value, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("%w: state key %q: %v", ErrInvalidArgument, k, err)
			}
			if _, err := q.Exec(ctx, upsertStateSQL, scope, key.AppName, userID, sessionID, k, value); err != nil {
				return fmt.Errorf("failed to upsert state key %q: %w", k, err)
			}
		}
	}
	return nil
}

// snapshotSQL reads all three scopes in one statement, so the snapshot is
// consistent even outside a transaction.
const snapshotSQL = `
SELECT scope, key, value FROM state
WHERE (scope = 'app' AND app_name = $1 AND user_id = '' AND session_id = '')
   OR (scope = 'user' AND app_name = $1 AND user_id = $2 AND session_id = '')
   OR (scope = 'session' AND app_name = $1 AND user_id = $2 AND session_id = $3)`

// Snapshot returns the flattened state visible to one session: the three
// scopes composed with precedence session over user over app.
func (s *Store) Snapshot(ctx context.Context, key Key) (map[string]any, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var snap map[string]any
	err := database.Retry(ctx, s.logger, s.readAttempts, func(ctx context.Context) error {
		var err error
		snap, err = snapshotQ(ctx, s.pool, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// snapshotQ reads the snapshot on q, which may be the pool or an open
// transaction (create and append return fresh snapshots from inside theirs).
func snapshotQ(ctx context.Context, q querier, key Key) (map[string]any, error) {
	rows, err := q.Query(ctx, snapshotSQL, key.AppName, key.UserID, key.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	defer rows.Close()

	scoped := make(map[string]map[string]any, len(scopeOrder))
	for rows.Next() {
		var scope, k string
		var raw []byte
		if err := rows.Scan(&scope, &k, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode state value for key %q: %w", k, err)
		}
		m := scoped[scope]
		if m == nil {
			m = make(map[string]any)
			scoped[scope] = m
		}
		m[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return flatten(scoped), nil
}
