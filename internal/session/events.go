package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Greyisheep/database-session-demo/internal/database"
)

const insertEventSQL = `
INSERT INTO events (app_name, user_id, session_id, seq, author, parts, state_delta)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`

const referenceArtifactSQL = `
INSERT INTO event_artifacts (app_name, user_id, session_id, seq, artifact_hash)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING`

// appendEventTx persists one event inside the caller's transaction: the
// event row under the next sequence number, then one reference row per
// distinct artifact its file parts cite. The caller holds the session row
// lock, which is what makes the assigned sequence gap-free.
//
// ev is updated in place with the assigned Seq and CreatedAt.
func (s *Store) appendEventTx(ctx context.Context, q querier, key Key, seq int64, ev *Event) error {
	parts := ev.Parts
	if parts == nil {
		parts = []Part{}
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("%w: event parts: %v", ErrInvalidArgument, err)
	}

	var deltaJSON []byte
	if len(ev.StateDelta) > 0 {
		deltaJSON, err = json.Marshal(ev.StateDelta)
		if err != nil {
			return fmt.Errorf("%w: event state delta: %v", ErrInvalidArgument, err)
		}
	}

	err = q.QueryRow(ctx, insertEventSQL,
		key.AppName, key.UserID, key.ID, seq, string(ev.Author), partsJSON, deltaJSON).
		Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event %d: %w", seq, err)
	}
	ev.Seq = seq

	// The foreign key on event_artifacts is the existence check: citing an
	// unknown hash fails here and rolls the whole append back.
	for _, hash := range ev.ArtifactHashes() {
		if _, err := q.Exec(ctx, referenceArtifactSQL,
			key.AppName, key.UserID, key.ID, seq, hash); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", ErrArtifactNotFound, hash)
			}
			return fmt.Errorf("failed to reference artifact %s: %w", hash, err)
		}
	}
	return nil
}

const readEventsSQL = `
SELECT seq, author, parts, state_delta, created_at
FROM events
WHERE app_name = $1 AND user_id = $2 AND session_id = $3 AND seq > $4
ORDER BY seq
LIMIT $5`

// Events reads a session's history in strictly increasing sequence order.
// fromSeq is an exclusive lower bound (0 reads from the beginning); limit
// is normalized with NormalizeHistoryLimit. Events of a deleted session are
// gone with it; there is no per-event read, update or delete.
func (s *Store) Events(ctx context.Context, key Key, fromSeq int64, limit int32) ([]Event, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	limit = NormalizeHistoryLimit(limit)

	var events []Event
	err := database.Retry(ctx, s.logger, s.readAttempts, func(ctx context.Context) error {
		var err error
		events, err = readEvents(ctx, s.pool, key, fromSeq, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("read events",
		"session", key, "from_seq", fromSeq, "count", len(events))
	return events, nil
}

// readEvents runs the paginated history query on q, which may be the pool
// or an open transaction.
func readEvents(ctx context.Context, q querier, key Key, fromSeq int64, limit int32) ([]Event, error) {
	rows, err := q.Query(ctx, readEventsSQL, key.AppName, key.UserID, key.ID, fromSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (Event, error) {
	var (
		ev        Event
		author    string
		partsJSON []byte
		deltaJSON []byte
	)
	if err := rows.Scan(&ev.Seq, &author, &partsJSON, &deltaJSON, &ev.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("failed to scan event: %w", err)
	}
	ev.Author = Author(author)
	if err := json.Unmarshal(partsJSON, &ev.Parts); err != nil {
		return Event{}, fmt.Errorf("failed to decode parts of event %d: %w", ev.Seq, err)
	}
	if len(deltaJSON) > 0 {
		if err := json.Unmarshal(deltaJSON, &ev.StateDelta); err != nil {
			return Event{}, fmt.Errorf("failed to decode state delta of event %d: %w", ev.Seq, err)
		}
	}
	return ev, nil
}
