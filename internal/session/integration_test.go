//go:build integration
// +build integration

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
	"github.com/Greyisheep/database-session-demo/internal/testutil"
)

const testApp = "demo_app"

// TestStore_CreateAndGet_Integration covers the create/read round trip:
// initial state routed across scopes, temp keys dropped, snapshot flattened.
func TestStore_CreateAndGet_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", map[string]any{
		"conversation_started": true,
		"user:language":        "de",
		"app:motd":             "welcome",
		"temp:scratch":         "gone",
	})
	require.NoError(t, err, "CreateSession should not return error")
	require.NotNil(t, created)
	assert.NotEmpty(t, created.Key.ID, "empty id must be replaced by a generated one")
	assert.Equal(t, int64(0), created.EventCount)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Empty(t, created.Events)

	wantState := map[string]any{
		"conversation_started": true,
		"language":             "de",
		"motd":                 "welcome",
	}
	assert.Equal(t, wantState, created.State, "snapshot must flatten scopes and drop temp keys")

	got, err := store.GetSession(ctx, created.Key)
	require.NoError(t, err, "GetSession should not return error")
	assert.Equal(t, created.Key, got.Key)
	assert.Equal(t, wantState, got.State)
	assert.Equal(t, int64(0), got.EventCount)

	_, err = store.GetSession(ctx, Key{AppName: testApp, UserID: "alice", ID: "no-such-session"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestStore_CreateSuppliedID_Integration pins the collision contract for
// caller-chosen ids: same (app, user, id) fails, same id under another user
// does not.
func TestStore_CreateSuppliedID_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "pinned-id", nil)
	require.NoError(t, err)
	assert.Equal(t, "pinned-id", created.Key.ID)

	_, err = store.CreateSession(ctx, testApp, "alice", "pinned-id", nil)
	assert.ErrorIs(t, err, ErrAlreadyExists, "caller-supplied collision must not retry")

	_, err = store.CreateSession(ctx, testApp, "bob", "pinned-id", nil)
	assert.NoError(t, err, "ids are unique per (app, user), not globally")
}

// TestStore_CreateGeneratedID_Exhausted_Integration forces every generated
// id to collide and expects the bounded retry to give up.
func TestStore_CreateGeneratedID_Exhausted_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	stuck := New(tdb.Pool, testutil.DiscardLogger(),
		WithIDGenerator(func() string { return "always-the-same" }),
		WithCreateAttempts(3),
	)

	_, err := stuck.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err, "first create claims the generated id")

	_, err = stuck.CreateSession(ctx, testApp, "alice", "", nil)
	assert.ErrorIs(t, err, ErrExhaustedRetries, "every attempt collides with the first session")
}

// TestStore_AppendEvent_Integration covers the happy path of the single
// write operation: sequence assignment, state merge, version bump.
func TestStore_AppendEvent_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", map[string]any{"message_count": float64(0)})
	require.NoError(t, err)
	key := created.Key

	after, err := store.AppendEvent(ctx, key, 0, Event{
		Author:     AuthorUser,
		Parts:      []Part{TextPart("hello there")},
		StateDelta: map[string]any{"message_count": float64(1)},
	})
	require.NoError(t, err, "AppendEvent should not return error")
	assert.Equal(t, int64(1), after.EventCount, "version advances with the append")
	assert.Equal(t, float64(1), after.State["message_count"], "returned snapshot reflects the merged delta")
	assert.Empty(t, after.Events, "append returns no event bodies")
	assert.True(t, after.UpdatedAt.After(created.UpdatedAt) || after.UpdatedAt.Equal(created.UpdatedAt))

	after, err = store.AppendEvent(ctx, key, 1, Event{
		Author:     AuthorAgent,
		Parts:      []Part{TextPart("hi! how can I help?")},
		StateDelta: map[string]any{"message_count": float64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.EventCount)

	got, err := store.GetSession(ctx, key)
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	assert.Equal(t, int64(1), got.Events[0].Seq)
	assert.Equal(t, AuthorUser, got.Events[0].Author)
	assert.Equal(t, "hello there", got.Events[0].Parts[0].Text)
	assert.Equal(t, int64(2), got.Events[1].Seq)
	assert.Equal(t, AuthorAgent, got.Events[1].Author)
	assert.Equal(t, float64(2), got.State["message_count"])
	assert.False(t, got.Events[0].CreatedAt.IsZero(), "event timestamps are assigned by the store")
}

// TestStore_AppendEvent_VersionConflict_Integration is the lost-update
// scenario: two writers read version 0, both append, the second must fail.
func TestStore_AppendEvent_VersionConflict_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	key := created.Key

	_, err = store.AppendEvent(ctx, key, 0, Event{
		Author: AuthorUser,
		Parts:  []Part{TextPart("first writer wins")},
	})
	require.NoError(t, err)

	_, err = store.AppendEvent(ctx, key, 0, Event{
		Author: AuthorUser,
		Parts:  []Part{TextPart("second writer is stale")},
	})
	assert.ErrorIs(t, err, ErrConflict, "stale expected version must be rejected")

	got, err := store.GetSession(ctx, key)
	require.NoError(t, err)
	require.Len(t, got.Events, 1, "the losing append must not leave an event behind")
	assert.Equal(t, "first writer wins", got.Events[0].Parts[0].Text)
	assert.Equal(t, int64(1), got.EventCount)
}

// TestStore_AppendEvent_MissingSession_Integration.
func TestStore_AppendEvent_MissingSession_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	_, err := store.AppendEvent(ctx,
		Key{AppName: testApp, UserID: "alice", ID: "ghost"}, 0,
		Event{Author: AuthorUser, Parts: []Part{TextPart("anyone home?")}})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestStore_AppendEvent_UnknownArtifact_Integration: citing a hash the
// registry does not hold must fail the whole append atomically.
func TestStore_AppendEvent_UnknownArtifact_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	key := created.Key

	ghost := artifact.Digest([]byte("never uploaded"))
	_, err = store.AppendEvent(ctx, key, 0, Event{
		Author: AuthorUser,
		Parts: []Part{
			TextPart("see attachment"),
			FilePart("missing.bin", artifact.Ref{Hash: ghost}),
		},
		StateDelta: map[string]any{"has_files": true},
	})
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	got, err := store.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.EventCount, "failed append must not advance the version")
	assert.Empty(t, got.Events, "failed append must not leave an event behind")
	assert.NotContains(t, got.State, "has_files", "failed append must not leak its state delta")
}

// TestStore_AppendEvent_WithArtifact_Integration: the upload-then-cite flow.
func TestStore_AppendEvent_WithArtifact_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	reg := artifact.New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	ref, err := reg.Put(ctx, []byte("fake png bytes"), "image/png")
	require.NoError(t, err)

	created, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	key := created.Key

	_, err = store.AppendEvent(ctx, key, 0, Event{
		Author: AuthorUser,
		Parts: []Part{
			TextPart("what is in this image?"),
			FilePart("cat.png", ref),
		},
	})
	require.NoError(t, err)

	got, err := store.GetSession(ctx, key)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	require.Len(t, got.Events[0].Parts, 2)
	filePart := got.Events[0].Parts[1]
	assert.Equal(t, PartFile, filePart.Kind)
	assert.Equal(t, ref.Hash, filePart.Hash)
	assert.Equal(t, "image/png", filePart.MIME)
	assert.Equal(t, "cat.png", filePart.FileName)

	// Citing does not change the reference count; only Put/Retain do.
	info, err := reg.Stat(ctx, ref.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RefCount)
}

// TestStore_ConcurrentAppends_Integration hammers one session from many
// goroutines, each retrying on conflict until its append lands. The result
// must be a contiguous, gap-free sequence.
func TestStore_ConcurrentAppends_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	key := created.Key

	const writers = 8

	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Optimistic loop: re-read the version and retry on conflict.
			for {
				sess, err := store.GetSession(ctx, key, WithRecentEvents(0))
				if err != nil {
					errCh <- fmt.Errorf("writer %d: get: %w", n, err)
					return
				}
				_, err = store.AppendEvent(ctx, key, sess.EventCount, Event{
					Author: AuthorUser,
					Parts:  []Part{TextPart(fmt.Sprintf("message from writer %d", n))},
				})
				if err == nil {
					return
				}
				if !errors.Is(err, ErrConflict) {
					errCh <- fmt.Errorf("writer %d: append: %w", n, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	got, err := store.GetSession(ctx, key, WithRecentEvents(MaxHistoryLimit))
	require.NoError(t, err)
	assert.Equal(t, int64(writers), got.EventCount)
	require.Len(t, got.Events, writers)
	for i, ev := range got.Events {
		assert.Equal(t, int64(i+1), ev.Seq, "sequence numbers must be contiguous and gap-free")
	}
}

// TestStore_StateScopes_Integration verifies cross-session scope sharing
// and the tombstone contract.
func TestStore_StateScopes_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	first, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)

	_, err = store.AppendEvent(ctx, first.Key, 0, Event{
		Author: AuthorUser,
		Parts:  []Part{TextPart("set prefs")},
		StateDelta: map[string]any{
			"user:theme": "dark",
			"app:motd":   "hello world",
			"local_note": "only here",
		},
	})
	require.NoError(t, err)

	// A sibling session of the same user inherits user and app scope.
	second, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "dark", second.State["theme"])
	assert.Equal(t, "hello world", second.State["motd"])
	assert.NotContains(t, second.State, "local_note", "session scope must not leak across sessions")

	// Another user sees app scope only.
	other, err := store.CreateSession(ctx, testApp, "bob", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", other.State["motd"])
	assert.NotContains(t, other.State, "theme", "user scope must not leak across users")

	// Explicit nil tombstone deletes the user-scope key.
	_, err = store.AppendEvent(ctx, second.Key, 0, Event{
		Author:     AuthorUser,
		StateDelta: map[string]any{"user:theme": nil},
	})
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, first.Key)
	require.NoError(t, err)
	assert.NotContains(t, snap, "theme", "tombstone must delete the key for every session of the user")
	assert.Equal(t, "only here", snap["local_note"], "untouched keys must survive the merge")
}

// TestStore_SnapshotFold_Integration: the snapshot after N merges equals
// the left-fold of the deltas in commit order.
func TestStore_SnapshotFold_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", map[string]any{"step": float64(0)})
	require.NoError(t, err)
	key := created.Key

	deltas := []map[string]any{
		{"step": float64(1), "status": "started"},
		{"step": float64(2), "user:visits": float64(1)},
		{"step": float64(3), "status": nil}, // tombstone
		{"step": float64(4), "user:visits": float64(2)},
	}

	version := int64(0)
	for _, delta := range deltas {
		_, err := store.AppendEvent(ctx, key, version, Event{Author: AuthorAgent, StateDelta: delta})
		require.NoError(t, err)
		version++
	}

	snap, err := store.Snapshot(ctx, key)
	require.NoError(t, err)
	want := map[string]any{
		"step":   float64(4),
		"visits": float64(2),
	}
	assert.Equal(t, want, snap, "snapshot must equal the left-fold of deltas in commit order")
}

// TestStore_ListSessions_Integration: summaries only, newest update first.
func TestStore_ListSessions_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	var keys []Key
	for i := 0; i < 3; i++ {
		created, err := store.CreateSession(ctx, testApp, "alice", fmt.Sprintf("s-%d", i), nil)
		require.NoError(t, err)
		keys = append(keys, created.Key)
	}
	// One session for another user must not show up.
	_, err := store.CreateSession(ctx, testApp, "bob", "s-bob", nil)
	require.NoError(t, err)

	// Touch the oldest session so it becomes the most recently updated.
	_, err = store.AppendEvent(ctx, keys[0], 0, Event{
		Author: AuthorUser,
		Parts:  []Part{TextPart("bump")},
	})
	require.NoError(t, err)

	summaries, err := store.ListSessions(ctx, testApp, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 3, "exactly the user's sessions")

	assert.Equal(t, "s-0", summaries[0].Key.ID, "most recently updated first")
	assert.Equal(t, int64(1), summaries[0].EventCount)
	for i := 1; i < len(summaries); i++ {
		assert.False(t, summaries[i].UpdatedAt.After(summaries[i-1].UpdatedAt),
			"summaries must be ordered by updated_at descending")
	}
}

// TestStore_DeleteSession_Integration: idempotent delete, cascade to
// events, session scope cleared, user scope kept.
func TestStore_DeleteSession_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", map[string]any{
		"local":      "v",
		"user:theme": "dark",
	})
	require.NoError(t, err)
	key := created.Key

	_, err = store.AppendEvent(ctx, key, 0, Event{
		Author: AuthorUser,
		Parts:  []Part{TextPart("soon to be deleted")},
	})
	require.NoError(t, err)

	existed, err := store.DeleteSession(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed, "first delete reports the session existed")

	existed, err = store.DeleteSession(ctx, key)
	require.NoError(t, err)
	assert.False(t, existed, "second delete is a no-op, not an error")

	_, err = store.GetSession(ctx, key)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	var eventCount int
	require.NoError(t, tdb.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = $1`, key.ID).Scan(&eventCount))
	assert.Equal(t, 0, eventCount, "events must cascade away with the session")

	// User scope survives; a fresh session still sees the theme.
	fresh, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "dark", fresh.State["theme"])
	assert.NotContains(t, fresh.State, "local", "session scope must die with its session")
}

// TestStore_DeleteReleasesArtifacts_Integration is the shared-attachment
// lifecycle: deleting one citing session keeps the blob alive for the
// sibling, deleting the last citing session makes it sweep-eligible.
func TestStore_DeleteReleasesArtifacts_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	reg := artifact.New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	data := []byte("attachment shared by two sessions")

	// Each upload is its own Put, so the deduplicated blob carries one
	// reference per citing session.
	refA, err := reg.Put(ctx, data, "application/pdf")
	require.NoError(t, err)
	refB, err := reg.Put(ctx, data, "application/pdf")
	require.NoError(t, err)
	require.Equal(t, refA, refB)

	sessA, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	sessB, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)

	_, err = store.AppendEvent(ctx, sessA.Key, 0, Event{
		Author: AuthorUser,
		Parts:  []Part{FilePart("doc.pdf", refA)},
	})
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, sessB.Key, 0, Event{
		Author: AuthorUser,
		Parts:  []Part{FilePart("doc.pdf", refB)},
	})
	require.NoError(t, err)

	// Delete the first citing session: one reference released, blob alive.
	existed, err := store.DeleteSession(ctx, sessA.Key)
	require.NoError(t, err)
	require.True(t, existed)

	info, err := reg.Stat(ctx, refA.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RefCount, "sibling's reference must keep the blob retained")

	reclaimed, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reclaimed, "a retained blob must survive the sweep")

	_, err = reg.Get(ctx, refA)
	assert.NoError(t, err, "blob must stay readable while any session cites it")

	// Delete the last citing session: count reaches zero, sweep reclaims.
	existed, err = store.DeleteSession(ctx, sessB.Key)
	require.NoError(t, err)
	require.True(t, existed)

	info, err = reg.Stat(ctx, refA.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.RefCount)

	reclaimed, err = reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	_, err = reg.Get(ctx, refA)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

// TestStore_HistoryWindows_Integration exercises the GetSession options and
// the paginated Events read.
func TestStore_HistoryWindows_Integration(t *testing.T) {
	tdb := testutil.SetupTestDB(t)
	store := New(tdb.Pool, testutil.DiscardLogger())
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testApp, "alice", "", nil)
	require.NoError(t, err)
	key := created.Key

	for i := 0; i < 5; i++ {
		_, err := store.AppendEvent(ctx, key, int64(i), Event{
			Author: AuthorUser,
			Parts:  []Part{TextPart(fmt.Sprintf("message %d", i+1))},
		})
		require.NoError(t, err)
	}

	seqsOf := func(events []Event) []int64 {
		seqs := make([]int64, len(events))
		for i, ev := range events {
			seqs[i] = ev.Seq
		}
		return seqs
	}

	full, err := store.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqsOf(full.Events), "default window covers a short history")

	recent, err := store.GetSession(ctx, key, WithRecentEvents(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, seqsOf(recent.Events))

	from, err := store.GetSession(ctx, key, WithEventsFrom(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, seqsOf(from.Events))

	none, err := store.GetSession(ctx, key, WithRecentEvents(0))
	require.NoError(t, err)
	assert.Empty(t, none.Events)
	assert.Equal(t, int64(5), none.EventCount, "metadata still present without history")

	page, err := store.Events(ctx, key, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seqsOf(page))

	rest, err := store.Events(ctx, key, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, seqsOf(rest))
}
