package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Greyisheep/database-session-demo/internal/session"
)

// State keys the orchestrator maintains across a conversation.
const (
	stateConversationStarted = "conversation_started"
	stateMessageCount        = "message_count"
	stateHasFiles            = "has_files"
)

// turnAttempts bounds how often an append is retried after losing a
// version race to a concurrent writer.
const turnAttempts = 3

// Config contains the required parameters for a Runner.
type Config struct {
	Store     *session.Store
	Responder Responder
	Logger    *slog.Logger
	AppName   string
}

// validate checks that all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Store == nil {
		return errors.New("session store is required")
	}
	if cfg.Responder == nil {
		return errors.New("responder is required")
	}
	if cfg.AppName == "" {
		return errors.New("app name is required")
	}
	return nil
}

// Runner drives conversation turns against the session store.
//
// Runner is stateless and safe for concurrent use; every turn's writes are
// serialized by the store's per-session locking, and version conflicts are
// resolved by re-reading and recomputing.
type Runner struct {
	store     *session.Store
	responder Responder
	logger    *slog.Logger
	appName   string
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:     cfg.Store,
		responder: cfg.Responder,
		logger:    logger,
		appName:   cfg.AppName,
	}, nil
}

// Upload is a file sent with a turn, not yet stored.
type Upload struct {
	Name string
	MIME string
	Data []byte
}

// TurnResult reports the outcome of one conversation turn.
type TurnResult struct {
	Key          session.Key
	Created      bool // session was created by this turn
	Reply        string
	MessageCount int64
	HasFiles     bool
}

// Turn runs one conversation turn: resolve the session, store uploads,
// append the user event, generate the reply, append the agent event.
//
// Parameters:
//   - userID: owner of the conversation
//   - sessionID: existing session to continue, or "" to create one
//   - input: the user's message, may be empty when uploads are present
//   - uploads: files sent with this turn
//
// Returns:
//   - *TurnResult: the reply plus the session's resulting counters
//   - error: session.ErrSessionNotFound for an unknown sessionID,
//     session.ErrInvalidArgument for an empty turn, session.ErrConflict
//     when every append attempt lost its version race
func (r *Runner) Turn(ctx context.Context, userID, sessionID, input string, uploads []Upload) (*TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" && len(uploads) == 0 {
		return nil, fmt.Errorf("%w: user input or file is required", session.ErrInvalidArgument)
	}

	sess, created, err := r.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	history := sess.Events

	parts, attachments, err := r.storeUploads(ctx, input, uploads)
	if err != nil {
		return nil, err
	}

	userEvent := session.Event{Author: session.AuthorUser, Parts: parts}
	sess, err = r.appendWithRetry(ctx, sess, userEvent, userDelta(len(uploads) > 0))
	if err != nil {
		// No event cites the uploads yet; drop the references taken for
		// them so the blobs stay reclaimable.
		r.releaseUploads(ctx, attachments)
		return nil, fmt.Errorf("failed to append user event: %w", err)
	}
	r.logger.Debug("user event appended",
		"session", sess.Key.ID,
		"seq", sess.EventCount,
		"attachments", len(attachments),
	)

	reply, err := r.responder.Respond(ctx, Turn{
		History:     history,
		Input:       input,
		Attachments: attachments,
	})
	if err != nil {
		// The user event is already durable; the turn fails without a reply.
		r.logger.Warn("responder failed", "session", sess.Key.ID, "error", err)
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	agentEvent := session.Event{
		Author: session.AuthorAgent,
		Parts:  []session.Part{session.TextPart(reply)},
	}
	sess, err = r.appendWithRetry(ctx, sess, agentEvent, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to append agent event: %w", err)
	}
	r.logger.Debug("agent event appended", "session", sess.Key.ID, "seq", sess.EventCount)

	return &TurnResult{
		Key:          sess.Key,
		Created:      created,
		Reply:        reply,
		MessageCount: stateInt(sess.State, stateMessageCount),
		HasFiles:     stateBool(sess.State, stateHasFiles),
	}, nil
}

// resolveSession fetches sessionID, or creates a session with the
// conversation's initial state when sessionID is empty.
func (r *Runner) resolveSession(ctx context.Context, userID, sessionID string) (*session.Session, bool, error) {
	if sessionID == "" {
		sess, err := r.store.CreateSession(ctx, r.appName, userID, "", map[string]any{
			stateConversationStarted: true,
			stateMessageCount:        0,
			stateHasFiles:            false,
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to create session: %w", err)
		}
		r.logger.Debug("session created", "app", r.appName, "user", userID, "session", sess.Key.ID)
		return sess, true, nil
	}

	sess, err := r.store.GetSession(ctx, session.Key{AppName: r.appName, UserID: userID, ID: sessionID})
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// storeUploads persists each upload in the artifact registry and builds the
// user event's parts alongside the model-facing attachments.
func (r *Runner) storeUploads(ctx context.Context, input string, uploads []Upload) ([]session.Part, []Attachment, error) {
	parts := make([]session.Part, 0, len(uploads)+1)
	if input != "" {
		parts = append(parts, session.TextPart(input))
	}

	attachments := make([]Attachment, 0, len(uploads))
	for _, u := range uploads {
		ref, err := r.store.Artifacts().Put(ctx, u.Data, u.MIME)
		if err != nil {
			r.releaseUploads(ctx, attachments)
			return nil, nil, fmt.Errorf("failed to store upload %q: %w", u.Name, err)
		}
		parts = append(parts, session.FilePart(u.Name, ref))
		attachments = append(attachments, Attachment{Name: u.Name, Ref: ref, Data: u.Data})
	}
	return parts, attachments, nil
}

// releaseUploads drops the registry references taken by storeUploads when
// the turn fails before an event cites them. Best effort: a failed release
// is logged and leaves the blob unreclaimable until its bytes are uploaded
// and released again. Runs even when the turn's context is already
// cancelled.
func (r *Runner) releaseUploads(ctx context.Context, attachments []Attachment) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range attachments {
		if err := r.store.Artifacts().Release(ctx, a.Ref); err != nil {
			r.logger.Warn("failed to release upload reference",
				"hash", a.Ref.Hash,
				"error", err,
			)
		}
	}
}

// appendWithRetry appends ev at the session's current version. After a
// version conflict it re-reads the session, recomputes the delta from the
// fresh state, and tries again, up to turnAttempts.
func (r *Runner) appendWithRetry(ctx context.Context, sess *session.Session, ev session.Event, delta func(state map[string]any) map[string]any) (*session.Session, error) {
	for attempt := 1; ; attempt++ {
		if delta != nil {
			ev.StateDelta = delta(sess.State)
		}

		after, err := r.store.AppendEvent(ctx, sess.Key, sess.EventCount, ev)
		if err == nil {
			return after, nil
		}
		if !errors.Is(err, session.ErrConflict) || attempt == turnAttempts {
			return nil, err
		}

		r.logger.Debug("append lost a version race, re-reading",
			"session", sess.Key.ID,
			"attempt", attempt,
		)
		sess, err = r.store.GetSession(ctx, sess.Key, session.WithRecentEvents(0))
		if err != nil {
			return nil, err
		}
	}
}

// userDelta builds the state delta for a user event: the message counter
// advances every turn, has_files is only ever raised, never cleared.
func userDelta(hasUploads bool) func(state map[string]any) map[string]any {
	return func(state map[string]any) map[string]any {
		delta := map[string]any{
			stateMessageCount: stateInt(state, stateMessageCount) + 1,
		}
		if hasUploads {
			delta[stateHasFiles] = true
		}
		return delta
	}
}

// stateInt reads an integer state value. JSON unmarshals numbers as
// float64; deltas built in process may carry native ints.
func stateInt(state map[string]any, key string) int64 {
	switch v := state[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// stateBool reads a boolean state value, defaulting to false.
func stateBool(state map[string]any, key string) bool {
	b, ok := state[key].(bool)
	return ok && b
}
