package chat

import (
	"context"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

// Turn is the model-facing view of one conversation turn: the prior events
// of the session, the user's new input, and the files uploaded with it.
type Turn struct {
	// History holds the session's prior events, oldest first, bounded by
	// the store's history window. It does not include the current input.
	History []session.Event

	// Input is the user's message for this turn. May be empty when the
	// turn carries only attachments.
	Input string

	// Attachments are this turn's uploads. The bytes are in memory because
	// the upload just arrived; historical files appear in History as file
	// parts and are referenced by hash only.
	Attachments []Attachment
}

// Attachment is one uploaded file, already persisted in the registry.
type Attachment struct {
	Name string
	Ref  artifact.Ref
	Data []byte
}

// Responder produces the agent's reply for one turn.
//
// Implementations must be safe for concurrent use; the HTTP front door
// calls Respond from multiple request goroutines.
type Responder interface {
	Respond(ctx context.Context, turn Turn) (string, error)
}
