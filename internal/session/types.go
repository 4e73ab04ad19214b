package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
)

// Key identifies a session. AppName partitions applications, UserID
// partitions users within an application, and ID is unique within
// (AppName, UserID). The identity is immutable once created.
type Key struct {
	AppName string
	UserID  string
	ID      string
}

// Validate checks all three identifiers before any SQL runs.
func (k Key) Validate() error {
	if err := validateIdentifier("app_name", k.AppName); err != nil {
		return err
	}
	if err := validateIdentifier("user_id", k.UserID); err != nil {
		return err
	}
	return validateIdentifier("session_id", k.ID)
}

// String renders the key for log lines and error messages.
func (k Key) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.ID
}

// Author identifies who produced an event. The set is closed; any other
// value fails validation before reaching the database.
type Author string

// Valid event authors.
const (
	AuthorUser  Author = "user"
	AuthorAgent Author = "agent"
	AuthorTool  Author = "tool"
)

// Valid reports whether a is one of the known authors.
func (a Author) Valid() bool {
	switch a {
	case AuthorUser, AuthorAgent, AuthorTool:
		return true
	}
	return false
}

// PartKind tags the variant stored in a Part.
type PartKind string

// Valid part kinds.
const (
	PartText       PartKind = "text"
	PartFile       PartKind = "file"
	PartToolResult PartKind = "tool_result"
)

// Part is one piece of event content. The set of kinds is closed: plain
// text, a reference to a stored artifact, or a tool result. Only the fields
// belonging to the tagged kind are meaningful; build parts with the
// constructors rather than struct literals.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text carries the content for PartText.
	Text string `json:"text,omitempty"`

	// FileName, Hash, MIME and Size describe a stored artifact for
	// PartFile. Hash addresses the blob in the artifact registry; the
	// bytes themselves are never inlined into an event.
	FileName string `json:"file_name,omitempty"`
	Hash     string `json:"hash,omitempty"`
	MIME     string `json:"mime_type,omitempty"`
	Size     int64  `json:"size_bytes,omitempty"`

	// ToolName and Result carry a tool invocation outcome for
	// PartToolResult.
	ToolName string          `json:"tool_name,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// TextPart builds a plain text content part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// FilePart builds a part referencing a stored artifact. name is the
// caller-facing filename; the content lives in the registry under ref.Hash.
func FilePart(name string, ref artifact.Ref) Part {
	return Part{
		Kind:     PartFile,
		FileName: name,
		Hash:     ref.Hash,
		MIME:     ref.MIME,
		Size:     ref.Size,
	}
}

// ToolResultPart builds a part carrying a tool's result payload.
func ToolResultPart(toolName string, result json.RawMessage) Part {
	return Part{Kind: PartToolResult, ToolName: toolName, Result: result}
}

// Validate checks the part against its kind.
func (p Part) Validate() error {
	switch p.Kind {
	case PartText:
		if p.Text == "" {
			return fmt.Errorf("%w: text part without text", ErrInvalidArgument)
		}
	case PartFile:
		if err := artifact.ValidateHash(p.Hash); err != nil {
			return fmt.Errorf("%w: file part hash: %v", ErrInvalidArgument, err)
		}
	case PartToolResult:
		if p.ToolName == "" {
			return fmt.Errorf("%w: tool result part without tool name", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown part kind %q", ErrInvalidArgument, p.Kind)
	}
	return nil
}

// Event is one immutable record in a session's history. Seq and CreatedAt
// are assigned by the store on append, never by the caller; callers fill
// Author, Parts and StateDelta only.
type Event struct {
	Seq        int64          `json:"seq"`
	Author     Author         `json:"author"`
	Parts      []Part         `json:"parts"`
	StateDelta map[string]any `json:"state_delta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks the caller-supplied fields of an event.
func (e Event) Validate() error {
	if !e.Author.Valid() {
		return fmt.Errorf("%w: unknown author %q", ErrInvalidArgument, e.Author)
	}
	for i, p := range e.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// ArtifactHashes returns the distinct artifact hashes cited by the event's
// file parts, in first-seen order.
func (e Event) ArtifactHashes() []string {
	var hashes []string
	seen := make(map[string]struct{})
	for _, p := range e.Parts {
		if p.Kind != PartFile {
			continue
		}
		if _, ok := seen[p.Hash]; ok {
			continue
		}
		seen[p.Hash] = struct{}{}
		hashes = append(hashes, p.Hash)
	}
	return hashes
}

// Session is the application-level view of one conversation thread: its
// identity, the flattened state snapshot, a bounded window of history and
// the current version (event count).
type Session struct {
	Key        Key
	State      map[string]any
	Events     []Event
	EventCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Summary is the listing view of a session: identity and counters only,
// no event bodies.
type Summary struct {
	Key        Key
	EventCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GetOption bounds the history window returned by Store.GetSession.
type GetOption func(*getConfig)

type getConfig struct {
	recent  int32
	fromSeq int64
	hasFrom bool
}

// WithRecentEvents requests the last n events. n = 0 skips history
// entirely, returning metadata and state only.
func WithRecentEvents(n int32) GetOption {
	return func(c *getConfig) {
		if n < 0 {
			n = 0
		}
		c.recent = n
		c.hasFrom = false
	}
}

// WithEventsFrom requests events with sequence numbers strictly greater
// than seq, oldest first. Useful for resuming a previously read history.
func WithEventsFrom(seq int64) GetOption {
	return func(c *getConfig) {
		c.fromSeq = seq
		c.hasFrom = true
	}
}
