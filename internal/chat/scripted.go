package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedResponder is a deterministic Responder that never leaves the
// process. With no script it echoes the input together with a summary of
// what it can see, which is enough for the demo to prove that history and
// attachments survive across store instances. With a script it returns the
// replies in order and repeats the last one once the script runs out.
type ScriptedResponder struct {
	mu      sync.Mutex
	replies []string
	next    int
}

// NewScriptedResponder creates a scripted responder. Call it with no
// arguments for echo mode.
func NewScriptedResponder(replies ...string) *ScriptedResponder {
	return &ScriptedResponder{replies: replies}
}

// Respond implements Responder.
func (s *ScriptedResponder) Respond(_ context.Context, turn Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.replies) > 0 {
		reply := s.replies[s.next]
		if s.next < len(s.replies)-1 {
			s.next++
		}
		return reply, nil
	}

	return echoReply(turn), nil
}

// echoReply describes the turn from the agent's point of view.
func echoReply(turn Turn) string {
	var b strings.Builder

	if turn.Input != "" {
		fmt.Fprintf(&b, "You said: %q.", turn.Input)
	} else {
		b.WriteString("You sent a message without text.")
	}

	if n := len(turn.Attachments); n > 0 {
		fmt.Fprintf(&b, " I stored %d file(s):", n)
		for _, a := range turn.Attachments {
			fmt.Fprintf(&b, " %s (%s, %d bytes)", a.Name, a.Ref.MIME, a.Ref.Size)
		}
		b.WriteString(".")
	}

	fmt.Fprintf(&b, " This conversation has %d earlier event(s).", len(turn.History))
	return b.String()
}
