// Package chat orchestrates conversation turns on top of the session store.
//
// A turn is: resolve the session (create on first contact), store any
// uploaded files in the artifact registry, append the user's event, ask a
// Responder for the reply, and append the agent's event. Both appends carry
// the optimistic version observed just before them; on a concurrent-writer
// conflict the turn re-reads the session and recomputes before retrying, up
// to a small bounded number of attempts.
//
// Responder is the only model-facing seam. GeminiResponder talks to the
// Gemini API; ScriptedResponder is deterministic and runs offline, which is
// what the demo command and the tests use.
package chat
