// Package api implements the HTTP front door for the session service.
//
// Endpoints:
//   - POST /chat — run one conversation turn (multipart: text plus an
//     optional file upload or base64 data URI)
//   - GET /sessions/{user_id} — list session summaries for a user
//   - DELETE /sessions/{user_id}/{session_id} — delete a session
//   - GET /artifacts/{hash} — fetch a stored attachment by content hash
//   - GET /health, GET /ready — liveness and readiness probes
//   - GET / — API index
//
// Requests flow through a middleware chain (recovery, request id, tracing,
// logging, CORS, per-IP rate limiting); the health probes bypass it so
// orchestrator checks stay cheap and unthrottled.
//
// Error responses use the {"detail": "..."} envelope. Domain errors map to
// statuses in writeDomainError; anything unclassified is logged and returned
// as an opaque 500.
package api
