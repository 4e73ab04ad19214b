// Package artifact provides the content-addressed registry for binary
// attachments (images, audio, documents) referenced by conversation events.
//
// Blobs are keyed by the hex SHA-256 of their bytes, so two uploads with
// identical content collapse to a single stored row. Events carry compact
// Refs (hash + MIME + size) instead of payloads; re-attaching a known file
// to a new turn costs one reference row, not a re-upload.
//
// Reference counting decides retention: Put and Retain increment, Release
// and session deletion decrement, and Sweep reclaims rows whose count has
// reached zero. Counts are adjusted with single-statement SQL arithmetic,
// never read-modify-write in Go, so concurrent sessions citing the same
// blob cannot lose updates.
//
// Thread Safety: Registry is safe for concurrent use; it holds no mutable
// state beyond the connection pool.
package artifact
