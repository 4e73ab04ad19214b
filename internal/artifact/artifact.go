package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"strings"
	"time"
)

// DefaultMIME is the opaque fallback for missing or unparseable MIME types.
// Unknown types are legal; they just carry no interpretation.
const DefaultMIME = "application/octet-stream"

// Ref is a stable, compact reference to a stored blob. Events persist Refs,
// never raw bytes.
//
// Hash is the lowercase hex SHA-256 of the content. MIME is the type the
// registry stored for the blob: for deduplicated content the first writer's
// type wins, so a Ref returned by Put may differ from the type the caller
// declared.
type Ref struct {
	Hash string `json:"hash"`
	MIME string `json:"mime_type"`
	Size int64  `json:"size"`
}

// Info describes a stored blob including its current reference count.
type Info struct {
	Ref
	RefCount  int64     `json:"ref_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Digest returns the lowercase hex SHA-256 of data, the registry's
// content address.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeMIME maps a declared MIME type to the form the registry stores:
// the bare media type, lowercased, parameters dropped. Empty or unparseable
// input falls back to DefaultMIME rather than failing — the registry treats
// content types as opaque labels, not a validation surface.
func NormalizeMIME(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return DefaultMIME
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return DefaultMIME
	}
	return mediaType
}
