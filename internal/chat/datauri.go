package chat

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// dataURIMIMEPattern extracts the MIME type from a data URI header such as
// "data:image/png;base64".
var dataURIMIMEPattern = regexp.MustCompile(`^data:(.*?);base64`)

// ParseDataURI decodes a base64 data URI into its bytes, MIME type and a
// generated filename, ready to be wrapped in an Upload.
//
// Accepted forms, matching the original service:
//   - "data:image/png;base64,PAYLOAD" — MIME from the header
//   - "data:PAYLOAD" (no comma) — payload after the prefix, text/plain
//   - "PAYLOAD" — raw base64, text/plain
//
// The filename is "upload_" plus 8 hex characters plus an extension derived
// from the MIME subtype, reduced to filename-safe characters ("bin" when no
// usable subtype remains).
func ParseDataURI(dataURI string) (data []byte, mimeType, filename string, err error) {
	b64 := dataURI
	mimeType = "text/plain"

	if strings.HasPrefix(dataURI, "data:") {
		if header, rest, ok := strings.Cut(dataURI, ","); ok {
			b64 = rest
			if m := dataURIMIMEPattern.FindStringSubmatch(header); m != nil {
				mimeType = m[1]
			}
		} else {
			b64 = strings.TrimPrefix(dataURI, "data:")
		}
	}

	data, err = base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, "", "", fmt.Errorf("invalid base64 payload: %w", err)
	}

	filename = fmt.Sprintf("upload_%s.%s", uuid.NewString()[:8], sanitizeExt(mimeType))

	return data, mimeType, filename, nil
}

// sanitizeExt derives a filename extension from a MIME type. The header is
// caller-controlled, so only letters, digits, '+' and '-' from the subtype
// survive; a missing, empty or oversized result falls back to "bin".
func sanitizeExt(mimeType string) string {
	idx := strings.LastIndex(mimeType, "/")
	if idx < 0 {
		return "bin"
	}
	sub := mimeType[idx+1:]
	if semi := strings.IndexByte(sub, ';'); semi >= 0 {
		sub = sub[:semi]
	}

	var b strings.Builder
	for _, c := range sub {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '+', c == '-':
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 || b.Len() > 24 {
		return "bin"
	}
	return b.String()
}
