package artifact

import "errors"

var (
	// ErrNotFound is returned when no blob with the requested hash exists.
	ErrNotFound = errors.New("artifact not found")

	// ErrEmptyData is returned when Put is called with zero bytes.
	ErrEmptyData = errors.New("artifact data is empty")

	// ErrTooLarge is returned when a blob exceeds the registry's size ceiling.
	ErrTooLarge = errors.New("artifact exceeds size limit")

	// ErrInvalidRef is returned when a reference does not carry a plausible
	// content hash (64 lowercase hex characters).
	ErrInvalidRef = errors.New("invalid artifact reference")

	// ErrInvalidFilename is returned when a caller-facing filename is empty,
	// too long, or carries path separators.
	ErrInvalidFilename = errors.New("invalid filename")
)

// maxFilenameBytes bounds caller-facing filenames attached to file parts.
const maxFilenameBytes = 255

// ValidateFilename checks a caller-facing attachment filename. The registry
// itself keys blobs by hash, so this only guards the display name stored in
// events against path traversal and junk.
//
// Validation rules:
//   - Must not be empty or longer than 255 bytes
//   - Must not contain '/', '\' or NUL
//   - Must not be "." or ".."
func ValidateFilename(name string) error {
	if name == "" || len(name) > maxFilenameBytes {
		return ErrInvalidFilename
	}
	if name == "." || name == ".." {
		return ErrInvalidFilename
	}
	for _, c := range name {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrInvalidFilename
		}
	}
	return nil
}

// hashLength is the hex length of a SHA-256 digest.
const hashLength = 64

// ValidateHash checks that hash looks like a registry content address.
// Returns ErrInvalidRef if validation fails.
//
// Validation rules:
//   - Must be exactly 64 characters (hex SHA-256)
//   - Must contain only lowercase hex digits
func ValidateHash(hash string) error {
	if len(hash) != hashLength {
		return ErrInvalidRef
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrInvalidRef
		}
	}
	return nil
}
