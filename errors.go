package citadel

import (
	"errors"
	"fmt"
)

// Error taxonomy for vault and snapshot operations. Policy violations
// (ErrNotFound, ErrRevoked, ErrRecordExists) are recoverable and returned to
// the caller; allocation failures are fatal to their operation and never
// retried with unprotected memory; malformed persisted bytes are never
// auto-repaired.
var (
	// ErrNotFound is returned when a record or store entry does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRevoked is returned when reading a record whose key material has
	// been destroyed. The record stays addressable until garbage collection.
	ErrRevoked = errors.New("record is revoked")

	// ErrRecordExists is returned by writes that would reuse an active
	// record id while the unique-id policy is enabled.
	ErrRecordExists = errors.New("record already exists")

	// ErrDecryptionFailed covers both a wrong passphrase and a tampered or
	// corrupted snapshot. The two cases are deliberately indistinguishable
	// so the error cannot be used as a tamper oracle.
	ErrDecryptionFailed = errors.New("snapshot decryption failed")

	// ErrUnsupportedVersion is returned for snapshot headers written by an
	// incompatible format version. No best-effort parse is attempted.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrClosed is returned by operations on a closed manager or vault.
	ErrClosed = errors.New("vault is closed")
)

// FormatError reports malformed persisted bytes: truncated input, length
// prefixes pointing past the end, duplicate identifiers or trailing garbage.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed record store: %s", e.Reason)
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}
