package citadel

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"golang.org/x/crypto/blake2b"

	"southwinds.dev/citadel/internal/memcell"
)

// RecordIDSize is the fixed length of a record identifier.
const RecordIDSize = 24

// RecordID is an opaque fixed-length record identifier, unique within a
// vault. IDs derived from the same path are stable across processes.
type RecordID [RecordIDSize]byte

// DeriveRecordID maps an arbitrary path to a stable record id using
// BLAKE2b-256 truncated to RecordIDSize bytes.
func DeriveRecordID(path []byte) RecordID {
	sum := blake2b.Sum256(path)
	var id RecordID
	copy(id[:], sum[:RecordIDSize])
	return id
}

// RandomRecordID returns a fresh random id.
func RandomRecordID() (RecordID, error) {
	var id RecordID
	if _, err := rand.Read(id[:]); err != nil {
		return RecordID{}, fmt.Errorf("failed to generate record id: %w", err)
	}
	return id, nil
}

// ParseRecordID decodes the hex form produced by String.
func ParseRecordID(s string) (RecordID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid record id: %w", err)
	}
	if len(raw) != RecordIDSize {
		return RecordID{}, fmt.Errorf("invalid record id: need %d bytes, got %d", RecordIDSize, len(raw))
	}
	var id RecordID
	copy(id[:], raw)
	return id, nil
}

func (id RecordID) String() string { return hex.EncodeToString(id[:]) }

// RecordState is the lifecycle state of one record revision.
type RecordState uint8

const (
	// StateActive marks a readable revision.
	StateActive RecordState = iota
	// StateRevoked marks a revision whose derived key material has been
	// destroyed. Its ciphertext remains until garbage collection.
	StateRevoked
)

func (s RecordState) String() string {
	if s == StateRevoked {
		return "revoked"
	}
	return "active"
}

// RecordInfo describes a record revision without exposing ciphertext or
// plaintext. Safe to return to listing callers.
type RecordInfo struct {
	ID       RecordID    `json:"id"`
	State    RecordState `json:"state"`
	Revision uint64      `json:"revision"`
	Size     int         `json:"size"` // ciphertext length including tag
}

// recordEntry is one encrypted revision of a record. Updates never edit an
// entry in place: a new entry supersedes the old one, which is revoked and
// retained until garbage collection.
type recordEntry struct {
	state    RecordState
	revision uint64
	// keySalt feeds the per-record key derivation; wiped and nil'd on
	// revoke, which makes the ciphertext permanently unopenable even with
	// the vault key in hand.
	keySalt    []byte
	nonce      []byte
	ciphertext []byte
}

// revoke destroys the entry's key material. Idempotent.
func (e *recordEntry) revoke() {
	if e.state == StateRevoked {
		return
	}
	memcell.Wipe(e.keySalt)
	e.keySalt = nil
	e.state = StateRevoked
}

var storeKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_/.]+$`)

// validateStoreKey bounds free-form store identifiers the same way the vault
// bounds record paths: non-empty, printable, path-like.
func validateStoreKey(key string) error {
	if key == "" {
		return fmt.Errorf("store key cannot be empty")
	}
	if len(key) > 256 {
		return fmt.Errorf("store key too long: %d bytes", len(key))
	}
	if !storeKeyRegex.MatchString(key) {
		return fmt.Errorf("store key contains invalid characters: %s", key)
	}
	return nil
}
