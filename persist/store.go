// Package persist stores encrypted snapshot blobs in pluggable backends.
// Every byte that reaches a backend is already sealed by the snapshot layer;
// backends never see plaintext or key material.
package persist

import (
	"fmt"
	"strings"
	"time"
)

// Store is the backend interface for snapshot blobs. Names are opaque
// identifiers chosen by the caller; the backend maps them to files or
// objects.
type Store interface {
	// SaveSnapshot durably stores data under name, replacing any previous
	// snapshot with the same name. The write must be atomic: a failure or
	// crash mid-write leaves the previous snapshot intact.
	SaveSnapshot(name string, data []byte) error

	// LoadSnapshot retrieves the blob stored under name.
	LoadSnapshot(name string) ([]byte, error)

	// ListSnapshots enumerates stored snapshots, sorted by name.
	ListSnapshots() ([]SnapshotInfo, error)

	// DeleteSnapshot removes the named snapshot.
	DeleteSnapshot(name string) error

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close releases backend resources.
	Close() error

	// GetType identifies the backend kind ("filesystem", "s3").
	GetType() string
}

// SnapshotInfo describes one stored snapshot without decrypting it.
type SnapshotInfo struct {
	// Name is the identifier the snapshot was saved under.
	Name string `json:"name"`

	// Size is the blob size in bytes.
	Size int64 `json:"size"`

	// Checksum is the SHA-256 of the blob, hex encoded. Lets operators
	// verify replication and detect bit rot without the passphrase.
	Checksum string `json:"checksum"`

	// ModifiedAt is the backend's last-write timestamp.
	ModifiedAt time.Time `json:"modified_at"`
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Type   StoreType              `json:"type"`
	Config map[string]interface{} `json:"config"`
}

type StoreType string

const (
	StoreTypeFileSystem StoreType = "filesystem"
	StoreTypeS3         StoreType = "s3"
)

// snapshotExt is appended to snapshot names on backends that need a file
// suffix.
const snapshotExt = ".snapshot"

// validateSnapshotName rejects names that could escape the backend's
// namespace or collide with its bookkeeping.
func validateSnapshotName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("snapshot name too long (max 100 characters)")
	}
	if strings.Contains(name, "..") ||
		strings.ContainsAny(name, "/\\ \x00") {
		return fmt.Errorf("snapshot name contains invalid characters")
	}
	return nil
}
