package citadel

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/awnumar/memguard"

	"southwinds.dev/citadel/audit"
	"southwinds.dev/citadel/internal/crypto"
	"southwinds.dev/citadel/internal/memcell"
)

// Interrupt handling must be in place before any enclave or cell exists so
// that an external termination still purges protected memory.
func init() {
	memguard.CatchInterrupt()
}

// Vault is a logical container of independently encrypted records. Every
// record is sealed under a key derived from the vault key plus a per-record
// salt and the record id, so compromising one record's derived key exposes
// no other record. The vault key itself lives in a memory enclave and never
// crosses the vault boundary in plaintext; only ciphertext and opaque ids
// do.
//
// Concurrency: reads of the same vault may run concurrently; writes, revokes
// and garbage collection are mutually exclusive with each other and with
// reads (single-writer discipline). The lock is held only for the in-memory
// mutation, never across disk I/O. Distinct vaults are fully independent.
type Vault struct {
	path string

	// key is the 32-byte vault key, encrypted at rest in memory.
	key *memguard.Enclave

	mu      sync.RWMutex
	records map[RecordID][]*recordEntry
	// revision is a vault-wide monotonic counter; every new record
	// revision takes the next value, so revisions also order writes
	// across records.
	revision uint64

	// uniqueIDs makes Write fail with ErrRecordExists instead of
	// superseding when the id already has an active revision.
	uniqueIDs bool

	audit  audit.Logger
	closed bool
}

// MaxVaultPathLen bounds vault names. The snapshot format stores paths with
// a 16-bit length prefix; the bound keeps names well inside it.
const MaxVaultPathLen = 256

// NewVault creates an empty vault with a fresh random key. The path names
// the vault inside snapshots and audit events; it is not a filesystem path.
func NewVault(path string, opts Options, auditLogger audit.Logger) (*Vault, error) {
	if path == "" {
		return nil, fmt.Errorf("vault path cannot be empty")
	}
	if len(path) > MaxVaultPathLen {
		return nil, fmt.Errorf("vault path too long: %d bytes (max %d)", len(path), MaxVaultPathLen)
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	raw := make([]byte, crypto.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate vault key: %w", err)
	}
	if crypto.IsWeakKey(raw) {
		memcell.Wipe(raw)
		return nil, errors.New("generated vault key failed entropy check")
	}

	v := &Vault{
		path: path,
		// NewEnclave wipes raw after sealing it.
		key:       memguard.NewEnclave(raw),
		records:   make(map[RecordID][]*recordEntry),
		uniqueIDs: opts.UniqueRecordIDs,
		audit:     auditLogger,
	}
	v.audit.Log("vault_created", true, map[string]interface{}{
		"vault": path,
	})
	return v, nil
}

// Path returns the vault's name.
func (v *Vault) Path() string { return v.path }

// Write encrypts plaintext under a fresh per-record key and stores it as the
// next revision of id. The input slice is wiped before Write returns,
// success or failure. If an active revision already exists the behavior
// depends on policy: with unique ids the write fails with ErrRecordExists;
// otherwise the old revision is revoked and the new one supersedes it,
// preserving a linear history until garbage collection.
func (v *Vault) Write(id RecordID, plaintext []byte) (uint64, error) {
	defer memcell.Wipe(plaintext)

	if len(plaintext) == 0 {
		return 0, fmt.Errorf("record data cannot be empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0, ErrClosed
	}

	chain := v.records[id]
	if head := activeHead(chain); head != nil {
		if v.uniqueIDs {
			v.audit.Log("write_record", false, map[string]interface{}{
				"vault":  v.path,
				"record": id.String(),
				"error":  "record already exists",
			})
			return 0, ErrRecordExists
		}
		// Supersede: the old revision's key material dies first, the
		// new revision appends after it. The superseded ciphertext
		// stays addressable as Revoked until garbage collection.
		head.revoke()
	}

	entry, err := v.sealEntry(id, plaintext)
	if err != nil {
		v.audit.Log("write_record", false, map[string]interface{}{
			"vault":  v.path,
			"record": id.String(),
			"error":  err.Error(),
		})
		return 0, err
	}
	v.revision++
	entry.revision = v.revision
	v.records[id] = append(chain, entry)

	v.audit.Log("write_record", true, map[string]interface{}{
		"vault":    v.path,
		"record":   id.String(),
		"revision": entry.revision,
		"size":     len(entry.ciphertext),
	})
	return entry.revision, nil
}

// Read decrypts the active revision of id into a guarded buffer and exposes
// it to use for the duration of the call only. The plaintext never exists
// outside a SecretBox-backed cell; callers that need a copy must make one
// inside use and accept responsibility for wiping it.
func (v *Vault) Read(id RecordID, use func(plaintext []byte) error) error {
	v.mu.RLock()

	if v.closed {
		v.mu.RUnlock()
		return ErrClosed
	}

	head := latestHead(v.records[id])
	if head == nil {
		v.mu.RUnlock()
		v.audit.Log("read_record", false, map[string]interface{}{
			"vault":  v.path,
			"record": id.String(),
			"error":  "not found",
		})
		return ErrNotFound
	}
	if head.state == StateRevoked {
		v.mu.RUnlock()
		v.audit.Log("read_record", false, map[string]interface{}{
			"vault":  v.path,
			"record": id.String(),
			"error":  "revoked",
		})
		return ErrRevoked
	}

	box, err := v.openEntry(id, head)
	revision := head.revision
	v.mu.RUnlock()
	if err != nil {
		v.audit.Log("read_record", false, map[string]interface{}{
			"vault":  v.path,
			"record": id.String(),
			"error":  err.Error(),
		})
		return err
	}
	defer box.Destroy()

	v.audit.Log("read_record", true, map[string]interface{}{
		"vault":    v.path,
		"record":   id.String(),
		"revision": revision,
	})
	return box.With(use)
}

// Revoke destroys the key material of every non-revoked revision of id,
// making the record cryptographically unrecoverable while leaving its
// ciphertext addressable until garbage collection. Revoking an already
// revoked record is a no-op; revoking an unknown id is ErrNotFound.
func (v *Vault) Revoke(id RecordID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}

	chain, ok := v.records[id]
	if !ok {
		return ErrNotFound
	}
	for _, entry := range chain {
		entry.revoke()
	}
	v.audit.Log("revoke_record", true, map[string]interface{}{
		"vault":  v.path,
		"record": id.String(),
	})
	return nil
}

// GC physically removes the ciphertext of every revoked revision and returns
// the number of revisions dropped. It runs under the vault's write lock, so
// a revoke's key destruction is always fully committed and observable before
// its bytes can be collected, and no Read can observe a half-removed chain.
func (v *Vault) GC() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0, ErrClosed
	}

	removed := 0
	for id, chain := range v.records {
		kept := make([]*recordEntry, 0, len(chain))
		for _, entry := range chain {
			if entry.state == StateRevoked {
				memcell.Wipe(entry.ciphertext)
				entry.ciphertext = nil
				entry.nonce = nil
				removed++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(v.records, id)
		} else {
			v.records[id] = kept
		}
	}
	v.audit.Log("garbage_collect", true, map[string]interface{}{
		"vault":   v.path,
		"removed": removed,
	})
	return removed, nil
}

// Exists reports whether id has any revision, active or revoked. No
// decryption happens and the access is not audited.
func (v *Vault) Exists(id RecordID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records[id]) > 0
}

// List returns the latest revision of every record, ordered by id bytes.
func (v *Vault) List() []RecordInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	infos := make([]RecordInfo, 0, len(v.records))
	for id, chain := range v.records {
		head := latestHead(chain)
		if head == nil {
			continue
		}
		infos = append(infos, RecordInfo{
			ID:       id,
			State:    head.state,
			Revision: head.revision,
			Size:     len(head.ciphertext),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return string(infos[i].ID[:]) < string(infos[j].ID[:])
	})
	return infos
}

// Close renders the vault unusable and drops the key enclave reference.
// Records are not revoked; a snapshot taken before Close can restore them.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.key = nil
	v.audit.Log("vault_closed", true, map[string]interface{}{
		"vault": v.path,
	})
	return nil
}

// sealEntry derives the per-record key and encrypts plaintext. Caller holds
// the write lock.
func (v *Vault) sealEntry(id RecordID, plaintext []byte) (*recordEntry, error) {
	keySalt := make([]byte, crypto.SaltSize)
	if _, err := rand.Read(keySalt); err != nil {
		return nil, fmt.Errorf("failed to generate record key salt: %w", err)
	}

	keyBuf, err := v.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access vault key: %w", err)
	}
	subKey, err := crypto.DeriveSubKey(keyBuf.Bytes(), keySalt, id[:])
	keyBuf.Destroy()
	if err != nil {
		return nil, err
	}
	defer memcell.Wipe(subKey)

	nonce, ciphertext, err := crypto.Seal(subKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt record: %w", err)
	}
	return &recordEntry{
		state:      StateActive,
		keySalt:    keySalt,
		nonce:      nonce,
		ciphertext: ciphertext,
	}, nil
}

// openEntry decrypts entry into a SecretBox. The intermediate heap copy the
// AEAD produces is wiped as soon as the box owns the bytes.
func (v *Vault) openEntry(id RecordID, entry *recordEntry) (*SecretBox, error) {
	keyBuf, err := v.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access vault key: %w", err)
	}
	subKey, err := crypto.DeriveSubKey(keyBuf.Bytes(), entry.keySalt, id[:])
	keyBuf.Destroy()
	if err != nil {
		return nil, err
	}
	defer memcell.Wipe(subKey)

	plaintext, err := crypto.Open(subKey, entry.nonce, entry.ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt record: %w", err)
	}
	// NewSecretBox wipes plaintext.
	return NewSecretBox(plaintext)
}

// activeHead returns the chain's newest revision if it is active.
func activeHead(chain []*recordEntry) *recordEntry {
	head := latestHead(chain)
	if head == nil || head.state != StateActive {
		return nil
	}
	return head
}

// latestHead returns the chain's newest revision regardless of state.
func latestHead(chain []*recordEntry) *recordEntry {
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}
