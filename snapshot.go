package citadel

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/awnumar/memguard"

	"southwinds.dev/citadel/audit"
	"southwinds.dev/citadel/internal/crypto"
	"southwinds.dev/citadel/internal/memcell"
)

// Snapshot envelope:
//
//	MAGIC "CTDL" (4B) | VERSION u16 LE | SALT (16B) | NONCE (12B) | CIPHERTEXT+TAG
//
// The salt feeds Argon2id to derive the envelope key from the passphrase;
// the ciphertext is the deterministic state encoding sealed with
// ChaCha20-Poly1305. A wrong passphrase and a corrupted body are
// indistinguishable on purpose: both surface as ErrDecryptionFailed.
const (
	snapshotVersion uint16 = 1

	snapshotHeaderSize = 4 + 2 + crypto.SaltSize + crypto.NonceSize
)

var snapshotMagic = [4]byte{'C', 'T', 'D', 'L'}

// sealSnapshot derives the envelope key from passphrase and encrypts the
// encoded state into a self-describing blob. The plaintext encoding is wiped
// before returning. The caller keeps ownership of the passphrase.
func sealSnapshot(passphrase []byte, state *snapState) ([]byte, error) {
	salt := make([]byte, crypto.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate snapshot salt: %w", err)
	}

	key, err := crypto.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	plaintext := encodeState(state)
	nonce, ciphertext, err := crypto.Seal(key.Bytes(), plaintext)
	memcell.Wipe(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	blob := make([]byte, 0, snapshotHeaderSize+len(ciphertext))
	blob = append(blob, snapshotMagic[:]...)
	blob = binary.LittleEndian.AppendUint16(blob, snapshotVersion)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// openSnapshot authenticates and decrypts a snapshot blob. Header damage is
// a FormatError, an unknown version is ErrUnsupportedVersion, and every
// authentication failure, whatever its cause, is ErrDecryptionFailed. The
// returned state owns plaintext key material; consume it and call wipe.
func openSnapshot(passphrase, blob []byte) (*snapState, error) {
	if len(blob) < snapshotHeaderSize {
		return nil, formatErrorf("snapshot too short: %d bytes", len(blob))
	}
	if [4]byte(blob[:4]) != snapshotMagic {
		return nil, formatErrorf("bad snapshot magic %x", blob[:4])
	}
	version := binary.LittleEndian.Uint16(blob[4:6])
	if version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d: %w", version, ErrUnsupportedVersion)
	}
	salt := blob[6 : 6+crypto.SaltSize]
	nonce := blob[6+crypto.SaltSize : snapshotHeaderSize]
	ciphertext := blob[snapshotHeaderSize:]
	if len(ciphertext) < crypto.TagSize {
		return nil, formatErrorf("snapshot body too short: %d bytes", len(ciphertext))
	}

	key, err := crypto.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	plaintext, err := crypto.Open(key.Bytes(), nonce, ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	state, err := decodeState(plaintext)
	memcell.Wipe(plaintext)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveSnapshot captures the full state of vaults and store and writes it,
// passphrase-encrypted, to path. The write is atomic: on any failure,
// including a crash mid-write, an existing snapshot at path is left intact.
func SaveSnapshot(path string, passphrase []byte, vaults map[string]*Vault, store *Store) error {
	blob, err := EncodeSnapshot(passphrase, vaults, store)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, blob)
}

// LoadSnapshot reads and decrypts the snapshot at path and materializes live
// vaults and a store from it.
func LoadSnapshot(path string, passphrase []byte, opts Options, auditLogger audit.Logger) (map[string]*Vault, *Store, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return DecodeSnapshot(passphrase, blob, opts, auditLogger)
}

// EncodeSnapshot seals the state of vaults and store into a snapshot blob
// without touching disk. Vaults are captured under their read locks, one at
// a time; concurrent writes land either before or after the capture.
func EncodeSnapshot(passphrase []byte, vaults map[string]*Vault, store *Store) ([]byte, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	state := &snapState{}
	paths := make([]string, 0, len(vaults))
	for p := range vaults {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		vs, err := vaults[p].snapshot()
		if err != nil {
			state.wipe()
			return nil, err
		}
		state.vaults = append(state.vaults, vs)
	}

	storeKey, entries, err := store.snapshot()
	if err != nil {
		state.wipe()
		return nil, err
	}
	state.storeKey = storeKey
	state.entries = entries

	blob, err := sealSnapshot(passphrase, state)
	state.wipe()
	return blob, err
}

// DecodeSnapshot decrypts a snapshot blob and materializes live vaults and a
// store from it.
func DecodeSnapshot(passphrase, blob []byte, opts Options, auditLogger audit.Logger) (map[string]*Vault, *Store, error) {
	state, err := openSnapshot(passphrase, blob)
	if err != nil {
		return nil, nil, err
	}
	defer state.wipe()

	vaults := make(map[string]*Vault, len(state.vaults))
	for i := range state.vaults {
		v, err := restoreVault(&state.vaults[i], opts, auditLogger)
		if err != nil {
			for _, restored := range vaults {
				_ = restored.Close()
			}
			return nil, nil, err
		}
		vaults[v.path] = v
	}

	store, err := restoreStore(state.storeKey, state.entries)
	if err != nil {
		for _, restored := range vaults {
			_ = restored.Close()
		}
		return nil, nil, err
	}
	return vaults, store, nil
}

// snapshot captures the vault's full state, vault key included, as plain
// copies. The caller owns the returned bytes and must wipe them.
func (v *Vault) snapshot() (vaultSnap, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return vaultSnap{}, ErrClosed
	}

	keyBuf, err := v.key.Open()
	if err != nil {
		return vaultSnap{}, fmt.Errorf("failed to access vault key: %w", err)
	}
	vs := vaultSnap{
		path:     v.path,
		key:      append([]byte(nil), keyBuf.Bytes()...),
		revision: v.revision,
	}
	keyBuf.Destroy()

	ids := make([]RecordID, 0, len(v.records))
	for id := range v.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return string(ids[i][:]) < string(ids[j][:])
	})
	for _, id := range ids {
		chain := chainSnap{id: id}
		for _, entry := range v.records[id] {
			chain.entries = append(chain.entries, recordSnap{
				state:      entry.state,
				revision:   entry.revision,
				keySalt:    append([]byte(nil), entry.keySalt...),
				nonce:      append([]byte(nil), entry.nonce...),
				ciphertext: append([]byte(nil), entry.ciphertext...),
			})
		}
		vs.chains = append(vs.chains, chain)
	}
	return vs, nil
}

// restoreVault builds a live vault from captured state. All byte slices are
// copied; the snapshot state stays wipeable by its owner.
func restoreVault(vs *vaultSnap, opts Options, auditLogger audit.Logger) (*Vault, error) {
	if vs.path == "" {
		return nil, formatErrorf("vault with empty path")
	}
	if len(vs.path) > MaxVaultPathLen {
		return nil, formatErrorf("vault path %d bytes long (max %d)", len(vs.path), MaxVaultPathLen)
	}
	if len(vs.key) != crypto.KeySize {
		return nil, formatErrorf("vault %q key is %d bytes, need %d", vs.path, len(vs.key), crypto.KeySize)
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	records := make(map[RecordID][]*recordEntry, len(vs.chains))
	for _, chain := range vs.chains {
		entries := make([]*recordEntry, 0, len(chain.entries))
		for _, e := range chain.entries {
			if e.state == StateActive && len(e.keySalt) != crypto.SaltSize {
				return nil, formatErrorf("record %s: active revision with %d-byte key salt", chain.id, len(e.keySalt))
			}
			entries = append(entries, &recordEntry{
				state:      e.state,
				revision:   e.revision,
				keySalt:    append([]byte(nil), e.keySalt...),
				nonce:      append([]byte(nil), e.nonce...),
				ciphertext: append([]byte(nil), e.ciphertext...),
			})
		}
		records[chain.id] = entries
	}

	return &Vault{
		path:      vs.path,
		key:       memguard.NewEnclave(append([]byte(nil), vs.key...)),
		records:   records,
		revision:  vs.revision,
		uniqueIDs: opts.UniqueRecordIDs,
		audit:     auditLogger,
	}, nil
}

// snapshot captures the store's key and entries as plain copies, entries
// sorted by id. The caller owns the returned bytes and must wipe them.
func (s *Store) snapshot() ([]byte, []entrySnap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyBuf, err := s.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access store key: %w", err)
	}
	storeKey := append([]byte(nil), keyBuf.Bytes()...)
	keyBuf.Destroy()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]entrySnap, 0, len(ids))
	for _, id := range ids {
		e := s.entries[id]
		entries = append(entries, entrySnap{
			id:         id,
			keySalt:    append([]byte(nil), e.keySalt...),
			nonce:      append([]byte(nil), e.nonce...),
			ciphertext: append([]byte(nil), e.ciphertext...),
		})
	}
	return storeKey, entries, nil
}

// restoreStore builds a live store from captured state.
func restoreStore(key []byte, entries []entrySnap) (*Store, error) {
	if len(key) != crypto.KeySize {
		return nil, formatErrorf("store key is %d bytes, need %d", len(key), crypto.KeySize)
	}
	m := make(map[string]*storeEntry, len(entries))
	for _, e := range entries {
		if err := validateStoreKey(e.id); err != nil {
			return nil, formatErrorf("store entry: %v", err)
		}
		m[e.id] = &storeEntry{
			keySalt:    append([]byte(nil), e.keySalt...),
			nonce:      append([]byte(nil), e.nonce...),
			ciphertext: append([]byte(nil), e.ciphertext...),
		}
	}
	return &Store{
		key:     memguard.NewEnclave(append([]byte(nil), key...)),
		entries: m,
	}, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it, then renames it over path. Readers never observe a partial file and a
// crash leaves any previous file untouched.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err = tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	tmpName = ""
	return nil
}
