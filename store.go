package citadel

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"

	"github.com/awnumar/memguard"

	"southwinds.dev/citadel/internal/crypto"
	"southwinds.dev/citadel/internal/memcell"
)

// Store is a flat mapping from string identifiers to opaque blobs. Entries
// are encrypted exactly like vault records, each under its own key derived
// from the store key and the entry id, but carry no revision or revoke
// semantics: writes are last-write-wins and deletes remove the entry
// outright.
type Store struct {
	// key is the 32-byte store key, encrypted at rest in memory.
	key *memguard.Enclave

	mu      sync.RWMutex
	entries map[string]*storeEntry
}

type storeEntry struct {
	keySalt    []byte
	nonce      []byte
	ciphertext []byte
}

// NewStore creates an empty store with a fresh random key.
func NewStore() (*Store, error) {
	raw := make([]byte, crypto.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate store key: %w", err)
	}
	return &Store{
		key:     memguard.NewEnclave(raw),
		entries: make(map[string]*storeEntry),
	}, nil
}

// Put encrypts value under a fresh derived key and stores it at key,
// replacing any previous entry. The input slice is wiped before Put returns.
func (s *Store) Put(key string, value []byte) error {
	defer memcell.Wipe(value)

	if err := validateStoreKey(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return fmt.Errorf("store value cannot be empty")
	}

	keySalt := make([]byte, crypto.SaltSize)
	if _, err := rand.Read(keySalt); err != nil {
		return fmt.Errorf("failed to generate store key salt: %w", err)
	}

	keyBuf, err := s.key.Open()
	if err != nil {
		return fmt.Errorf("failed to access store key: %w", err)
	}
	subKey, err := crypto.DeriveSubKey(keyBuf.Bytes(), keySalt, []byte(key))
	keyBuf.Destroy()
	if err != nil {
		return err
	}
	defer memcell.Wipe(subKey)

	nonce, ciphertext, err := crypto.Seal(subKey, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt store entry: %w", err)
	}

	s.mu.Lock()
	s.entries[key] = &storeEntry{keySalt: keySalt, nonce: nonce, ciphertext: ciphertext}
	s.mu.Unlock()
	return nil
}

// Get decrypts the entry at key into a guarded buffer and exposes it to use
// for the duration of the call. ErrNotFound if the entry does not exist.
func (s *Store) Get(key string, use func(value []byte) error) error {
	if err := validateStoreKey(key); err != nil {
		return err
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.RUnlock()
		return ErrNotFound
	}

	keyBuf, err := s.key.Open()
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("failed to access store key: %w", err)
	}
	subKey, err := crypto.DeriveSubKey(keyBuf.Bytes(), entry.keySalt, []byte(key))
	keyBuf.Destroy()
	if err != nil {
		s.mu.RUnlock()
		return err
	}
	defer memcell.Wipe(subKey)

	value, err := crypto.Open(subKey, entry.nonce, entry.ciphertext)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to decrypt store entry: %w", err)
	}

	// NewSecretBox wipes value.
	box, err := NewSecretBox(value)
	if err != nil {
		return err
	}
	defer box.Destroy()
	return box.With(use)
}

// Delete removes the entry at key. Deleting a missing entry is a no-op.
func (s *Store) Delete(key string) error {
	if err := validateStoreKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	if entry, ok := s.entries[key]; ok {
		memcell.Wipe(entry.keySalt)
		memcell.Wipe(entry.ciphertext)
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return nil
}

// Has reports entry existence without decrypting.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Keys returns all entry identifiers in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
