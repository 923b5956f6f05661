package citadel

import (
	"errors"
	"sync"

	"southwinds.dev/citadel/internal/memcell"
)

// ErrBoxDestroyed is returned when a SecretBox is used after Destroy.
var ErrBoxDestroyed = errors.New("secret box destroyed")

// SecretBox exclusively owns one guarded memory cell holding a single secret
// value. The plaintext is observable only inside the scoped callback passed
// to With; outside of it the cell's pages are inaccessible and any stray
// access, in or out of bounds, faults.
type SecretBox struct {
	mu        sync.Mutex
	cell      *memcell.Cell
	destroyed bool
}

// NewSecretBox copies value into a freshly allocated, locked cell and wipes
// the caller's slice. If protected memory cannot be obtained the value is
// wiped anyway and the error is fatal to the operation: secrets never fall
// back to unprotected storage.
func NewSecretBox(value []byte) (*SecretBox, error) {
	defer memcell.Wipe(value)

	if len(value) == 0 {
		return nil, errors.New("secret value cannot be empty")
	}
	cell, err := memcell.Alloc(len(value))
	if err != nil {
		return nil, err
	}
	if err = cell.Unlock(); err != nil {
		_ = cell.Release()
		return nil, err
	}
	buf, err := cell.Bytes()
	if err != nil {
		_ = cell.Release()
		return nil, err
	}
	copy(buf, value)
	if err = cell.Lock(); err != nil {
		_ = cell.Release()
		return nil, err
	}
	return &SecretBox{cell: cell}, nil
}

// Size returns the length of the boxed value.
func (s *SecretBox) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return 0
	}
	return s.cell.Size()
}

// With unlocks the cell, invokes fn with the bounded plaintext slice and
// re-locks on every exit path, including panic. The slice must not escape
// fn; no other API returns a reference to the plaintext.
func (s *SecretBox) With(fn func(value []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrBoxDestroyed
	}
	if err := s.cell.Unlock(); err != nil {
		return err
	}
	defer func() {
		_ = s.cell.Lock()
	}()
	buf, err := s.cell.Bytes()
	if err != nil {
		return err
	}
	return fn(buf)
}

// Destroy wipes and releases the underlying cell. Idempotent; after Destroy
// every access returns ErrBoxDestroyed.
func (s *SecretBox) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	return s.cell.Release()
}
