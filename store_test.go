package citadel

import (
	"bytes"
	"sort"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func readStoreEntry(t *testing.T, s *Store, key string) []byte {
	t.Helper()
	var got []byte
	err := s.Get(key, func(value []byte) error {
		got = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return got
}

func TestStorePutGetRoundtrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("api-token", []byte("tok_123")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := readStoreEntry(t, s, "api-token"); !bytes.Equal(got, []byte("tok_123")) {
		t.Fatal("roundtrip mismatch")
	}
	if !s.Has("api-token") {
		t.Fatal("Has returned false for stored entry")
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("k", []byte("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("k", []byte("second")); err != nil {
		t.Fatalf("overwrite Put failed: %v", err)
	}
	if got := readStoreEntry(t, s, "k"); !bytes.Equal(got, []byte("second")) {
		t.Fatal("overwrite did not take effect")
	}
	if s.Len() != 1 {
		t.Fatalf("Len is %d, want 1", s.Len())
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.Get("absent", func([]byte) error { return nil })
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("k", []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Has("k") {
		t.Fatal("entry still present after Delete")
	}

	// Deleting a missing entry is a no-op.
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete of missing entry failed: %v", err)
	}
}

func TestStoreKeysSorted(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"zebra", "alpha", "middle"} {
		if err := s.Put(key, []byte(key)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	keys := s.Keys()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("Keys not sorted: %v", keys)
	}
	if len(keys) != 3 {
		t.Fatalf("Keys returned %d entries, want 3", len(keys))
	}
}

func TestStoreValidation(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("bad key", []byte("v")); err == nil {
		t.Fatal("Put accepted invalid key")
	}
	if err := s.Put("k", nil); err == nil {
		t.Fatal("Put accepted empty value")
	}
	if err := s.Get("bad key", func([]byte) error { return nil }); err == nil {
		t.Fatal("Get accepted invalid key")
	}
}

func TestStorePutWipesInput(t *testing.T) {
	s := newTestStore(t)
	value := []byte("wipe me too")
	if err := s.Put("k", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	for i, b := range value {
		if b != 0 {
			t.Fatalf("input byte %d not wiped", i)
		}
	}
}
