package citadel

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func newTestVault(t *testing.T, opts Options) *Vault {
	t.Helper()
	v, err := NewVault("test-vault", opts, nil)
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func readRecord(t *testing.T, v *Vault, id RecordID) []byte {
	t.Helper()
	var got []byte
	err := v.Read(id, func(plaintext []byte) error {
		got = append([]byte(nil), plaintext...)
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return got
}

func TestVaultPathBounds(t *testing.T) {
	if _, err := NewVault("", Options{}, nil); err == nil {
		t.Fatal("NewVault accepted empty path")
	}
	if _, err := NewVault(strings.Repeat("p", MaxVaultPathLen+1), Options{}, nil); err == nil {
		t.Fatal("NewVault accepted over-long path")
	}

	v, err := NewVault(strings.Repeat("p", MaxVaultPathLen), Options{}, nil)
	if err != nil {
		t.Fatalf("NewVault rejected maximum-length path: %v", err)
	}
	_ = v.Close()
}

func TestVaultWriteReadRoundtrip(t *testing.T) {
	v := newTestVault(t, Options{})
	id := DeriveRecordID([]byte("app/password"))

	rev, err := v.Write(id, []byte("hunter2"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rev != 1 {
		t.Fatalf("first revision is %d, want 1", rev)
	}

	if got := readRecord(t, v, id); !bytes.Equal(got, []byte("hunter2")) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestVaultWriteWipesInput(t *testing.T) {
	v := newTestVault(t, Options{})
	plaintext := []byte("to be wiped")

	if _, err := v.Write(DeriveRecordID([]byte("x")), plaintext); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for i, b := range plaintext {
		if b != 0 {
			t.Fatalf("input byte %d not wiped", i)
		}
	}
}

func TestVaultWriteEmpty(t *testing.T) {
	v := newTestVault(t, Options{})
	if _, err := v.Write(DeriveRecordID([]byte("x")), nil); err == nil {
		t.Fatal("Write accepted empty data")
	}
}

func TestVaultSupersede(t *testing.T) {
	v := newTestVault(t, Options{})
	id := DeriveRecordID([]byte("rotated"))

	if _, err := v.Write(id, []byte("old")); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	rev, err := v.Write(id, []byte("new"))
	if err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	if rev != 2 {
		t.Fatalf("superseding revision is %d, want 2", rev)
	}

	if got := readRecord(t, v, id); !bytes.Equal(got, []byte("new")) {
		t.Fatal("read did not return the superseding revision")
	}

	// The superseded revision stays in the chain as revoked until GC.
	infos := v.List()
	if len(infos) != 1 {
		t.Fatalf("List returned %d records, want 1", len(infos))
	}
	if infos[0].State != StateActive || infos[0].Revision != 2 {
		t.Fatalf("head is %s rev %d, want active rev 2", infos[0].State, infos[0].Revision)
	}

	removed, err := v.GC()
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("GC removed %d revisions, want 1", removed)
	}
}

func TestVaultUniqueIDPolicy(t *testing.T) {
	v := newTestVault(t, Options{UniqueRecordIDs: true})
	id := DeriveRecordID([]byte("once"))

	if _, err := v.Write(id, []byte("first")); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if _, err := v.Write(id, []byte("second")); err != ErrRecordExists {
		t.Fatalf("duplicate Write: got %v, want ErrRecordExists", err)
	}
	if got := readRecord(t, v, id); !bytes.Equal(got, []byte("first")) {
		t.Fatal("failed write must not modify the record")
	}

	// After a revoke the id becomes writable again.
	if err := v.Revoke(id); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := v.Write(id, []byte("third")); err != nil {
		t.Fatalf("Write after revoke failed: %v", err)
	}
}

func TestVaultRevoke(t *testing.T) {
	v := newTestVault(t, Options{})
	id := DeriveRecordID([]byte("doomed"))

	if _, err := v.Write(id, []byte("secret")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := v.Revoke(id); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	err := v.Read(id, func([]byte) error { return nil })
	if err != ErrRevoked {
		t.Fatalf("Read after revoke: got %v, want ErrRevoked", err)
	}

	// Revoked records stay addressable.
	if !v.Exists(id) {
		t.Fatal("revoked record no longer addressable")
	}

	// Revoking again is a no-op; revoking an unknown id is ErrNotFound.
	if err = v.Revoke(id); err != nil {
		t.Fatalf("repeated Revoke failed: %v", err)
	}
	if err = v.Revoke(DeriveRecordID([]byte("never written"))); err != ErrNotFound {
		t.Fatalf("Revoke of unknown id: got %v, want ErrNotFound", err)
	}
}

func TestVaultGC(t *testing.T) {
	v := newTestVault(t, Options{})
	keep := DeriveRecordID([]byte("keep"))
	drop := DeriveRecordID([]byte("drop"))

	if _, err := v.Write(keep, []byte("staying")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := v.Write(drop, []byte("going")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := v.Revoke(drop); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	removed, err := v.GC()
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("GC removed %d, want 1", removed)
	}

	if v.Exists(drop) {
		t.Fatal("collected record still addressable")
	}
	if err = v.Read(drop, func([]byte) error { return nil }); err != ErrNotFound {
		t.Fatalf("Read after GC: got %v, want ErrNotFound", err)
	}
	if got := readRecord(t, v, keep); !bytes.Equal(got, []byte("staying")) {
		t.Fatal("GC touched an active record")
	}

	// Nothing left to collect.
	removed, err = v.GC()
	if err != nil {
		t.Fatalf("second GC failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("second GC removed %d, want 0", removed)
	}
}

func TestVaultReadNotFound(t *testing.T) {
	v := newTestVault(t, Options{})
	err := v.Read(DeriveRecordID([]byte("missing")), func([]byte) error { return nil })
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestVaultListSorted(t *testing.T) {
	v := newTestVault(t, Options{})
	for i := 0; i < 10; i++ {
		id := DeriveRecordID([]byte{byte(i)})
		if _, err := v.Write(id, []byte{1, byte(i)}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	infos := v.List()
	if len(infos) != 10 {
		t.Fatalf("List returned %d records, want 10", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if string(infos[i-1].ID[:]) >= string(infos[i].ID[:]) {
			t.Fatal("List output not sorted by id")
		}
	}
}

func TestVaultClosed(t *testing.T) {
	v := newTestVault(t, Options{})
	id := DeriveRecordID([]byte("x"))
	if _, err := v.Write(id, []byte("v")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := v.Write(id, []byte("v2")); err != ErrClosed {
		t.Fatalf("Write after Close: got %v, want ErrClosed", err)
	}
	if err := v.Read(id, func([]byte) error { return nil }); err != ErrClosed {
		t.Fatalf("Read after Close: got %v, want ErrClosed", err)
	}
	if err := v.Revoke(id); err != ErrClosed {
		t.Fatalf("Revoke after Close: got %v, want ErrClosed", err)
	}
	if _, err := v.GC(); err != ErrClosed {
		t.Fatalf("GC after Close: got %v, want ErrClosed", err)
	}
}

func TestVaultConcurrentAccess(t *testing.T) {
	v := newTestVault(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				path := fmt.Sprintf("worker-%d/record-%d", n, j)
				id := DeriveRecordID([]byte(path))
				if _, err := v.Write(id, []byte(path)); err != nil {
					t.Errorf("Write failed: %v", err)
					return
				}
				err := v.Read(id, func(plaintext []byte) error {
					if string(plaintext) != path {
						return fmt.Errorf("read mismatch for %s", path)
					}
					return nil
				})
				if err != nil {
					t.Errorf("Read failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := len(v.List()); got != 160 {
		t.Fatalf("List returned %d records, want 160", got)
	}
}
