package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestFSStore(t *testing.T) *FileSystemStore {
	t.Helper()
	store, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}
	return store
}

func TestFileSystemStoreRoundtrip(t *testing.T) {
	store := newTestFSStore(t)
	testStoreImplementation(t, store)
}

// testStoreImplementation exercises the Store contract against any backend.
func testStoreImplementation(t *testing.T, store Store) {
	t.Helper()

	if err := store.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	blob := []byte("encrypted snapshot bytes")
	if err := store.SaveSnapshot("alpha", blob); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := store.LoadSnapshot("alpha")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatal("roundtrip mismatch")
	}

	// Overwrite replaces.
	replacement := []byte("newer snapshot bytes")
	if err = store.SaveSnapshot("alpha", replacement); err != nil {
		t.Fatalf("overwrite SaveSnapshot failed: %v", err)
	}
	got, err = store.LoadSnapshot("alpha")
	if err != nil {
		t.Fatalf("LoadSnapshot after overwrite failed: %v", err)
	}
	if !bytes.Equal(got, replacement) {
		t.Fatal("overwrite did not take effect")
	}

	if err = store.SaveSnapshot("beta", []byte("second blob")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	infos, err := store.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "alpha" || infos[1].Name != "beta" {
		t.Fatalf("ListSnapshots = %+v", infos)
	}
	for _, info := range infos {
		if info.Size <= 0 || info.Checksum == "" {
			t.Errorf("incomplete info for %s: %+v", info.Name, info)
		}
	}

	if err = store.DeleteSnapshot("alpha"); err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}
	if _, err = store.LoadSnapshot("alpha"); err == nil {
		t.Fatal("LoadSnapshot succeeded after delete")
	}
	if err = store.DeleteSnapshot("alpha"); err == nil {
		t.Fatal("DeleteSnapshot succeeded on missing snapshot")
	}

	if err = store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestFileSystemStoreValidation(t *testing.T) {
	store := newTestFSStore(t)

	invalidNames := []string{"", "../escape", "a/b", "a\\b", "with space"}
	for _, name := range invalidNames {
		if err := store.SaveSnapshot(name, []byte("x")); err == nil {
			t.Errorf("SaveSnapshot(%q) should fail", name)
		}
		if _, err := store.LoadSnapshot(name); err == nil {
			t.Errorf("LoadSnapshot(%q) should fail", name)
		}
		if err := store.DeleteSnapshot(name); err == nil {
			t.Errorf("DeleteSnapshot(%q) should fail", name)
		}
	}

	if err := store.SaveSnapshot("empty", nil); err == nil {
		t.Error("SaveSnapshot accepted empty data")
	}
}

func TestFileSystemStorePermissions(t *testing.T) {
	store := newTestFSStore(t)
	if err := store.SaveSnapshot("perm", []byte("blob")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(store.basePath, "perm"+snapshotExt))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("snapshot file mode is %o, want 0600", info.Mode().Perm())
	}
}

func TestFileSystemStoreNoTempLitter(t *testing.T) {
	store := newTestFSStore(t)
	if err := store.SaveSnapshot("clean", []byte("blob")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	entries, err := os.ReadDir(store.basePath)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want 1", len(entries))
	}
}

func TestFileSystemStoreEmptyBasePath(t *testing.T) {
	if _, err := NewFileSystemStore(""); err == nil {
		t.Fatal("NewFileSystemStore accepted empty base path")
	}
}
