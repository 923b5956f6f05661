package citadel

import (
	"bytes"
	"testing"
)

func TestHandleRecordOperations(t *testing.T) {
	m := newTestManager(t, Options{})
	id := DeriveRecordID([]byte("app/secret"))

	// Write creates the vault on demand.
	resp := m.Handle(WriteRecordRequest{Vault: "app", ID: id, Data: []byte("v1")})
	if resp.Err != nil {
		t.Fatalf("write: %v", resp.Err)
	}
	if resp.Revision != 1 {
		t.Fatalf("revision %d, want 1", resp.Revision)
	}
	if resp.RequestID == "" {
		t.Fatal("response missing request id")
	}

	resp = m.Handle(ReadRecordRequest{Vault: "app", ID: id})
	if resp.Err != nil {
		t.Fatalf("read: %v", resp.Err)
	}
	if !bytes.Equal(resp.Data, []byte("v1")) {
		t.Fatal("read mismatch")
	}

	resp = m.Handle(CheckRecordRequest{Vault: "app", ID: id})
	if resp.Err != nil || !resp.Exists {
		t.Fatalf("check record: exists=%v err=%v", resp.Exists, resp.Err)
	}
	resp = m.Handle(CheckRecordRequest{Vault: "app", ID: DeriveRecordID([]byte("no"))})
	if resp.Err != nil || resp.Exists {
		t.Fatalf("check missing record: exists=%v err=%v", resp.Exists, resp.Err)
	}

	resp = m.Handle(ListRecordsRequest{Vault: "app"})
	if resp.Err != nil || len(resp.Records) != 1 {
		t.Fatalf("list: %d records, err=%v", len(resp.Records), resp.Err)
	}

	resp = m.Handle(RevokeRecordRequest{Vault: "app", ID: id})
	if resp.Err != nil {
		t.Fatalf("revoke: %v", resp.Err)
	}
	resp = m.Handle(ReadRecordRequest{Vault: "app", ID: id})
	if resp.Err != ErrRevoked {
		t.Fatalf("read after revoke: got %v, want ErrRevoked", resp.Err)
	}

	resp = m.Handle(GarbageCollectRequest{Vault: "app"})
	if resp.Err != nil || resp.Removed != 1 {
		t.Fatalf("gc: removed=%d err=%v", resp.Removed, resp.Err)
	}
}

func TestHandleWriteWipesInputOnError(t *testing.T) {
	m := newTestManager(t, Options{})
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data := []byte("secret payload")
	resp := m.Handle(WriteRecordRequest{Vault: "app", ID: DeriveRecordID([]byte("x")), Data: data})
	if resp.Err != ErrClosed {
		t.Fatalf("write on closed manager: got %v, want ErrClosed", resp.Err)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("input byte %d not wiped after failed write", i)
		}
	}
}

func TestHandleVaultChecks(t *testing.T) {
	m := newTestManager(t, Options{})

	resp := m.Handle(CheckVaultRequest{Vault: "ghost"})
	if resp.Err != nil || resp.Exists {
		t.Fatalf("check missing vault: exists=%v err=%v", resp.Exists, resp.Err)
	}

	if _, err := m.CreateVault("real"); err != nil {
		t.Fatalf("CreateVault failed: %v", err)
	}
	resp = m.Handle(CheckVaultRequest{Vault: "real"})
	if resp.Err != nil || !resp.Exists {
		t.Fatalf("check vault: exists=%v err=%v", resp.Exists, resp.Err)
	}

	// Reads never create vaults.
	resp = m.Handle(ReadRecordRequest{Vault: "ghost", ID: DeriveRecordID([]byte("x"))})
	if resp.Err != ErrNotFound {
		t.Fatalf("read from missing vault: got %v, want ErrNotFound", resp.Err)
	}
}

func TestHandleStoreOperations(t *testing.T) {
	m := newTestManager(t, Options{})

	resp := m.Handle(WriteStoreRequest{Key: "token", Data: []byte("abc")})
	if resp.Err != nil {
		t.Fatalf("store write: %v", resp.Err)
	}

	resp = m.Handle(ReadStoreRequest{Key: "token"})
	if resp.Err != nil || !bytes.Equal(resp.Data, []byte("abc")) {
		t.Fatalf("store read: data=%q err=%v", resp.Data, resp.Err)
	}

	resp = m.Handle(DeleteStoreRequest{Key: "token"})
	if resp.Err != nil {
		t.Fatalf("store delete: %v", resp.Err)
	}
	resp = m.Handle(ReadStoreRequest{Key: "token"})
	if resp.Err != ErrNotFound {
		t.Fatalf("store read after delete: got %v, want ErrNotFound", resp.Err)
	}
}

func TestHandleSnapshotOperations(t *testing.T) {
	m := newTestManager(t, Options{})
	id := DeriveRecordID([]byte("persisted"))

	if resp := m.Handle(WriteRecordRequest{Vault: "app", ID: id, Data: []byte("keep")}); resp.Err != nil {
		t.Fatalf("write: %v", resp.Err)
	}
	if resp := m.Handle(SaveSnapshotRequest{Name: "snap", Passphrase: []byte("p")}); resp.Err != nil {
		t.Fatalf("save snapshot: %v", resp.Err)
	}
	if resp := m.Handle(RevokeRecordRequest{Vault: "app", ID: id}); resp.Err != nil {
		t.Fatalf("revoke: %v", resp.Err)
	}
	if resp := m.Handle(LoadSnapshotRequest{Name: "snap", Passphrase: []byte("p")}); resp.Err != nil {
		t.Fatalf("load snapshot: %v", resp.Err)
	}

	resp := m.Handle(ReadRecordRequest{Vault: "app", ID: id})
	if resp.Err != nil || !bytes.Equal(resp.Data, []byte("keep")) {
		t.Fatalf("read after load: data=%q err=%v", resp.Data, resp.Err)
	}
}
