package citadel_test

import (
	"fmt"
	"log"
	"os"

	"southwinds.dev/citadel"
	"southwinds.dev/citadel/persist"
)

// Example shows the full lifecycle: write a secret, snapshot the engine
// state, revoke the secret, then restore it from the snapshot.
func Example() {
	dir, err := os.MkdirTemp("", "citadel-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	backend, err := persist.NewFileSystemStore(dir)
	if err != nil {
		log.Fatal(err)
	}
	manager, err := citadel.NewManager(backend, citadel.Options{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer manager.Close()

	id := citadel.DeriveRecordID([]byte("db/password"))

	resp := manager.Handle(citadel.WriteRecordRequest{
		Vault: "app",
		ID:    id,
		Data:  []byte("hunter2"),
	})
	if resp.Err != nil {
		log.Fatal(resp.Err)
	}
	fmt.Println("revision:", resp.Revision)

	if resp = manager.Handle(citadel.SaveSnapshotRequest{
		Name:       "checkpoint",
		Passphrase: []byte("correct horse"),
	}); resp.Err != nil {
		log.Fatal(resp.Err)
	}

	if resp = manager.Handle(citadel.RevokeRecordRequest{Vault: "app", ID: id}); resp.Err != nil {
		log.Fatal(resp.Err)
	}
	resp = manager.Handle(citadel.ReadRecordRequest{Vault: "app", ID: id})
	fmt.Println("after revoke:", resp.Err)

	if resp = manager.Handle(citadel.LoadSnapshotRequest{
		Name:       "checkpoint",
		Passphrase: []byte("correct horse"),
	}); resp.Err != nil {
		log.Fatal(resp.Err)
	}
	resp = manager.Handle(citadel.ReadRecordRequest{Vault: "app", ID: id})
	if resp.Err != nil {
		log.Fatal(resp.Err)
	}
	fmt.Println("restored:", string(resp.Data))

	// Output:
	// revision: 1
	// after revoke: record is revoked
	// restored: hunter2
}
