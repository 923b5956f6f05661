package citadel

import (
	"github.com/google/uuid"

	"southwinds.dev/citadel/internal/memcell"
)

// Request is one operation against a manager, expressed as data. The request
// interface mirrors the library API one to one and exists for callers that
// marshal operations across a boundary (the CLI, an embedding host, a test
// harness) instead of holding vault references. The set of variants is
// closed; external packages cannot implement Request.
type Request interface {
	isRequest()
}

// WriteRecordRequest stores data as the next revision of a record.
type WriteRecordRequest struct {
	Vault string
	ID    RecordID
	Data  []byte
}

// ReadRecordRequest decrypts the active revision of a record.
type ReadRecordRequest struct {
	Vault string
	ID    RecordID
}

// RevokeRecordRequest destroys a record's key material.
type RevokeRecordRequest struct {
	Vault string
	ID    RecordID
}

// GarbageCollectRequest removes revoked revisions from a vault.
type GarbageCollectRequest struct {
	Vault string
}

// ListRecordsRequest lists the records of a vault.
type ListRecordsRequest struct {
	Vault string
}

// CheckVaultRequest reports whether a vault exists.
type CheckVaultRequest struct {
	Vault string
}

// CheckRecordRequest reports whether a record exists in a vault.
type CheckRecordRequest struct {
	Vault string
	ID    RecordID
}

// WriteStoreRequest stores data in the shared store.
type WriteStoreRequest struct {
	Key  string
	Data []byte
}

// ReadStoreRequest reads an entry from the shared store.
type ReadStoreRequest struct {
	Key string
}

// DeleteStoreRequest removes an entry from the shared store.
type DeleteStoreRequest struct {
	Key string
}

// SaveSnapshotRequest persists the full state under a passphrase.
type SaveSnapshotRequest struct {
	Name       string
	Passphrase []byte
}

// LoadSnapshotRequest replaces the full state from a snapshot.
type LoadSnapshotRequest struct {
	Name       string
	Passphrase []byte
}

func (WriteRecordRequest) isRequest()    {}
func (ReadRecordRequest) isRequest()     {}
func (RevokeRecordRequest) isRequest()   {}
func (GarbageCollectRequest) isRequest() {}
func (ListRecordsRequest) isRequest()    {}
func (CheckVaultRequest) isRequest()     {}
func (CheckRecordRequest) isRequest()    {}
func (WriteStoreRequest) isRequest()     {}
func (ReadStoreRequest) isRequest()      {}
func (DeleteStoreRequest) isRequest()    {}
func (SaveSnapshotRequest) isRequest()   {}
func (LoadSnapshotRequest) isRequest()   {}

// Response carries the outcome of one request. Only the fields relevant to
// the request type are populated. Data, when set, is a plaintext copy that
// has left guarded memory; the caller owns it and must wipe it after use.
type Response struct {
	// RequestID correlates the response with audit events.
	RequestID string       `json:"request_id"`
	Revision  uint64       `json:"revision,omitempty"`
	Data      []byte       `json:"data,omitempty"`
	Records   []RecordInfo `json:"records,omitempty"`
	Removed   int          `json:"removed,omitempty"`
	Exists    bool         `json:"exists,omitempty"`
	Err       error        `json:"-"`
}

// Handle executes one request and returns its response. Each request gets a
// unique id so its audit events can be tied together.
func (m *Manager) Handle(req Request) Response {
	resp := Response{RequestID: uuid.New().String()}

	switch r := req.(type) {
	case WriteRecordRequest:
		v, err := m.EnsureVault(r.Vault)
		if err != nil {
			// Write wipes its input on every path; a failure before the
			// write gets the same treatment.
			memcell.Wipe(r.Data)
			resp.Err = err
			return resp
		}
		resp.Revision, resp.Err = v.Write(r.ID, r.Data)

	case ReadRecordRequest:
		v, err := m.Vault(r.Vault)
		if err != nil {
			resp.Err = err
			return resp
		}
		resp.Err = v.Read(r.ID, func(plaintext []byte) error {
			resp.Data = append([]byte(nil), plaintext...)
			return nil
		})

	case RevokeRecordRequest:
		v, err := m.Vault(r.Vault)
		if err != nil {
			resp.Err = err
			return resp
		}
		resp.Err = v.Revoke(r.ID)

	case GarbageCollectRequest:
		v, err := m.Vault(r.Vault)
		if err != nil {
			resp.Err = err
			return resp
		}
		resp.Removed, resp.Err = v.GC()

	case ListRecordsRequest:
		v, err := m.Vault(r.Vault)
		if err != nil {
			resp.Err = err
			return resp
		}
		resp.Records = v.List()

	case CheckVaultRequest:
		_, err := m.Vault(r.Vault)
		switch err {
		case nil:
			resp.Exists = true
		case ErrNotFound:
			resp.Exists = false
		default:
			resp.Err = err
		}

	case CheckRecordRequest:
		v, err := m.Vault(r.Vault)
		switch err {
		case nil:
			resp.Exists = v.Exists(r.ID)
		case ErrNotFound:
			resp.Exists = false
		default:
			resp.Err = err
		}

	case WriteStoreRequest:
		resp.Err = m.Store().Put(r.Key, r.Data)

	case ReadStoreRequest:
		resp.Err = m.Store().Get(r.Key, func(value []byte) error {
			resp.Data = append([]byte(nil), value...)
			return nil
		})

	case DeleteStoreRequest:
		resp.Err = m.Store().Delete(r.Key)

	case SaveSnapshotRequest:
		resp.Err = m.SaveSnapshot(r.Name, r.Passphrase)

	case LoadSnapshotRequest:
		resp.Err = m.LoadSnapshot(r.Name, r.Passphrase)

	default:
		resp.Err = formatErrorf("unknown request type %T", req)
	}
	return resp
}
