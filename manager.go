package citadel

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"southwinds.dev/citadel/audit"
	"southwinds.dev/citadel/internal/memcell"
	"southwinds.dev/citadel/persist"
)

// Manager owns a set of named vaults, the shared store and the snapshot
// lifecycle. It is the top-level entry point for both the library API and
// the request interface; everything below it (vaults, store, persistence
// backend, audit trail) is created and torn down through it.
type Manager struct {
	opts    Options
	backend persist.Store
	audit   audit.Logger

	// protection records how much of the process address space could be
	// locked at startup. Informational; cells always lock their own pages.
	protection memcell.ProtectionLevel

	mu     sync.RWMutex
	vaults map[string]*Vault
	store  *Store
	closed bool
}

// NewManager creates a manager backed by the given persistence backend. The
// backend stores only encrypted snapshot blobs and is probed once at
// startup; a backend that cannot be reached fails construction rather than
// the first snapshot save. A nil audit logger disables auditing.
func NewManager(backend persist.Store, opts Options, auditLogger audit.Logger) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("persistence backend cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if err := backend.Ping(); err != nil {
		return nil, fmt.Errorf("persistence backend unavailable: %w", err)
	}

	protection := memcell.ProtectionNone
	if opts.EnableMemoryLock {
		level, err := memcell.LockProcess()
		if err != nil {
			auditLogger.Log("memory_lock", false, map[string]interface{}{
				"error": err.Error(),
			})
		}
		protection = level
	}

	store, err := NewStore()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		opts:       opts,
		backend:    backend,
		audit:      auditLogger,
		protection: protection,
		vaults:     make(map[string]*Vault),
		store:      store,
	}
	m.audit.Log("manager_started", true, map[string]interface{}{
		"backend":    backend.GetType(),
		"protection": protection.String(),
		"user":       opts.UserID,
	})
	return m, nil
}

// CreateVault creates a new empty vault under path.
func (m *Manager) CreateVault(path string) (*Vault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, exists := m.vaults[path]; exists {
		return nil, fmt.Errorf("vault %q already exists", path)
	}
	v, err := NewVault(path, m.opts, m.audit)
	if err != nil {
		return nil, err
	}
	m.vaults[path] = v
	return v, nil
}

// Vault returns the vault at path, or ErrNotFound.
func (m *Manager) Vault(path string) (*Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.vaults[path]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// EnsureVault returns the vault at path, creating it if it does not exist.
func (m *Manager) EnsureVault(path string) (*Vault, error) {
	v, err := m.Vault(path)
	if err == nil {
		return v, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return m.CreateVault(path)
}

// VaultPaths returns the names of all vaults in sorted order.
func (m *Manager) VaultPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.vaults))
	for p := range m.vaults {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Store returns the shared non-versioned store.
func (m *Manager) Store() *Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store
}

// ProtectionLevel reports the process-wide memory protection achieved at
// startup.
func (m *Manager) ProtectionLevel() memcell.ProtectionLevel {
	return m.protection
}

// SaveSnapshot seals the complete current state under the passphrase and
// hands the blob to the persistence backend under name. An empty passphrase
// is resolved from the configured environment variable.
func (m *Manager) SaveSnapshot(name string, passphrase []byte) error {
	pass, err := m.resolvePassphrase(passphrase)
	if err != nil {
		return err
	}
	defer memcell.Wipe(pass)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	blob, err := EncodeSnapshot(pass, m.vaults, m.store)
	m.mu.RUnlock()
	if err != nil {
		m.audit.Log("save_snapshot", false, map[string]interface{}{
			"snapshot": name, "error": err.Error(),
		})
		return err
	}

	if err = m.backend.SaveSnapshot(name, blob); err != nil {
		m.audit.Log("save_snapshot", false, map[string]interface{}{
			"snapshot": name, "error": err.Error(),
		})
		return err
	}
	m.audit.Log("save_snapshot", true, map[string]interface{}{
		"snapshot": name, "size": len(blob),
	})
	return nil
}

// LoadSnapshot fetches the named blob from the backend, decrypts it and
// replaces the manager's entire state with the snapshot contents. The
// previous vaults are closed. On any failure the current state is kept.
func (m *Manager) LoadSnapshot(name string, passphrase []byte) error {
	pass, err := m.resolvePassphrase(passphrase)
	if err != nil {
		return err
	}
	defer memcell.Wipe(pass)

	blob, err := m.backend.LoadSnapshot(name)
	if err != nil {
		m.audit.Log("load_snapshot", false, map[string]interface{}{
			"snapshot": name, "error": err.Error(),
		})
		return err
	}

	vaults, store, err := DecodeSnapshot(pass, blob, m.opts, m.audit)
	if err != nil {
		m.audit.Log("load_snapshot", false, map[string]interface{}{
			"snapshot": name, "error": err.Error(),
		})
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		for _, v := range vaults {
			_ = v.Close()
		}
		return ErrClosed
	}
	old := m.vaults
	m.vaults = vaults
	m.store = store
	m.mu.Unlock()

	for _, v := range old {
		_ = v.Close()
	}
	m.audit.Log("load_snapshot", true, map[string]interface{}{
		"snapshot": name, "vaults": len(vaults),
	})
	return nil
}

// ListSnapshots lists the snapshots held by the persistence backend.
func (m *Manager) ListSnapshots() ([]persist.SnapshotInfo, error) {
	return m.backend.ListSnapshots()
}

// DeleteSnapshot removes the named snapshot from the persistence backend.
func (m *Manager) DeleteSnapshot(name string) error {
	if err := m.backend.DeleteSnapshot(name); err != nil {
		m.audit.Log("delete_snapshot", false, map[string]interface{}{
			"snapshot": name, "error": err.Error(),
		})
		return err
	}
	m.audit.Log("delete_snapshot", true, map[string]interface{}{
		"snapshot": name,
	})
	return nil
}

// Close shuts down all vaults, the persistence backend and the audit trail.
// In-memory state that was not snapshotted is lost. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	vaults := m.vaults
	m.vaults = nil
	m.mu.Unlock()

	for _, v := range vaults {
		_ = v.Close()
	}
	if m.opts.EnableMemoryLock {
		_ = memcell.UnlockProcess()
	}
	m.audit.Log("manager_stopped", true, map[string]interface{}{
		"user": m.opts.UserID,
	})
	err := m.backend.Close()
	if cerr := m.audit.Close(); err == nil {
		err = cerr
	}
	return err
}

// resolvePassphrase falls back to the configured environment variable when
// the caller supplies no passphrase. The returned slice is always a copy the
// caller may wipe.
func (m *Manager) resolvePassphrase(passphrase []byte) ([]byte, error) {
	if len(passphrase) > 0 {
		return append([]byte(nil), passphrase...), nil
	}
	if m.opts.EnvPassphraseVar == "" {
		return nil, fmt.Errorf("no passphrase provided")
	}
	val := os.Getenv(m.opts.EnvPassphraseVar)
	if val == "" {
		return nil, fmt.Errorf("environment variable %s is empty", m.opts.EnvPassphraseVar)
	}
	return []byte(val), nil
}
