package memcell

// ProtectionLevel indicates how well the process as a whole can keep pages
// out of swap. Individual cells are always locked regardless of this level;
// the process-wide lock additionally covers transient copies the Go runtime
// makes outside cells.
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // no process-wide protection
	ProtectionPartial                        // some protection measures applied
	ProtectionFull                           // all current and future pages locked
)

func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionFull:
		return "full"
	case ProtectionPartial:
		return "partial"
	default:
		return "none"
	}
}

// LockProcess attempts to lock the whole address space against swapping.
// Best-effort: unlike cell allocation this may degrade, since cells carry
// their own mandatory locks.
func LockProcess() (ProtectionLevel, error) {
	return lockProcessPlatform()
}

// UnlockProcess releases a process-wide lock if one was applied.
func UnlockProcess() error {
	return unlockProcessPlatform()
}
