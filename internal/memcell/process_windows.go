//go:build windows

package memcell

// Windows has no mlockall equivalent; individual cells are VirtualLock'd,
// which is the partial level.
func lockProcessPlatform() (ProtectionLevel, error) {
	return ProtectionPartial, nil
}

func unlockProcessPlatform() error {
	return nil
}
