//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package memcell

func lockProcessPlatform() (ProtectionLevel, error) {
	return ProtectionNone, nil
}

func unlockProcessPlatform() error {
	return nil
}
