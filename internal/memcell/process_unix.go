//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package memcell

import (
	"errors"

	"golang.org/x/sys/unix"
)

func lockProcessPlatform() (ProtectionLevel, error) {
	err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOMEM) {
			// RLIMIT_MEMLOCK or privileges prevent a full lock; the
			// per-cell mlock still holds.
			return ProtectionPartial, nil
		}
		if errors.Is(err, unix.ENOSYS) {
			return ProtectionPartial, nil
		}
		return ProtectionNone, &AllocationError{Op: "mlockall", Err: err}
	}
	return ProtectionFull, nil
}

func unlockProcessPlatform() error {
	if err := unix.Munlockall(); err != nil {
		return &AllocationError{Op: "munlockall", Err: err}
	}
	return nil
}
