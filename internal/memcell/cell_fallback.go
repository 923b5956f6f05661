//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package memcell

import "errors"

// Platforms without guard pages and swap locking cannot meet the contract.
// Allocation fails closed rather than handing out unprotected memory.

var errUnsupported = errors.New("guarded memory is not supported on this platform")

func allocRegion(size int) (region, pages []byte, err error) {
	return nil, nil, &AllocationError{Op: "alloc", Err: errUnsupported}
}

func protectPages(pages []byte, readwrite bool) error {
	return &AllocationError{Op: "protect", Err: errUnsupported}
}

func freeRegion(region, pages []byte) error {
	return &AllocationError{Op: "free", Err: errUnsupported}
}
