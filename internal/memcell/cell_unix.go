//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package memcell

import (
	"golang.org/x/sys/unix"
)

// allocRegion maps guard|data|guard with anonymous pages and returns the
// full mapping plus the page-aligned inner region. Both guard pages stay
// PROT_NONE for the lifetime of the mapping; the inner pages are mlock'd and
// left inaccessible.
func allocRegion(size int) (region, pages []byte, err error) {
	inner := roundToPage(size)
	total := inner + 2*pageSize

	region, err = unix.Mmap(-1, 0, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, &AllocationError{Op: "mmap", Err: err}
	}

	pages = region[pageSize : pageSize+inner]

	// The inner pages must be resident and unswappable before any secret
	// byte is written. mlock failure is fatal: the caller is storing
	// material that must never reach backing storage.
	if err = unix.Mprotect(pages, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		_ = unix.Munmap(region)
		return nil, nil, &AllocationError{Op: "mprotect", Err: err}
	}
	if err = unix.Mlock(pages); err != nil {
		_ = unix.Munmap(region)
		return nil, nil, &AllocationError{Op: "mlock", Err: err}
	}
	Wipe(pages)

	// At rest the data pages are inaccessible.
	if err = unix.Mprotect(pages, unix.PROT_NONE); err != nil {
		_ = unix.Munlock(pages)
		_ = unix.Munmap(region)
		return nil, nil, &AllocationError{Op: "mprotect", Err: err}
	}

	return region, pages, nil
}

// protectPages toggles the inner pages between read-write and no-access.
func protectPages(pages []byte, readwrite bool) error {
	prot := unix.PROT_NONE
	if readwrite {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	if err := unix.Mprotect(pages, prot); err != nil {
		return &AllocationError{Op: "mprotect", Err: err}
	}
	return nil
}

func freeRegion(region, pages []byte) error {
	// The pages are already wiped; a munlock failure cannot expose them,
	// so only the unmap result is reported.
	_ = unix.Munlock(pages)
	if err := unix.Munmap(region); err != nil {
		return &AllocationError{Op: "munmap", Err: err}
	}
	return nil
}
