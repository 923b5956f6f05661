// Package memcell provides guarded memory cells for holding secret material.
//
// A cell is a page-aligned allocation bracketed by two guard pages that are
// never accessible: any read or write that runs past the data region faults
// immediately instead of touching adjacent heap memory. The data pages are
// locked against being written to swap for the lifetime of the cell and are
// kept inaccessible (no read, no write) except while the cell is explicitly
// unlocked. On release the region is wiped with a primitive the compiler
// cannot elide, then returned to the operating system.
//
// Platform backends are selected at build time. On platforms without the
// required primitives allocation fails closed: secrets are never silently
// placed in unprotected memory.
package memcell

import (
	"fmt"
	"os"
)

// AllocationError reports a failed attempt to set up protected memory.
// It is fatal to the operation that needed the cell; callers must not fall
// back to an unprotected buffer.
type AllocationError struct {
	Op  string
	Err error
}

func (e *AllocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("memcell: %s failed", e.Op)
	}
	return fmt.Sprintf("memcell: %s failed: %v", e.Op, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Cell is a fixed-size guarded memory region. The zero value is not usable;
// obtain cells through Alloc.
type Cell struct {
	// region covers the full mapping including both guard pages.
	region []byte
	// pages is the page-aligned inner region between the guards; page
	// protection is toggled on this slice.
	pages []byte
	// data is the caller-visible slice within pages, aligned so that its
	// last byte is adjacent to the trailing guard page.
	data     []byte
	unlocked bool
	released bool
}

// Alloc creates a cell able to hold size bytes. The data pages are locked
// into physical memory and left inaccessible; call Unlock before touching
// Bytes. A failure to lock memory fails the allocation rather than
// degrading to swappable pages.
func Alloc(size int) (*Cell, error) {
	if size <= 0 {
		return nil, &AllocationError{Op: "alloc", Err: fmt.Errorf("invalid size %d", size)}
	}
	region, pages, err := allocRegion(size)
	if err != nil {
		return nil, err
	}
	return &Cell{
		region: region,
		pages:  pages,
		data:   pages[len(pages)-size:],
	}, nil
}

// Size returns the usable length of the data region.
func (c *Cell) Size() int { return len(c.data) }

// Unlock makes the data pages readable and writable.
func (c *Cell) Unlock() error {
	if c.released {
		return &AllocationError{Op: "unlock", Err: fmt.Errorf("cell released")}
	}
	if c.unlocked {
		return nil
	}
	if err := protectPages(c.pages, true); err != nil {
		return err
	}
	c.unlocked = true
	return nil
}

// Lock returns the data pages to their no-access state.
func (c *Cell) Lock() error {
	if c.released {
		return &AllocationError{Op: "lock", Err: fmt.Errorf("cell released")}
	}
	if !c.unlocked {
		return nil
	}
	if err := protectPages(c.pages, false); err != nil {
		return err
	}
	c.unlocked = false
	return nil
}

// Bytes returns the bounded data slice. The cell must be unlocked; the slice
// must not be retained past the next Lock or Release.
func (c *Cell) Bytes() ([]byte, error) {
	if c.released {
		return nil, &AllocationError{Op: "bytes", Err: fmt.Errorf("cell released")}
	}
	if !c.unlocked {
		return nil, &AllocationError{Op: "bytes", Err: fmt.Errorf("cell is locked")}
	}
	return c.data, nil
}

// Release wipes the data region and unmaps the allocation. Idempotent. After
// Release the original bytes are unrecoverable from this process.
func (c *Cell) Release() error {
	if c.released {
		return nil
	}
	// Wiping needs writable pages regardless of the current lock state.
	if err := protectPages(c.pages, true); err != nil {
		return err
	}
	Wipe(c.pages)
	err := freeRegion(c.region, c.pages)
	c.region = nil
	c.pages = nil
	c.data = nil
	c.unlocked = false
	c.released = true
	return err
}

// pageSize is resolved once; Getpagesize never fails.
var pageSize = os.Getpagesize()

// roundToPage rounds n up to a whole number of pages.
func roundToPage(n int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}
