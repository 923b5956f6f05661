//go:build windows

package memcell

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// allocRegion reserves and commits guard|data|guard. VirtualLock needs
// accessible pages, so the inner region is locked while read-write and only
// then flipped to no-access.
func allocRegion(size int) (region, pages []byte, err error) {
	inner := roundToPage(size)
	total := inner + 2*pageSize

	base, err := windows.VirtualAlloc(0, uintptr(total), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, nil, &AllocationError{Op: "VirtualAlloc", Err: err}
	}
	region = unsafe.Slice((*byte)(unsafe.Pointer(base)), total)
	pages = region[pageSize : pageSize+inner]

	var old uint32
	if err = windows.VirtualProtect(base+uintptr(pageSize), uintptr(inner), windows.PAGE_READWRITE, &old); err != nil {
		_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
		return nil, nil, &AllocationError{Op: "VirtualProtect", Err: err}
	}
	if err = windows.VirtualLock(base+uintptr(pageSize), uintptr(inner)); err != nil {
		_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
		return nil, nil, &AllocationError{Op: "VirtualLock", Err: err}
	}
	Wipe(pages)
	if err = windows.VirtualProtect(base+uintptr(pageSize), uintptr(inner), windows.PAGE_NOACCESS, &old); err != nil {
		_ = windows.VirtualUnlock(base+uintptr(pageSize), uintptr(inner))
		_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
		return nil, nil, &AllocationError{Op: "VirtualProtect", Err: err}
	}

	return region, pages, nil
}

func protectPages(pages []byte, readwrite bool) error {
	prot := uint32(windows.PAGE_NOACCESS)
	if readwrite {
		prot = windows.PAGE_READWRITE
	}
	var old uint32
	addr := uintptr(unsafe.Pointer(&pages[0]))
	if err := windows.VirtualProtect(addr, uintptr(len(pages)), prot, &old); err != nil {
		return &AllocationError{Op: "VirtualProtect", Err: err}
	}
	return nil
}

func freeRegion(region, pages []byte) error {
	addr := uintptr(unsafe.Pointer(&pages[0]))
	_ = windows.VirtualUnlock(addr, uintptr(len(pages)))
	base := uintptr(unsafe.Pointer(&region[0]))
	if err := windows.VirtualFree(base, 0, windows.MEM_RELEASE); err != nil {
		return &AllocationError{Op: "VirtualFree", Err: err}
	}
	return nil
}
