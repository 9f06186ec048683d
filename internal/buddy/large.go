package buddy

import "unsafe"

// LargeBlockAllocator supplies chunks and serves requests above the largest
// size class. Returned memory must lie outside the Go heap and stay mapped
// until Deallocate.
type LargeBlockAllocator interface {
	Allocate(size, align uintptr) (unsafe.Pointer, error)
	Deallocate(p unsafe.Pointer) error
	TryReallocate(p unsafe.Pointer, newSize uintptr) bool
}
