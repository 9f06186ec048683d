package testutil

import (
	"testing"
	"unsafe"

	"github.com/hupe1980/lfalloc/internal/mmap"
)

// OffHeap returns n zeroed values of T stored in an anonymous mapping.
// The mapping is released when the test finishes.
//
// Lock-free structures in this module store node addresses as integers,
// so nodes must not live on the Go heap.
func OffHeap[T any](tb testing.TB, n int) []T {
	tb.Helper()

	s, release, err := OffHeapSlice[T](n)
	if err != nil {
		tb.Fatalf("testutil: off-heap mapping of %d elements: %v", n, err)
	}
	tb.Cleanup(func() {
		if err := release(); err != nil {
			tb.Errorf("testutil: unmap: %v", err)
		}
	})

	return s
}

// OffHeapSlice is OffHeap without a test. The caller must invoke release
// once no value is referenced any more.
func OffHeapSlice[T any](n int) ([]T, func() error, error) {
	var zero T
	size := max(int(unsafe.Sizeof(zero))*n, 1)

	m, err := mmap.MapAnon(size)
	if err != nil {
		return nil, nil, err
	}

	return unsafe.Slice((*T)(m.Pointer()), n), m.Close, nil
}
