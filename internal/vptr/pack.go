package vptr

import (
	"fmt"
	"unsafe"
)

const (
	// AddrBits is the number of significant virtual address bits.
	AddrBits = 48
	// AlignBits is the number of low address bits that must be zero.
	AlignBits = 3
	// CompressedBits is the width of a compressed address.
	CompressedBits = AddrBits - AlignBits

	markBits    = AlignBits
	versionBits = 64 - CompressedBits - markBits

	versionMask = 1<<versionBits - 1
	markMask    = 1<<markBits - 1

	markShift = versionBits
	addrShift = versionBits + markBits

	alignMask = 1<<AlignBits - 1
)

// Compress packs an aligned address into CompressedBits bits.
// It panics if p is misaligned or outside the representable range.
func Compress(p unsafe.Pointer) uint64 {
	a := uint64(uintptr(p))
	if a&alignMask != 0 || a>>AddrBits != 0 {
		panic(fmt.Sprintf("vptr: address %#x is not representable", a))
	}
	return a >> AlignBits
}

// Expand reverses Compress.
func Expand(c uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(c << AlignBits)) //nolint:govet // pointee lives outside the Go heap
}

func pack(c uint64, m Mark, v Version) uint64 {
	return c<<addrShift | uint64(m&markMask)<<markShift | uint64(v)
}

func addrOf(w uint64) uint64 { return w >> addrShift }

func markOf(w uint64) Mark { return Mark(w >> markShift & markMask) }

func versionOf(w uint64) Version { return Version(w & versionMask) }
