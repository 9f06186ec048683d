package buddy

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/lfalloc/internal/link"
	"github.com/hupe1980/lfalloc/internal/vptr"
)

// LinkState is the life-cycle state of a block.
type LinkState uint8

const (
	// Free blocks sit on their class's free list.
	Free LinkState = iota
	// Allocated blocks belong to a caller.
	Allocated
	// Coalescing blocks were freed and wait for their class's drainer.
	Coalescing
	// Promoting blocks are queued while their buddy waits off-list to merge.
	Promoting
)

func (s LinkState) String() string {
	switch s {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Coalescing:
		return "coalescing"
	case Promoting:
		return "promoting"
	default:
		return fmt.Sprintf("LinkState(%d)", uint8(s))
	}
}

// Meta word layout.
const (
	stateMask   = 0x3
	oversizeBit = 1 << 2
	classShift  = 8
	classMask   = 0x3f
	magicShift  = 16
	magicMask   = 0xffff
	magic       = 0xB0DD
	sidesShift  = 32
)

// header prefixes every block.
type header struct {
	meta atomic.Uint64
	next vptr.Slot[header]
	prev link.Link[header] // back link on a class free list
	size uintptr           // requested size of an oversize block
}

// HeaderSize is the number of bytes in front of every payload.
const HeaderSize = unsafe.Sizeof(header{})

// MaxAlign is the largest payload alignment the allocator guarantees.
const MaxAlign = 8

func (h *header) NextSlot() *vptr.Slot[header] { return &h.next }

func makeMeta(s LinkState, class int, sides uint32, oversize bool) uint64 {
	m := uint64(s) | uint64(class&classMask)<<classShift | magic<<magicShift | uint64(sides)<<sidesShift
	if oversize {
		m |= oversizeBit
	}
	return m
}

func stateOf(m uint64) LinkState { return LinkState(m & stateMask) }

func classOf(m uint64) int { return int(m >> classShift & classMask) }

func sidesOf(m uint64) uint32 { return uint32(m >> sidesShift) }

func isOversize(m uint64) bool { return m&oversizeBit != 0 }

func hasMagic(m uint64) bool { return m>>magicShift&magicMask == magic }

func withState(m uint64, s LinkState) uint64 { return m&^stateMask | uint64(s) }

func headerOf(p unsafe.Pointer) *header {
	return (*header)(unsafe.Add(p, -int(HeaderSize)))
}

func (h *header) payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), HeaderSize)
}

func (h *header) state() LinkState { return stateOf(h.meta.Load()) }
