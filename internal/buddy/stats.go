package buddy

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// ErrCorrupted is returned by Verify when the block structure is inconsistent.
var ErrCorrupted = errors.New("buddy: heap corrupted")

type atomicStats struct {
	chunks           atomic.Int64
	allocs           atomic.Uint64
	deallocs         atomic.Uint64
	oversizeAllocs   atomic.Uint64
	oversizeDeallocs atomic.Uint64
	oversizeBytes    atomic.Int64
	inFlight         atomic.Int64
}

// ClassStats describes one size class.
type ClassStats struct {
	Class      int
	BlockSize  uintptr // payload bytes
	FreeBlocks int64   // Current: blocks on the free list
	Splits     uint64  // Historical: blocks of this class created by splitting
	Merges     uint64  // Historical: buddy pairs of this class merged
}

// Stats is a snapshot of allocator counters. Values are read independently
// and are exact only while the allocator is quiescent.
type Stats struct {
	ReservedBytes  uintptr // Current: bytes held in chunks
	FreeBytes      uintptr // Current: bytes on free lists, headers included
	Chunks         int64   // Current: chunks obtained from the large-block allocator
	TotalAllocs    uint64  // Historical: pooled allocations
	TotalFrees     uint64  // Historical: pooled deallocations
	OversizeAllocs uint64  // Historical: delegated allocations
	OversizeFrees  uint64  // Historical: delegated deallocations
	OversizeBytes  int64   // Current: bytes held by live delegated blocks
	InFlight       int64   // Current: blocks Coalescing or Promoting
	Classes        []ClassStats
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() Stats {
	st := Stats{
		Chunks:         a.stats.chunks.Load(),
		TotalAllocs:    a.stats.allocs.Load(),
		TotalFrees:     a.stats.deallocs.Load(),
		OversizeAllocs: a.stats.oversizeAllocs.Load(),
		OversizeFrees:  a.stats.oversizeDeallocs.Load(),
		OversizeBytes:  a.stats.oversizeBytes.Load(),
		InFlight:       a.stats.inFlight.Load(),
		Classes:        make([]ClassStats, a.cls.top+1),
	}
	st.ReservedBytes = uintptr(st.Chunks) * a.cls.raw(a.cls.top)

	for i := range st.Classes {
		cs := ClassStats{Class: i, BlockSize: a.cls.IndexToSize(i)}
		if i < a.cls.top {
			l := &a.lists[i]
			cs.FreeBlocks = l.count.Load()
			cs.Splits = l.splits.Load()
			cs.Merges = l.merges.Load()
		} else {
			cs.FreeBlocks = int64(a.top.Len())
		}
		st.FreeBytes += uintptr(cs.FreeBlocks) * a.cls.raw(i)
		st.Classes[i] = cs
	}

	return st
}

// Verify walks every chunk and checks the block structure. The allocator
// must be quiescent: no concurrent Allocate or Deallocate.
//
// It checks that every block carries the magic number and a settled state,
// that no two free buddies were left unmerged and that the free lists hold
// exactly the free blocks.
func (a *Allocator) Verify() error {
	if a.closed.Load() {
		return ErrClosed
	}

	free := make([]int64, a.cls.top+1)
	var errs []error

	a.eachChunk(func(base *header) {
		end := uintptr(unsafe.Pointer(base)) + a.cls.raw(a.cls.top)
		for h := base; uintptr(unsafe.Pointer(h)) < end; {
			m := h.meta.Load()
			class := classOf(m)
			if !hasMagic(m) || isOversize(m) || class > a.cls.top {
				errs = append(errs, fmt.Errorf("%w: bad header at %p", ErrCorrupted, h))
				return
			}

			switch stateOf(m) {
			case Free:
				free[class]++
				if class < a.cls.top {
					y := a.buddyOf(h, m, class)
					if ym := y.meta.Load(); classOf(ym) == class && stateOf(ym) == Free {
						errs = append(errs, fmt.Errorf("%w: free buddies %p and %p of class %d", ErrCorrupted, h, y, class))
					}
				}
			case Allocated:
			default:
				errs = append(errs, fmt.Errorf("%w: block %p left %s", ErrCorrupted, h, stateOf(m)))
			}

			h = (*header)(unsafe.Add(unsafe.Pointer(h), a.cls.raw(class)))
		}
	})

	for i := range a.lists {
		l := &a.lists[i]
		n := int64(0)
		for h := l.head; h != nil; h = h.next.Load() {
			n++
		}
		if n != free[i] || n != l.count.Load() {
			errs = append(errs, fmt.Errorf("%w: class %d lists %d free blocks, counts %d, holds %d", ErrCorrupted, i, n, l.count.Load(), free[i]))
		}
		if l.guard.Held() || l.guard.Pending() {
			errs = append(errs, fmt.Errorf("%w: class %d guard still held", ErrCorrupted, i))
		}
	}
	if n := int64(a.top.Len()); n != free[a.cls.top] {
		errs = append(errs, fmt.Errorf("%w: top class stacks %d free blocks, holds %d", ErrCorrupted, n, free[a.cls.top]))
	}
	if n := a.stats.inFlight.Load(); n != 0 {
		errs = append(errs, fmt.Errorf("%w: %d blocks in flight", ErrCorrupted, n))
	}

	return errors.Join(errs...)
}
