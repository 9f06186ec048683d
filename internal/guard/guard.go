// Package guard provides a non-blocking serialization guard.
//
// A Guard lets many goroutines hand work items to whichever goroutine is
// currently the drainer, without ever waiting for it. Holders call Begin,
// Add their items and then Release. The holder that releases last drains
// every pending item before the guard opens again, so at most one goroutine
// processes items at any time.
//
//	g.Begin()
//	g.Add(item)
//	for {
//		it, _ := g.Release()
//		if it == nil {
//			break // another holder drains, or the guard is open
//		}
//		process(it) // may Add follow-up items
//	}
//
// The in-flight list head and the holder count share one atomic word, so a
// holder leaving and the last items arriving cannot be missed.
package guard

import (
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/lfalloc/internal/lfstack"
	"github.com/hupe1980/lfalloc/internal/vptr"
)

const (
	countBits = 64 - vptr.CompressedBits
	countMask = 1<<countBits - 1

	// MaxHolders is the largest number of concurrent holders.
	MaxHolders = countMask
)

// Guard is a serialization guard over nodes of type T.
// The zero value is open with no pending items.
type Guard[T any, P lfstack.Node[T]] struct {
	word atomic.Uint64
}

func split[T any](w uint64) (*T, uint64) {
	c := w >> countBits
	if c == 0 {
		return nil, w & countMask
	}
	return (*T)(vptr.Expand(c)), w & countMask
}

func join[T any](head *T, n uint64) uint64 {
	var c uint64
	if head != nil {
		c = vptr.Compress(unsafe.Pointer(head))
	}
	return c<<countBits | n
}

// Begin registers a holder and reports whether the guard was open.
func (g *Guard[T, P]) Begin() (first bool) {
	for {
		w := g.word.Load()
		n := w & countMask
		if n == MaxHolders {
			panic("guard: too many holders")
		}
		if g.word.CompareAndSwap(w, w+1) {
			return n == 0
		}
	}
}

// Add queues n for the drainer. The guard must be held.
func (g *Guard[T, P]) Add(n P) {
	for {
		w := g.word.Load()
		head, cnt := split[T](w)
		if cnt == 0 {
			panic("guard: add without begin")
		}
		n.NextSlot().Store(head)
		if g.word.CompareAndSwap(w, join((*T)(n), cnt)) {
			return
		}
	}
}

// Remove pops the most recently added item, or returns nil.
// Only the drainer may call it.
func (g *Guard[T, P]) Remove() P {
	for {
		w := g.word.Load()
		head, cnt := split[T](w)
		if head == nil {
			return nil
		}
		next := P(head).NextSlot().Load()
		if g.word.CompareAndSwap(w, join(next, cnt)) {
			return P(head)
		}
	}
}

// Release drops a hold.
//
// With other holders present it returns (nil, false) and leaves draining to
// them. As the last holder with items pending it keeps the guard, pops one
// item and returns it; the caller must process it and call Release again.
// As the last holder with nothing pending it opens the guard and returns
// (nil, true).
func (g *Guard[T, P]) Release() (P, bool) {
	for {
		w := g.word.Load()
		head, cnt := split[T](w)
		switch {
		case cnt == 0:
			panic("guard: release without begin")
		case cnt > 1:
			if g.word.CompareAndSwap(w, w-1) {
				return nil, false
			}
		case head == nil:
			if g.word.CompareAndSwap(w, 0) {
				return nil, true
			}
		default:
			next := P(head).NextSlot().Load()
			if g.word.CompareAndSwap(w, join(next, 1)) {
				return P(head), false
			}
		}
	}
}

// TryRelease drops a hold only if another holder remains, which then becomes
// responsible for the pending items. It reports whether the hold was dropped.
func (g *Guard[T, P]) TryRelease() bool {
	for {
		w := g.word.Load()
		if w&countMask <= 1 {
			return false
		}
		if g.word.CompareAndSwap(w, w-1) {
			return true
		}
	}
}

// Held reports whether any goroutine holds the guard.
func (g *Guard[T, P]) Held() bool {
	return g.word.Load()&countMask != 0
}

// Count returns the number of holders.
func (g *Guard[T, P]) Count() int {
	return int(g.word.Load() & countMask)
}

// Pending reports whether items are queued.
func (g *Guard[T, P]) Pending() bool {
	return g.word.Load()>>countBits != 0
}
