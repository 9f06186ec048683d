package buddy

import (
	"fmt"
	"unsafe"
)

// release hands one Coalescing block to class and cascades merged parents
// upwards.
func (a *Allocator) release(class int, h *header) {
	h.next.Store(nil)
	a.cascade(class+1, a.coalesce(class, h))
}

// cascade feeds each class's merged parents into the class above until no
// merge happens. The top class has no buddies; its blocks go straight to the
// versioned stack.
func (a *Allocator) cascade(class int, chain *header) {
	for ; chain != nil; class++ {
		if class == a.cls.top {
			for chain != nil {
				next := chain.next.Load()
				chain.meta.Store(withState(chain.meta.Load(), Free))
				a.stats.inFlight.Add(-1)
				a.top.Push(chain)
				chain = next
			}
			return
		}
		chain = a.coalesce(class, chain)
	}
}

// coalesce queues chain on the class guard and drains it if no other
// goroutine does.
func (a *Allocator) coalesce(class int, chain *header) *header {
	g := &a.lists[class].guard
	g.Begin()
	for chain != nil {
		next := chain.next.Load()
		g.Add(chain)
		chain = next
	}
	return a.drain(class)
}

// drain releases the class guard, processing every block handed back to
// it. It returns the merged parents, linked through next.
func (a *Allocator) drain(class int) *header {
	g := &a.lists[class].guard

	var parents *header
	for {
		x, _ := g.Release()
		if x == nil {
			return parents
		}
		if p := a.absorb(class, x); p != nil {
			p.next.Store(parents)
			parents = p
		}
	}
}

// absorb settles one queued block of class. It returns the merged parent,
// or nil if x went onto the free list or waits off-list for its buddy.
// Only the class drainer calls it.
func (a *Allocator) absorb(class int, x *header) *header {
	l := &a.lists[class]
	xm := x.meta.Load()

	if stateOf(xm) == Promoting {
		y := a.buddyOf(x, xm, class)
		ym := y.meta.Load()
		if classOf(ym) != class || stateOf(ym) != Coalescing {
			panic(fmt.Sprintf("buddy: promoting block %p has buddy %p in state %s class %d", x, y, stateOf(ym), classOf(ym)))
		}
		return a.merge(class, x, y, true)
	}

	for {
		y := a.buddyOf(x, xm, class)
		ym := y.meta.Load()

		if classOf(ym) != class || stateOf(ym) == Allocated {
			x.meta.Store(withState(xm, Free))
			a.stats.inFlight.Add(-1)
			l.pushFront(x)
			return nil
		}

		switch stateOf(ym) {
		case Free:
			l.remove(y)
			return a.merge(class, x, y, false)
		case Coalescing:
			// y is still queued; it merges with x once processed.
			if y.meta.CompareAndSwap(ym, withState(ym, Promoting)) {
				return nil
			}
		default:
			panic(fmt.Sprintf("buddy: block %p of class %d has promoting buddy %p", x, class, y))
		}
	}
}

// merge joins x and its buddy y of class into a Coalescing parent.
// queued reports whether y was in flight rather than on the free list.
func (a *Allocator) merge(class int, x, y *header, queued bool) *header {
	left := x
	if uintptr(unsafe.Pointer(y)) < uintptr(unsafe.Pointer(x)) {
		left = y
	}

	sides := sidesOf(left.meta.Load()) &^ (1<<(class+1) - 1)
	left.meta.Store(makeMeta(Coalescing, class+1, sides, false))
	left.next.Store(nil)

	// x and y leave flight, the parent enters it.
	if queued {
		a.stats.inFlight.Add(-1)
	}
	a.lists[class].merges.Add(1)

	return left
}

// buddyOf returns the block that pairs with h at class.
func (a *Allocator) buddyOf(h *header, m uint64, class int) *header {
	size := a.cls.raw(class)
	if sidesOf(m)&(1<<class) != 0 {
		return (*header)(unsafe.Add(unsafe.Pointer(h), -int(size)))
	}
	return (*header)(unsafe.Add(unsafe.Pointer(h), size))
}
