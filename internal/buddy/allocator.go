package buddy

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/hupe1980/lfalloc/internal/lfstack"
)

// Allocator is a lock-free buddy block allocator. It is safe for concurrent
// use; no operation blocks.
type Allocator struct {
	cls      classes
	minBlock uintptr
	maxBlock uintptr
	large    LargeBlockAllocator

	onRefill   func(bytes uintptr, err error)
	onOversize func(size uintptr, err error)

	lists []classList

	_      cpu.CacheLinePad
	top    lfstack.Stack[header, *header]
	chunks lfstack.ABAStack[chunk, *chunk]
	_      cpu.CacheLinePad

	closed atomic.Bool
	stats  atomicStats
}

// New creates an allocator for payloads of minBlockSize to maxBlockSize
// bytes backed by large.
func New(minBlockSize, maxBlockSize uintptr, large LargeBlockAllocator, opts ...Option) (*Allocator, error) {
	if large == nil {
		return nil, fmt.Errorf("%w: nil large-block allocator", ErrInvalidConfig)
	}

	cls, err := newClasses(minBlockSize, maxBlockSize)
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		cls:      cls,
		minBlock: minBlockSize,
		maxBlock: maxBlockSize,
		large:    large,
		lists:    make([]classList, cls.top),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Classes returns the number of size classes.
func (a *Allocator) Classes() int { return a.cls.top + 1 }

// IndexToSize returns the payload size of class i.
func (a *Allocator) IndexToSize(i int) uintptr { return a.cls.IndexToSize(i) }

// SizeToIndex returns the class serving requests of n bytes.
func (a *Allocator) SizeToIndex(n uintptr) int { return a.cls.SizeToIndex(n) }

// MaxBlockSize returns the largest request served from size classes.
func (a *Allocator) MaxBlockSize() uintptr { return a.maxBlock }

// Allocate returns a block of at least size bytes aligned to align.
// Requests above the maximum block size are delegated whole to the
// large-block allocator.
func (a *Allocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if align > MaxAlign || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if size > a.maxBlock {
		return a.allocateOversize(size)
	}

	want := a.cls.SizeToIndex(max(size, 1))

	h, class := a.take(want)
	if h == nil {
		var err error
		if h, err = a.refill(); err != nil {
			return nil, err
		}
		class = a.cls.top
	}

	a.splitDown(h, class, want)
	a.stats.allocs.Add(1)

	return h.payload(), nil
}

// take walks upwards from class want and returns the first block found.
func (a *Allocator) take(want int) (*header, int) {
	for i := want; i < a.cls.top; i++ {
		if h := a.takeFrom(i); h != nil {
			return h, i
		}
	}
	if h := a.top.Pop(); h != nil {
		h.meta.Store(withState(h.meta.Load(), Allocated))
		return h, a.cls.top
	}
	return nil, 0
}

// takeFrom removes a free block from class i below the top. A class whose
// guard is held by another goroutine is skipped.
func (a *Allocator) takeFrom(i int) *header {
	l := &a.lists[i]
	if l.count.Load() == 0 && !l.guard.Pending() {
		return nil
	}
	if !l.guard.Begin() && l.guard.TryRelease() {
		return nil
	}

	h := l.popFront()
	if h != nil {
		h.meta.Store(withState(h.meta.Load(), Allocated))
	}

	a.cascade(i+1, a.drain(i))

	return h
}

// refill obtains one top-class block from the large-block allocator.
func (a *Allocator) refill() (*header, error) {
	raw := a.cls.raw(a.cls.top)

	p, err := a.large.Allocate(raw+chunkTrailer, MaxAlign)
	if a.onRefill != nil {
		a.onRefill(raw, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: refill %d bytes: %w", ErrOutOfMemory, raw, err)
	}

	h := (*header)(p)
	h.meta.Store(makeMeta(Allocated, a.cls.top, 0, false))
	a.chunks.Push(a.chunkOf(h))
	a.stats.chunks.Add(1)

	return h, nil
}

// splitDown halves h from class from to class to. Left halves stay with the
// caller; right halves are released into their class like freed blocks.
func (a *Allocator) splitDown(h *header, from, to int) {
	for c := from - 1; c >= to; c-- {
		sides := sidesOf(h.meta.Load())
		r := (*header)(unsafe.Add(unsafe.Pointer(h), a.cls.raw(c)))

		h.meta.Store(makeMeta(Allocated, c, sides, false))
		r.meta.Store(makeMeta(Coalescing, c, sides|1<<c, false))
		a.stats.inFlight.Add(1)
		a.lists[c].splits.Add(1)

		a.release(c, r)
	}
}

// maxOversize is the largest oversize request whose header fits without
// wrapping the address space.
const maxOversize = ^uintptr(0) - HeaderSize

func (a *Allocator) allocateOversize(size uintptr) (unsafe.Pointer, error) {
	if size > maxOversize {
		return nil, fmt.Errorf("%w: %d bytes", ErrOutOfMemory, size)
	}

	p, err := a.large.Allocate(size+HeaderSize, MaxAlign)
	if a.onOversize != nil {
		a.onOversize(size, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %w", ErrOutOfMemory, size, err)
	}

	h := (*header)(p)
	h.size = size
	h.meta.Store(makeMeta(Allocated, 0, 0, true))

	a.stats.oversizeAllocs.Add(1)
	a.stats.oversizeBytes.Add(int64(size))

	return h.payload(), nil
}

// Deallocate returns a block obtained from Allocate.
//
// A block freed twice reports ErrDoubleFree as long as its memory has not
// been handed out again. Oversize blocks are unmapped on free; freeing one
// twice is undefined.
func (a *Allocator) Deallocate(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	if a.closed.Load() {
		return ErrClosed
	}
	if uintptr(p)%MaxAlign != 0 {
		return fmt.Errorf("%w: %p", ErrForeignPointer, p)
	}

	h := headerOf(p)
	m := h.meta.Load()
	if !hasMagic(m) {
		return fmt.Errorf("%w: %p", ErrForeignPointer, p)
	}

	if isOversize(m) {
		return a.deallocateOversize(h, m)
	}

	class := classOf(m)
	if class > a.cls.top {
		return fmt.Errorf("%w: %p", ErrForeignPointer, p)
	}

	next := Coalescing
	if class == a.cls.top {
		next = Free
	}
	if stateOf(m) != Allocated || !h.meta.CompareAndSwap(m, withState(m, next)) {
		return fmt.Errorf("%w: %p", ErrDoubleFree, p)
	}
	a.stats.deallocs.Add(1)

	if class == a.cls.top {
		a.top.Push(h)
		return nil
	}

	a.stats.inFlight.Add(1)
	a.release(class, h)

	return nil
}

func (a *Allocator) deallocateOversize(h *header, m uint64) error {
	if stateOf(m) != Allocated || !h.meta.CompareAndSwap(m, withState(m, Free)) {
		return fmt.Errorf("%w: %p", ErrDoubleFree, h.payload())
	}

	size := h.size
	if err := a.large.Deallocate(unsafe.Pointer(h)); err != nil {
		h.meta.Store(m)
		return fmt.Errorf("buddy: release oversize block: %w", err)
	}

	a.stats.oversizeDeallocs.Add(1)
	a.stats.oversizeBytes.Add(-int64(size))

	return nil
}

// TryReallocate resizes the block at p in place and reports whether it
// succeeded. Pooled blocks succeed while newSize fits their class; oversize
// blocks ask the large-block allocator.
func (a *Allocator) TryReallocate(p unsafe.Pointer, newSize uintptr) bool {
	if p == nil || a.closed.Load() {
		return false
	}

	h := headerOf(p)
	m := h.meta.Load()
	if !hasMagic(m) || stateOf(m) != Allocated {
		return false
	}

	if !isOversize(m) {
		return newSize <= a.cls.IndexToSize(classOf(m))
	}

	if newSize <= a.maxBlock || newSize > maxOversize || !a.large.TryReallocate(unsafe.Pointer(h), newSize+HeaderSize) {
		return false
	}
	a.stats.oversizeBytes.Add(int64(newSize) - int64(h.size))
	h.size = newSize

	return true
}

// UsableSize returns the number of payload bytes available at p.
func (a *Allocator) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}

	m := headerOf(p).meta.Load()
	if !hasMagic(m) {
		return 0
	}
	if isOversize(m) {
		return headerOf(p).size
	}
	return a.cls.IndexToSize(classOf(m))
}

// ClassOf returns the size class of the block at p, or -1 for oversize and
// unknown blocks.
func (a *Allocator) ClassOf(p unsafe.Pointer) int {
	if p == nil {
		return -1
	}

	m := headerOf(p).meta.Load()
	if !hasMagic(m) || isOversize(m) {
		return -1
	}
	return classOf(m)
}

// Close returns every chunk to the large-block allocator. Blocks still
// allocated become invalid; oversize blocks stay with their owners.
func (a *Allocator) Close() error {
	if a.closed.Swap(true) {
		return nil
	}

	var errs []error
	for c := a.chunks.Clear(); c != nil; {
		next := c.link.Next()
		if err := a.large.Deallocate(unsafe.Pointer(a.baseOf(c))); err != nil {
			errs = append(errs, err)
		}
		a.stats.chunks.Add(-1)
		c = next
	}

	return errors.Join(errs...)
}
