package pagealloc

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/lfalloc/internal/conv"
	"github.com/hupe1980/lfalloc/internal/mmap"
	"github.com/hupe1980/lfalloc/internal/resource"
)

var (
	// ErrMemoryLimitExceeded is returned when the memory budget would be exceeded.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded
	// ErrUnknownPointer is returned when a pointer was not allocated here.
	ErrUnknownPointer = errors.New("pagealloc: unknown pointer")
	// ErrInvalidAlignment is returned when the alignment exceeds the page size
	// or is not a power of two.
	ErrInvalidAlignment = errors.New("pagealloc: invalid alignment")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pagealloc: allocator is closed")
	// ErrTooLarge is returned when a size cannot be mapped on this platform.
	ErrTooLarge = errors.New("pagealloc: size too large")
)

// Stats is a snapshot of allocator counters.
type Stats struct {
	MappedBytes  int64  // Current: bytes mapped
	PeakBytes    int64  // Historical: highest MappedBytes
	Mappings     int64  // Current: live mappings
	TotalAllocs  uint64 // Historical: successful allocations
	TotalFrees   uint64 // Historical: deallocations
	Reallocs     uint64 // Historical: successful in-place resizes
	FailedAllocs uint64 // Historical: allocations refused or failed
}

type region struct {
	m    *mmap.Mapping
	size atomic.Uintptr // requested size
}

// Allocator maps one anonymous region per block. It is safe for concurrent use.
type Allocator struct {
	ctrl    *resource.Controller
	regions sync.Map // uintptr -> *region
	closed  atomic.Bool

	mappings     atomic.Int64
	totalAllocs  atomic.Uint64
	totalFrees   atomic.Uint64
	reallocs     atomic.Uint64
	failedAllocs atomic.Uint64
}

// Option is a configuration option for Allocator.
type Option func(*Allocator)

// WithMemoryLimit caps the bytes mapped at any time. Zero means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(a *Allocator) {
		a.ctrl = resource.NewController(resource.Config{MemoryLimitBytes: bytes})
	}
}

// WithController shares a memory budget between allocators.
func WithController(c *resource.Controller) Option {
	return func(a *Allocator) {
		a.ctrl = c
	}
}

// New creates a page allocator.
func New(opts ...Option) *Allocator {
	a := &Allocator{}
	for _, opt := range opts {
		opt(a)
	}
	if a.ctrl == nil {
		a.ctrl = resource.NewController(resource.Config{})
	}
	return a
}

// Allocate maps a block of at least size bytes aligned to align.
func (a *Allocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 || align > uintptr(mmap.PageSize()) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	if size == 0 {
		size = 1
	}
	n, err := conv.UintptrToInt(size)
	if err != nil || n > math.MaxInt-mmap.PageSize() {
		a.failedAllocs.Add(1)
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	mapped := int64(mmap.RoundUp(n))
	if err := a.ctrl.AcquireMemory(mapped); err != nil {
		a.failedAllocs.Add(1)
		return nil, fmt.Errorf("pagealloc: map %d bytes: %w", size, err)
	}

	m, err := mmap.MapAnon(n)
	if err != nil {
		a.ctrl.ReleaseMemory(mapped)
		a.failedAllocs.Add(1)
		return nil, fmt.Errorf("pagealloc: map %d bytes: %w", size, err)
	}

	r := &region{m: m}
	r.size.Store(size)

	p := m.Pointer()
	a.regions.Store(uintptr(p), r)
	a.mappings.Add(1)
	a.totalAllocs.Add(1)

	return p, nil
}

// Deallocate unmaps a block returned by Allocate.
func (a *Allocator) Deallocate(p unsafe.Pointer) error {
	v, ok := a.regions.LoadAndDelete(uintptr(p))
	if !ok {
		if a.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("%w: %p", ErrUnknownPointer, p)
	}
	r := v.(*region)

	a.mappings.Add(-1)
	a.totalFrees.Add(1)
	a.ctrl.ReleaseMemory(int64(r.m.Size()))

	return r.m.Close()
}

// TryReallocate resizes a block in place. Shrinking always succeeds and
// returns whole tail pages to the kernel; growing succeeds only within the
// pages already mapped.
func (a *Allocator) TryReallocate(p unsafe.Pointer, newSize uintptr) bool {
	v, ok := a.regions.Load(uintptr(p))
	if !ok {
		return false
	}
	r := v.(*region)

	if newSize == 0 {
		newSize = 1
	}
	if newSize > uintptr(r.m.Size()) {
		return false
	}

	old := r.size.Swap(newSize)
	if newSize < old {
		// Tail pages read back as zeros if the block grows again.
		if tail, err := r.m.Region(int(newSize), r.m.Size()-int(newSize)); err == nil {
			_ = tail.Advise(mmap.AccessDontNeed)
		}
	}
	a.reallocs.Add(1)

	return true
}

// UsableSize returns the mapped size of the block at p, or 0 if unknown.
func (a *Allocator) UsableSize(p unsafe.Pointer) uintptr {
	v, ok := a.regions.Load(uintptr(p))
	if !ok {
		return 0
	}
	return uintptr(v.(*region).m.Size())
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		MappedBytes:  a.ctrl.MemoryUsage(),
		PeakBytes:    a.ctrl.PeakMemoryUsage(),
		Mappings:     a.mappings.Load(),
		TotalAllocs:  a.totalAllocs.Load(),
		TotalFrees:   a.totalFrees.Load(),
		Reallocs:     a.reallocs.Load(),
		FailedAllocs: a.failedAllocs.Load(),
	}
}

// Close unmaps every block still allocated. It is idempotent.
func (a *Allocator) Close() error {
	if a.closed.Swap(true) {
		return nil
	}

	var errs []error
	a.regions.Range(func(k, _ any) bool {
		if err := a.Deallocate(unsafe.Pointer(k.(uintptr))); err != nil { //nolint:govet // mapped outside the Go heap
			errs = append(errs, err)
		}
		return true
	})

	return errors.Join(errs...)
}
