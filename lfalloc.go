package lfalloc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/time/rate"

	"github.com/hupe1980/lfalloc/internal/buddy"
	"github.com/hupe1980/lfalloc/internal/conv"
	"github.com/hupe1980/lfalloc/internal/liveset"
	"github.com/hupe1980/lfalloc/pagealloc"
)

// LargeBlockAllocator supplies chunks and serves requests above the largest
// size class. Memory it returns must lie outside the Go heap.
type LargeBlockAllocator = buddy.LargeBlockAllocator

// ClassStats describes one size class.
type ClassStats = buddy.ClassStats

const (
	// MaxAlign is the largest alignment Allocate accepts.
	MaxAlign = buddy.MaxAlign
	// HeaderSize is the per-block overhead in front of every payload.
	HeaderSize = buddy.HeaderSize
)

// Stats is a snapshot of allocator counters.
type Stats struct {
	buddy.Stats

	// Pages describes the default page allocator. It is zero when a custom
	// large-block allocator is configured.
	Pages pagealloc.Stats

	// LiveBlocks counts blocks handed out and not yet freed. It is tracked
	// only with misuse detection.
	LiveBlocks uint64
}

// Allocator is a lock-free buddy block allocator. It is safe for concurrent
// use. Create one with New and release its memory with Close.
type Allocator struct {
	core  *buddy.Allocator
	pages *pagealloc.Allocator // nil with a custom large-block allocator

	live  *liveset.Set // nil without misuse detection
	freed *liveset.Set

	logger  *Logger
	metrics MetricsCollector
	warn    rate.Sometimes

	closed atomic.Bool
}

// New creates an allocator.
func New(optFns ...Option) (*Allocator, error) {
	o := applyOptions(optFns)

	a := &Allocator{
		logger:  o.logger,
		metrics: o.metricsCollector,
		warn:    rate.Sometimes{First: 10, Interval: time.Second},
	}

	large := o.large
	if large == nil {
		a.pages = pagealloc.New(pagealloc.WithMemoryLimit(o.memoryLimit))
		large = a.pages
	}

	core, err := buddy.New(o.minBlockSize, o.maxBlockSize, large,
		buddy.WithRefillHook(a.onRefill),
		buddy.WithOversizeHook(a.onOversize),
	)
	if err != nil {
		if a.pages != nil {
			_ = a.pages.Close()
		}
		return nil, opError("new", 0, err)
	}
	a.core = core

	if o.misuseDetection {
		a.live = liveset.New()
		a.freed = liveset.New()
	}

	return a, nil
}

func (a *Allocator) onRefill(bytes uintptr, err error) {
	a.metrics.RecordRefill(bytes, err)
	if err != nil {
		a.warn.Do(func() { a.logger.LogRefill(context.Background(), bytes, err) })
		return
	}
	a.logger.LogRefill(context.Background(), bytes, nil)
}

func (a *Allocator) onOversize(size uintptr, err error) {
	if err != nil {
		a.warn.Do(func() { a.logger.LogOversize(context.Background(), size, err) })
		return
	}
	a.logger.LogOversize(context.Background(), size, nil)
}

// Allocate returns a block of at least size bytes aligned to align, which
// must be a power of two no larger than MaxAlign. Zero means any alignment.
func (a *Allocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	p, err := a.core.Allocate(size, align)

	class := OversizeClass
	if size <= a.core.MaxBlockSize() {
		class = a.core.SizeToIndex(max(size, 1))
	}
	a.metrics.RecordAllocate(size, class, err)

	if err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			a.warn.Do(func() { a.logger.WithClass(class).LogOutOfMemory(context.Background(), size, err) })
		}
		return nil, opError("allocate", size, err)
	}

	if a.live != nil {
		a.freed.Remove(p)
		a.live.Add(p)
	}

	return p, nil
}

// AllocBytes returns an n-byte slice over a new block. Its capacity is the
// block's usable size. Free it with FreeBytes.
func (a *Allocator) AllocBytes(n int) ([]byte, error) {
	size, err := conv.IntToUintptr(n)
	if err != nil {
		return nil, opError("allocate", 0, err)
	}

	p, err := a.Allocate(size, MaxAlign)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(p), a.core.UsableSize(p))[:n], nil
}

// FreeBytes frees a slice returned by AllocBytes.
func (a *Allocator) FreeBytes(b []byte) error {
	return a.Deallocate(unsafe.Pointer(unsafe.SliceData(b)))
}

// Deallocate frees a block returned by Allocate. Freeing nil is a no-op.
func (a *Allocator) Deallocate(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	if a.closed.Load() {
		return opError("deallocate", 0, ErrClosed)
	}

	if a.live != nil {
		if !a.live.Remove(p) {
			err := ErrForeignPointer
			if a.freed.Contains(p) {
				err = ErrDoubleFree
			}
			return a.misuse("deallocate", p, err)
		}
		a.freed.Add(p)
	}

	class := a.core.ClassOf(p)
	err := a.core.Deallocate(p)
	a.metrics.RecordDeallocate(class, err)

	if err != nil {
		if a.live != nil {
			a.freed.Remove(p)
			a.live.Add(p)
		}
		if errors.Is(err, ErrDoubleFree) || errors.Is(err, ErrForeignPointer) {
			return a.misuse("deallocate", p, err)
		}
		return opError("deallocate", 0, err)
	}

	return nil
}

func (a *Allocator) misuse(op string, p unsafe.Pointer, err error) error {
	a.warn.Do(func() { a.logger.LogMisuse(context.Background(), op, uintptr(p), err) })
	return opError(op, 0, fmt.Errorf("%w: %p", err, p))
}

// TryReallocate resizes the block at p in place to at least newSize bytes
// and reports whether it succeeded. On failure the block is unchanged.
func (a *Allocator) TryReallocate(p unsafe.Pointer, newSize uintptr) bool {
	if a.live != nil && !a.live.Contains(p) {
		return false
	}
	return a.core.TryReallocate(p, newSize)
}

// UsableSize returns the number of payload bytes available at p.
func (a *Allocator) UsableSize(p unsafe.Pointer) uintptr {
	if a.live != nil && !a.live.Contains(p) {
		return 0
	}
	return a.core.UsableSize(p)
}

// SizeClasses returns the payload size of every size class.
func (a *Allocator) SizeClasses() []uintptr {
	sizes := make([]uintptr, a.core.Classes())
	for i := range sizes {
		sizes[i] = a.core.IndexToSize(i)
	}
	return sizes
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() Stats {
	st := Stats{Stats: a.core.Stats()}
	if a.pages != nil {
		st.Pages = a.pages.Stats()
	}
	if a.live != nil {
		st.LiveBlocks = a.live.Len()
	}
	return st
}

// Verify checks the internal block structure. It must not run concurrently
// with other operations.
func (a *Allocator) Verify() error {
	return opError("verify", 0, a.core.Verify())
}

// Close returns all memory to the operating system. Blocks still allocated
// become invalid. With the default page allocator this includes oversize
// blocks; a custom large-block allocator keeps its oversize blocks.
func (a *Allocator) Close() error {
	if a.closed.Swap(true) {
		return nil
	}

	chunks := a.core.Stats().Chunks

	err := a.core.Close()
	if a.pages != nil {
		err = errors.Join(err, a.pages.Close())
	}
	if a.live != nil {
		a.live.Clear()
		a.freed.Clear()
	}

	a.logger.LogClose(context.Background(), chunks, err)

	return opError("close", 0, err)
}
