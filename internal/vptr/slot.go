package vptr

import (
	"sync/atomic"
	"unsafe"
)

// Version is the write counter of a Slot. It wraps at 1<<16.
type Version uint16

// Mark is a tag stored in the alignment bits of a Slot's pointer.
type Mark uint8

// MaxMark is the largest representable mark.
const MaxMark Mark = markMask

// Snapshot is a pointer together with the version it was observed at.
type Snapshot[T any] struct {
	Ptr     *T
	Version Version
}

// Slot holds a pointer to T and a version, updated atomically together.
//
// The zero value holds nil at version 0. A Slot must not be copied after
// first use.
type Slot[T any] struct {
	word atomic.Uint64
}

func compress[T any](p *T) uint64 {
	if p == nil {
		return 0
	}
	return Compress(unsafe.Pointer(p))
}

func ptrOf[T any](w uint64) *T {
	c := addrOf(w)
	if c == 0 {
		return nil
	}
	return (*T)(Expand(c))
}

// Load returns the current pointer.
func (s *Slot[T]) Load() *T {
	return ptrOf[T](s.word.Load())
}

// LoadVersioned returns the current pointer and version as a unit.
func (s *Slot[T]) LoadVersioned() (*T, Version) {
	w := s.word.Load()
	return ptrOf[T](w), versionOf(w)
}

// LoadSnapshot is LoadVersioned packaged as a Snapshot.
func (s *Slot[T]) LoadSnapshot() Snapshot[T] {
	p, v := s.LoadVersioned()
	return Snapshot[T]{Ptr: p, Version: v}
}

// Version returns the current version.
func (s *Slot[T]) Version() Version {
	return versionOf(s.word.Load())
}

// Store installs p, keeping the mark, and returns the new version.
func (s *Slot[T]) Store(p *T) Version {
	c := compress(p)
	for {
		old := s.word.Load()
		v := versionOf(old) + 1
		if s.word.CompareAndSwap(old, pack(c, markOf(old), v)) {
			return v
		}
	}
}

// CompareAndSwap installs new if the current pointer is old, regardless of
// the version. It is vulnerable to ABA when used on its own.
func (s *Slot[T]) CompareAndSwap(old, new *T) bool {
	oc, nc := compress(old), compress(new)
	for {
		w := s.word.Load()
		if addrOf(w) != oc {
			return false
		}
		if s.word.CompareAndSwap(w, pack(nc, markOf(w), versionOf(w)+1)) {
			return true
		}
	}
}

// VersionedCompareAndSwap installs new only if the version is still
// *expected. On success *expected is advanced to the new version. On failure
// *expected is refreshed with the current version so the caller can retry.
func (s *Slot[T]) VersionedCompareAndSwap(new *T, expected *Version) bool {
	nc := compress(new)
	w := s.word.Load()
	for versionOf(w) == *expected {
		v := versionOf(w) + 1
		if s.word.CompareAndSwap(w, pack(nc, markOf(w), v)) {
			*expected = v
			return true
		}
		w = s.word.Load()
	}
	*expected = versionOf(w)
	return false
}

// CompareAndSwapSnapshot is VersionedCompareAndSwap that also refreshes the
// snapshot's pointer on failure and sets it to new on success.
func (s *Slot[T]) CompareAndSwapSnapshot(new *T, snap *Snapshot[T]) bool {
	nc := compress(new)
	w := s.word.Load()
	for versionOf(w) == snap.Version {
		v := versionOf(w) + 1
		if s.word.CompareAndSwap(w, pack(nc, markOf(w), v)) {
			snap.Ptr, snap.Version = new, v
			return true
		}
		w = s.word.Load()
	}
	snap.Ptr, snap.Version = ptrOf[T](w), versionOf(w)
	return false
}

// Touch bumps the version without changing the pointer, invalidating every
// outstanding snapshot.
func (s *Slot[T]) Touch() Version {
	return s.update(func(c uint64, m Mark) (uint64, Mark) { return c, m })
}

// Mark returns the current mark.
func (s *Slot[T]) Mark() Mark {
	return markOf(s.word.Load())
}

// SetMark sets the bits of m in the mark.
func (s *Slot[T]) SetMark(m Mark) Version {
	return s.update(func(c uint64, old Mark) (uint64, Mark) { return c, old | m })
}

// ClearMark clears the bits of m in the mark.
func (s *Slot[T]) ClearMark(m Mark) Version {
	return s.update(func(c uint64, old Mark) (uint64, Mark) { return c, old &^ m })
}

// SetToMark replaces the mark with m.
func (s *Slot[T]) SetToMark(m Mark) Version {
	return s.update(func(c uint64, _ Mark) (uint64, Mark) { return c, m })
}

func (s *Slot[T]) update(fn func(c uint64, m Mark) (uint64, Mark)) Version {
	for {
		w := s.word.Load()
		c, m := fn(addrOf(w), markOf(w))
		v := versionOf(w) + 1
		if s.word.CompareAndSwap(w, pack(c, m, v)) {
			return v
		}
	}
}
