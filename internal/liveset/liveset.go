// Package liveset tracks the addresses of live blocks for misuse detection.
//
// Addresses are stored in a 64-bit Roaring bitmap keyed by address/8, so a
// set of blocks carved from a few chunks compresses into a handful of
// containers.
package liveset

import (
	"sync"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

const alignShift = 3

// Set is a concurrency-safe set of block addresses.
type Set struct {
	mu sync.Mutex
	rb *roaring64.Bitmap
}

// New creates an empty set.
func New() *Set {
	return &Set{rb: roaring64.New()}
}

func key(p unsafe.Pointer) uint64 {
	return uint64(uintptr(p)) >> alignShift
}

// Add records p as live. It returns false if p was already live.
func (s *Set) Add(p unsafe.Pointer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rb.CheckedAdd(key(p))
}

// Remove forgets p. It returns false if p was not live.
func (s *Set) Remove(p unsafe.Pointer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rb.CheckedRemove(key(p))
}

// Contains reports whether p is live.
func (s *Set) Contains(p unsafe.Pointer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rb.Contains(key(p))
}

// Len returns the number of live addresses.
func (s *Set) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rb.GetCardinality()
}

// ForEach calls fn for every live address in ascending order until fn
// returns false. fn must not modify the set.
func (s *Set) ForEach(fn func(p uintptr) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.rb.Iterator()
	for it.HasNext() {
		if !fn(uintptr(it.Next() << alignShift)) {
			break
		}
	}
}

// Clear removes every address.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rb.Clear()
}
