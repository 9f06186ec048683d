package lfstack

import (
	"sync/atomic"

	"github.com/hupe1980/lfalloc/internal/vptr"
)

// Node is implemented by *T when T embeds a versioned next slot.
type Node[T any] interface {
	*T
	NextSlot() *vptr.Slot[T]
}

// Stack is an ABA-safe lock-free stack. The zero value is an empty stack.
type Stack[T any, P Node[T]] struct {
	head vptr.Slot[T]
	n    atomic.Int64
}

// Push adds n on top and reports whether the stack was empty.
func (s *Stack[T, P]) Push(n P) (wasEmpty bool) {
	snap := s.head.LoadSnapshot()
	for {
		top := snap.Ptr
		n.NextSlot().Store(top)
		if s.head.CompareAndSwapSnapshot((*T)(n), &snap) {
			s.n.Add(1)
			return top == nil
		}
	}
}

// Pop removes and returns the top node, or nil if the stack is empty.
func (s *Stack[T, P]) Pop() P {
	n, _ := s.PopLast()
	return n
}

// PopLast is Pop that also reports whether the popped node was the last one.
func (s *Stack[T, P]) PopLast() (P, bool) {
	snap := s.head.LoadSnapshot()
	for snap.Ptr != nil {
		n := P(snap.Ptr)
		next := n.NextSlot().Load()
		if s.head.CompareAndSwapSnapshot(next, &snap) {
			s.n.Add(-1)
			return n, next == nil
		}
	}
	return nil, false
}

// PopIfEquals pops the top node only if it is expected.
// It returns the popped node or nil.
func (s *Stack[T, P]) PopIfEquals(expected P) P {
	snap := s.head.LoadSnapshot()
	for snap.Ptr != nil && snap.Ptr == (*T)(expected) {
		next := expected.NextSlot().Load()
		if s.head.CompareAndSwapSnapshot(next, &snap) {
			s.n.Add(-1)
			return expected
		}
	}
	return nil
}

// Peek returns the top node without removing it.
func (s *Stack[T, P]) Peek() P {
	return P(s.head.Load())
}

// IsEmpty reports whether the stack has no nodes.
func (s *Stack[T, P]) IsEmpty() bool {
	return s.head.Load() == nil
}

// Len returns the number of nodes. It is exact only while the stack is
// quiescent.
func (s *Stack[T, P]) Len() int {
	return int(s.n.Load())
}

// Swap installs the list starting at top as the whole stack and returns the
// previous list. The caller owns the returned nodes.
func (s *Stack[T, P]) Swap(top P) P {
	snap := s.head.LoadSnapshot()
	for {
		old := snap.Ptr
		if s.head.CompareAndSwapSnapshot((*T)(top), &snap) {
			s.n.Add(int64(length[T, P](top) - length[T, P](P(old))))
			return P(old)
		}
	}
}

// Clear detaches and returns the whole list.
func (s *Stack[T, P]) Clear() P {
	return s.Swap(nil)
}

func length[T any, P Node[T]](n P) int {
	c := 0
	for ; n != nil; n = P(n.NextSlot().Load()) {
		c++
	}
	return c
}
