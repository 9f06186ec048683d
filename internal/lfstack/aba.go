package lfstack

import (
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/lfalloc/internal/link"
)

// ABAStack is a lock-free stack of nodes linked through link.Link.
// The zero value is an empty stack.
type ABAStack[T any, P link.Node[T]] struct {
	head atomic.Uintptr
}

func addrOf[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func nodeAt[T any, P link.Node[T]](a uintptr) P {
	return P((*T)(unsafe.Pointer(a))) //nolint:govet // nodes live outside the Go heap
}

// Push adds n on top and reports whether the stack was empty.
func (s *ABAStack[T, P]) Push(n P) (wasEmpty bool) {
	for {
		old := s.head.Load()
		n.Link().SetNext((*T)(nodeAt[T, P](old)))
		if s.head.CompareAndSwap(old, addrOf((*T)(n))) {
			return old == 0
		}
	}
}

// Pop removes and returns the top node, or nil if the stack is empty.
func (s *ABAStack[T, P]) Pop() P {
	n, _ := s.PopLast()
	return n
}

// PopLast is Pop that also reports whether the popped node was the last one.
func (s *ABAStack[T, P]) PopLast() (P, bool) {
	for {
		old := s.head.Load()
		if old == 0 {
			return nil, false
		}
		n := nodeAt[T, P](old)
		next := n.Link().Next()
		if s.head.CompareAndSwap(old, addrOf(next)) {
			n.Link().SetNext(nil)
			return n, next == nil
		}
	}
}

// PopIfEquals pops the top node only if it is expected.
// It returns the popped node or nil.
func (s *ABAStack[T, P]) PopIfEquals(expected P) P {
	want := addrOf((*T)(expected))
	for {
		old := s.head.Load()
		if old == 0 || old != want {
			return nil
		}
		next := expected.Link().Next()
		if s.head.CompareAndSwap(old, addrOf(next)) {
			expected.Link().SetNext(nil)
			return expected
		}
	}
}

// Peek returns the top node without removing it.
func (s *ABAStack[T, P]) Peek() P {
	return nodeAt[T, P](s.head.Load())
}

// IsEmpty reports whether the stack has no nodes.
func (s *ABAStack[T, P]) IsEmpty() bool {
	return s.head.Load() == 0
}

// Swap installs the list starting at top as the whole stack and returns the
// previous list. The caller owns the returned nodes.
func (s *ABAStack[T, P]) Swap(top P) P {
	return nodeAt[T, P](s.head.Swap(addrOf((*T)(top))))
}

// Clear detaches and returns the whole list.
func (s *ABAStack[T, P]) Clear() P {
	return s.Swap(nil)
}
