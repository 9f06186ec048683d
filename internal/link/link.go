// Package link provides the intrusive next link embedded in nodes of the
// lock-free structures in this module.
//
// A Link stores its target as an integer. Nodes must live outside the Go
// heap; see package vptr.
package link

import (
	"sync/atomic"
	"unsafe"
)

// Link is an intrusive, atomically updated next pointer.
// The zero value links to nothing.
type Link[T any] struct {
	next atomic.Uintptr
}

// Node is implemented by *T when T embeds a Link to other Ts.
type Node[T any] interface {
	*T
	Link() *Link[T]
}

// Next returns the linked node.
func (l *Link[T]) Next() *T {
	return fromAddr[T](l.next.Load())
}

// SetNext links to n.
func (l *Link[T]) SetNext(n *T) {
	l.next.Store(addr(n))
}

// CompareAndSwapNext links to new if the link currently points to old.
func (l *Link[T]) CompareAndSwapNext(old, new *T) bool {
	return l.next.CompareAndSwap(addr(old), addr(new))
}

// SwapNext links to n and returns the previous target.
func (l *Link[T]) SwapNext(n *T) *T {
	return fromAddr[T](l.next.Swap(addr(n)))
}

func addr[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func fromAddr[T any](a uintptr) *T {
	return (*T)(unsafe.Pointer(a)) //nolint:govet // pointee lives outside the Go heap
}
