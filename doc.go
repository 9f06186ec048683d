// Package lfalloc provides a lock-free buddy block allocator for memory that
// lives outside the Go heap.
//
// Blocks are carved from power-of-two size classes. Freeing a block merges
// it with its buddy whenever possible, so memory returns to whole chunks
// without a background compactor. Every operation is non-blocking: no
// goroutine ever waits for another, even under heavy contention on a single
// size class.
//
// # Quick Start
//
//	a, err := lfalloc.New()
//	if err != nil { ... }
//	defer a.Close()
//
//	p, err := a.Allocate(256, 8)
//	if err != nil { ... }
//	defer a.Deallocate(p)
//
//	buf, _ := a.AllocBytes(1024) // []byte view over an off-heap block
//	defer a.FreeBytes(buf)
//
// # Size Classes
//
// Requests between WithMinBlockSize and WithMaxBlockSize are served from
// size classes. Larger requests go whole to the large-block allocator,
// which maps them directly from the operating system unless replaced with
// WithLargeBlockAllocator.
//
// # Memory Model
//
// Blocks are never scanned by the garbage collector. Do not store the only
// reference to a Go heap object inside a block. Memory returns to the
// operating system on Close; accessing a block after it is freed or after
// Close is undefined.
//
// # Misuse Detection
//
// Double frees of pooled blocks and pointers without a block header are
// always reported. WithMisuseDetection additionally tracks every live block,
// which catches double frees of oversize blocks and frees of interior
// pointers before any memory is touched.
package lfalloc
