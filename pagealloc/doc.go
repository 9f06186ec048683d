// Package pagealloc provides a large-block allocator that maps every block
// directly from the operating system.
//
// It is the default backing store of lfalloc: the buddy allocator obtains
// its chunks here, and requests above the largest size class are served
// here whole. Blocks are page aligned, zeroed on first touch and live
// outside the Go heap.
//
// An optional memory budget (see WithMemoryLimit) turns mapping growth into
// ErrMemoryLimitExceeded instead of relying on the kernel's overcommit.
package pagealloc
