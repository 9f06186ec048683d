// Package buddy implements a lock-free binary buddy block allocator.
//
// # Layout
//
// Memory is obtained in chunks from a LargeBlockAllocator. Each chunk is one
// block of the top size class, followed by a small trailer that links it
// into the allocator's chunk registry. Blocks split in halves down to the
// smallest class; every block starts with a HeaderSize header:
//
//	+------------+------------+------------+------------+-----------------+
//	| meta       | next       | prev       | size       | payload ...     |
//	+------------+------------+------------+------------+-----------------+
//
// The meta word holds the block's state, class, a magic number and one side
// bit per level that tells whether the block is the left or right half of
// its parent. Buddies are found from these bits, so chunks need no special
// alignment.
//
// # Free Lists
//
// The top class is an ABA-safe lock-free stack. Every smaller class is a
// doubly-linked list owned by whichever goroutine currently drains that
// class's guard (see package guard). Freed blocks are queued on the guard
// in the Coalescing state; the drainer either merges them with a free buddy
// or puts them on the list. When both buddies are queued at once the first
// one processed marks the other Promoting and waits off-list; processing the
// Promoting buddy performs the merge. Merged parents cascade upwards class
// by class. No goroutine ever waits for another.
//
// # States
//
//	Allocated  --free-->  Coalescing  --no free buddy-->  Free
//	                          |
//	                          +--buddy free or Promoting-->  merged into parent
//	Free  --taken by allocate-->  Allocated
//
// # Non-goals
//
// Blocks are never returned to the operating system before Close. Requests
// above the configured maximum go to the LargeBlockAllocator unchanged.
package buddy
