// Package lfstack provides intrusive lock-free LIFO stacks.
//
// Two variants share one contract:
//
//   - ABAStack keeps a raw head pointer. Pop is exposed to ABA when a node is
//     popped, reused and pushed again between another goroutine's load and
//     CAS. Use it where that cannot happen, e.g. push-only stacks drained with
//     Clear.
//   - Stack keeps a versioned head (see package vptr) and is safe against ABA
//     as long as popped nodes stay mapped.
//
// Stacks never allocate. Nodes embed their own link and must live outside
// the Go heap.
package lfstack
