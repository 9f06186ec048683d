// Package vptr provides a versioned pointer: an atomic (pointer, version) pair
// with ABA-proof compare-and-swap.
//
// # Layout
//
// A Slot is a single 64-bit atomic word:
//
//	 63                    19 18  16 15          0
//	+------------------------+------+-------------+
//	|  compressed address    | mark |   version   |
//	+------------------------+------+-------------+
//
// Addresses are stored with their three alignment bits dropped, which leaves
// 45 bits for a 48-bit virtual address. The freed alignment bits hold a small
// mark that is orthogonal to the pointer value. The version is bumped on every
// successful write, including writes that store the same pointer, touches and
// mark changes.
//
// # Memory
//
// The word is an integer, so the garbage collector does not see the pointee.
// Pointees must live in manually managed memory (anonymous mappings), exactly
// like nodes of the Go runtime's lock-free stack.
//
// # Limitations
//
// The version is 16 bits wide and wraps. A snapshot that is held across 65536
// writes can match again. Retry loops spin; starvation under adversarial
// scheduling is possible and not addressed here.
package vptr
