// Package conv provides checked integer conversions between sizes taken
// from callers (int, uint64) and the uintptr sizes used by the allocators.
package conv
