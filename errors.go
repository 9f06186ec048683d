package lfalloc

import (
	"fmt"

	"github.com/hupe1980/lfalloc/internal/buddy"
	"github.com/hupe1980/lfalloc/pagealloc"
)

var (
	// ErrOutOfMemory is returned when no memory can be obtained for a request.
	ErrOutOfMemory = buddy.ErrOutOfMemory
	// ErrMemoryLimitExceeded is wrapped by ErrOutOfMemory when the memory
	// limit of the default large-block allocator is reached.
	ErrMemoryLimitExceeded = pagealloc.ErrMemoryLimitExceeded
	// ErrDoubleFree is returned when a block is freed twice.
	ErrDoubleFree = buddy.ErrDoubleFree
	// ErrForeignPointer is returned when a pointer was not allocated here.
	ErrForeignPointer = buddy.ErrForeignPointer
	// ErrInvalidAlignment is returned for alignments above MaxAlign or not a
	// power of two.
	ErrInvalidAlignment = buddy.ErrInvalidAlignment
	// ErrClosed is returned after Close.
	ErrClosed = buddy.ErrClosed
	// ErrInvalidConfig is returned by New for unusable options.
	ErrInvalidConfig = buddy.ErrInvalidConfig
	// ErrCorrupted is returned by Verify.
	ErrCorrupted = buddy.ErrCorrupted
)

// AllocError describes a failed allocator operation.
//
// The original underlying error can be accessed via errors.Unwrap.
type AllocError struct {
	Op   string
	Size uintptr
	Err  error
}

func (e *AllocError) Error() string {
	if e.Op == "allocate" {
		return fmt.Sprintf("lfalloc: %s %d bytes: %v", e.Op, e.Size, e.Err)
	}
	return fmt.Sprintf("lfalloc: %s: %v", e.Op, e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }

func opError(op string, size uintptr, err error) error {
	if err == nil {
		return nil
	}
	return &AllocError{Op: op, Size: size, Err: err}
}
