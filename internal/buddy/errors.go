package buddy

import "errors"

var (
	// ErrOutOfMemory is returned when the large-block allocator cannot supply memory.
	ErrOutOfMemory = errors.New("buddy: out of memory")
	// ErrDoubleFree is returned when a block is freed twice.
	ErrDoubleFree = errors.New("buddy: double free")
	// ErrForeignPointer is returned when a pointer was not allocated here.
	ErrForeignPointer = errors.New("buddy: foreign pointer")
	// ErrInvalidAlignment is returned when an alignment above MaxAlign or not a
	// power of two is requested.
	ErrInvalidAlignment = errors.New("buddy: invalid alignment")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("buddy: allocator is closed")
	// ErrInvalidConfig is returned for unusable block size bounds.
	ErrInvalidConfig = errors.New("buddy: invalid configuration")
)
