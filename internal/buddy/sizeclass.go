package buddy

import (
	"fmt"
	"math/bits"
)

// MaxClasses bounds the number of size classes; one side bit per class fits
// in the meta word.
const MaxClasses = 32

// classes maps request sizes to power-of-two block sizes. Class i holds raw
// blocks of 1<<(minShift+i) bytes, header included.
type classes struct {
	minShift int
	top      int
}

func newClasses(minBlockSize, maxBlockSize uintptr) (classes, error) {
	if minBlockSize == 0 || maxBlockSize < minBlockSize {
		return classes{}, fmt.Errorf("%w: block sizes [%d, %d]", ErrInvalidConfig, minBlockSize, maxBlockSize)
	}

	minShift := bits.Len(uint(minBlockSize + HeaderSize - 1))
	topShift := bits.Len(uint(maxBlockSize + HeaderSize - 1))
	if topShift-minShift >= MaxClasses || topShift >= 48 {
		return classes{}, fmt.Errorf("%w: block sizes [%d, %d] span too many classes", ErrInvalidConfig, minBlockSize, maxBlockSize)
	}

	return classes{minShift: minShift, top: topShift - minShift}, nil
}

// raw returns the block size of class i, header included.
func (c classes) raw(i int) uintptr { return 1 << (c.minShift + i) }

// IndexToSize returns the payload size of class i.
func (c classes) IndexToSize(i int) uintptr { return c.raw(i) - HeaderSize }

// SizeToIndex returns the smallest class whose payload holds n bytes.
func (c classes) SizeToIndex(n uintptr) int {
	raw := n + HeaderSize
	if raw <= c.raw(0) {
		return 0
	}
	return bits.Len(uint(raw-1)) - c.minShift
}

// Top returns the index of the largest class.
func (c classes) Top() int { return c.top }
