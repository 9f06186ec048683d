package buddy

import (
	"unsafe"

	"github.com/hupe1980/lfalloc/internal/link"
)

// chunk trails every top-class block obtained from the large-block
// allocator and links it into the registry.
type chunk struct {
	link link.Link[chunk]
}

const chunkTrailer = unsafe.Sizeof(chunk{})

func (c *chunk) Link() *link.Link[chunk] { return &c.link }

func (a *Allocator) chunkOf(h *header) *chunk {
	return (*chunk)(unsafe.Add(unsafe.Pointer(h), a.cls.raw(a.cls.top)))
}

func (a *Allocator) baseOf(c *chunk) *header {
	return (*header)(unsafe.Add(unsafe.Pointer(c), -int(a.cls.raw(a.cls.top))))
}

// eachChunk visits the registry without detaching it. The registry only
// grows while the allocator is open, so the walk is safe at any time.
func (a *Allocator) eachChunk(fn func(base *header)) {
	for c := a.chunks.Peek(); c != nil; c = c.link.Next() {
		fn(a.baseOf(c))
	}
}
