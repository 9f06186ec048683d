package mmap

// Region represents a page-aligned subsection of a mapping.
// It does not own the memory; the parent Mapping does.
type Region struct {
	parent *Mapping
	offset int
	size   int
}

// Region creates a view into the mapping. The offset is rounded up and the
// end rounded down to page boundaries, so the region may be empty.
func (m *Mapping) Region(offset, size int) (*Region, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if offset < 0 || size < 0 || offset+size > len(m.data) {
		return nil, ErrOutOfBounds
	}

	start := RoundUp(offset)
	end := (offset + size) &^ (pageSize - 1)
	if end < start {
		end = start
	}

	return &Region{parent: m, offset: start, size: end - start}, nil
}

// Size returns the size of the region in bytes.
func (r *Region) Size() int { return r.size }

// Bytes returns the byte slice for this region.
// Warning: The slice is valid only until the parent Mapping is closed.
func (r *Region) Bytes() []byte {
	if r.parent.closed.Load() {
		return nil
	}
	return r.parent.data[r.offset : r.offset+r.size]
}

// Advise provides hints to the kernel about how this region will be accessed.
func (r *Region) Advise(pattern AccessPattern) error {
	if r.parent.closed.Load() {
		return ErrClosed
	}
	if r.size == 0 {
		return nil
	}
	return osAdvise(r.parent.data[r.offset:r.offset+r.size], pattern)
}
