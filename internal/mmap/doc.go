// Package mmap provides anonymous read-write memory mappings.
//
// # Overview
//
// Mappings live outside the Go heap. The garbage collector never scans or
// moves them, so pointers into a mapping may be stored as integers and
// packed together with tags, the way the lock-free structures in this module
// require.
//
// # Usage
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	p := m.Pointer() // page aligned
//
//	// Give the tail back to the kernel without unmapping it
//	r, _ := m.Region(4096, m.Size()-4096)
//	r.Advise(mmap.AccessDontNeed)
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE, madvise(2)
//   - Windows: VirtualAlloc with MEM_RESERVE|MEM_COMMIT (advice is a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must ensure
// no goroutine touches the memory after Close returns.
package mmap
