package buddy

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/hupe1980/lfalloc/internal/guard"
)

// classList is the free list of one class below the top. The list itself is
// touched only by the goroutine draining guard.
type classList struct {
	_     cpu.CacheLinePad
	guard guard.Guard[header, *header]
	head  *header
	count atomic.Int64

	splits atomic.Uint64
	merges atomic.Uint64
	_      cpu.CacheLinePad
}

func (l *classList) pushFront(h *header) {
	h.prev.SetNext(nil)
	h.next.Store(l.head)
	if l.head != nil {
		l.head.prev.SetNext(h)
	}
	l.head = h
	l.count.Add(1)
}

func (l *classList) remove(h *header) {
	prev, next := h.prev.Next(), h.next.Load()
	if prev != nil {
		prev.next.Store(next)
	} else {
		l.head = next
	}
	if next != nil {
		next.prev.SetNext(prev)
	}
	h.prev.SetNext(nil)
	h.next.Store(nil)
	l.count.Add(-1)
}

func (l *classList) popFront() *header {
	h := l.head
	if h != nil {
		l.remove(h)
	}
	return h
}
