package lfstack

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lfalloc/internal/vptr"
	"github.com/hupe1980/lfalloc/testutil"
)

type node struct {
	next vptr.Slot[node]
	id   int
}

func (n *node) NextSlot() *vptr.Slot[node] { return &n.next }

func TestStackLIFO(t *testing.T) {
	nodes := testutil.OffHeap[node](t, 3)
	for i := range nodes {
		nodes[i].id = i
	}

	var s Stack[node, *node]
	assert.True(t, s.IsEmpty())
	assert.Nil(t, s.Pop())

	assert.True(t, s.Push(&nodes[0]))
	assert.False(t, s.Push(&nodes[1]))
	assert.False(t, s.Push(&nodes[2]))
	assert.Equal(t, 3, s.Len())
	assert.Same(t, &nodes[2], s.Peek())

	assert.Nil(t, s.PopIfEquals(&nodes[0]))
	assert.Same(t, &nodes[2], s.PopIfEquals(&nodes[2]))

	n, last := s.PopLast()
	assert.Equal(t, 1, n.id)
	assert.False(t, last)

	n, last = s.PopLast()
	assert.Equal(t, 0, n.id)
	assert.True(t, last)
	assert.True(t, s.IsEmpty())
	assert.Zero(t, s.Len())
}

func TestStackSwapAndClear(t *testing.T) {
	nodes := testutil.OffHeap[node](t, 4)

	var s Stack[node, *node]
	s.Push(&nodes[0])
	s.Push(&nodes[1])

	nodes[2].next.Store(&nodes[3])
	nodes[3].next.Store(nil)

	old := s.Swap(&nodes[2])
	assert.Same(t, &nodes[1], old)
	assert.Same(t, &nodes[0], old.next.Load())
	assert.Equal(t, 2, s.Len())

	assert.Same(t, &nodes[2], s.Clear())
	assert.Zero(t, s.Len())
	assert.True(t, s.IsEmpty())
}

// Goroutines pop and re-push the same nodes; the multiset of nodes must be
// unchanged afterwards.
func TestStackConcurrentMultiset(t *testing.T) {
	const total, goroutines, rounds = 256, 8, 2000
	nodes := testutil.OffHeap[node](t, total)

	var s Stack[node, *node]
	for i := range nodes {
		nodes[i].id = i
		s.Push(&nodes[i])
	}

	rng := testutil.NewRNG(4711)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		r := rng.Fork()
		go func() {
			defer wg.Done()
			held := make([]*node, 0, 8)
			for range rounds {
				if len(held) < cap(held) && r.Intn(2) == 0 {
					if n := s.Pop(); n != nil {
						held = append(held, n)
					}
					continue
				}
				if len(held) > 0 {
					s.Push(held[len(held)-1])
					held = held[:len(held)-1]
				}
			}
			for _, n := range held {
				s.Push(n)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, total, s.Len())

	seen := make(map[int]bool, total)
	for n := s.Pop(); n != nil; n = s.Pop() {
		require.False(t, seen[n.id], "node %d popped twice", n.id)
		seen[n.id] = true
	}
	assert.Len(t, seen, total)
	assert.True(t, s.IsEmpty())
}
