package link

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/lfalloc/testutil"
)

type node struct {
	link Link[node]
	id   int
}

func (n *node) Link() *Link[node] { return &n.link }

func walk[T any, P Node[T]](head P) []P {
	var out []P
	for n := head; n != nil; n = P(n.Link().Next()) {
		out = append(out, n)
	}
	return out
}

func TestLink(t *testing.T) {
	nodes := testutil.OffHeap[node](t, 3)
	a, b, c := &nodes[0], &nodes[1], &nodes[2]

	assert.Nil(t, a.link.Next())

	a.link.SetNext(b)
	b.link.SetNext(c)
	assert.Equal(t, []*node{a, b, c}, walk(a))

	assert.False(t, a.link.CompareAndSwapNext(c, nil))
	assert.True(t, a.link.CompareAndSwapNext(b, c))
	assert.Same(t, c, a.link.Next())

	assert.Same(t, c, a.link.SwapNext(nil))
	assert.Nil(t, a.link.Next())
}
