package liveset

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/lfalloc/testutil"
)

func TestSet(t *testing.T) {
	words := testutil.OffHeap[uint64](t, 4)
	a, b := unsafe.Pointer(&words[0]), unsafe.Pointer(&words[3])

	s := New()
	assert.True(t, s.Add(a))
	assert.False(t, s.Add(a), "already live")
	assert.True(t, s.Add(b))
	assert.True(t, s.Contains(a))
	assert.Equal(t, uint64(2), s.Len())

	var seen []uintptr
	s.ForEach(func(p uintptr) bool {
		seen = append(seen, p)
		return true
	})
	assert.Equal(t, []uintptr{uintptr(a), uintptr(b)}, seen)

	assert.True(t, s.Remove(a))
	assert.False(t, s.Remove(a), "double remove")
	assert.False(t, s.Contains(a))

	s.Clear()
	assert.Zero(t, s.Len())
}

func TestSetConcurrent(t *testing.T) {
	words := testutil.OffHeap[uint64](t, 1024)

	s := New()
	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := g; i < len(words); i += 4 {
				p := unsafe.Pointer(&words[i])
				assert.True(t, s.Add(p))
				if i%2 == 0 {
					assert.True(t, s.Remove(p))
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(512), s.Len())
}
