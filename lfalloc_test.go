package lfalloc

import (
	"bytes"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lfalloc/pagealloc"
	"github.com/hupe1980/lfalloc/testutil"
)

func newTestAllocator(t *testing.T, opts ...Option) *Allocator {
	t.Helper()

	a, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	return a
}

func TestNewDefaults(t *testing.T) {
	a := newTestAllocator(t)

	sizes := a.SizeClasses()
	require.NotEmpty(t, sizes)
	assert.GreaterOrEqual(t, sizes[0], uintptr(DefaultMinBlockSize))
	assert.GreaterOrEqual(t, sizes[len(sizes)-1], uintptr(DefaultMaxBlockSize))
	assert.Less(t, sizes[len(sizes)-2], uintptr(DefaultMaxBlockSize))

	for i := 1; i < len(sizes); i++ {
		assert.Greater(t, sizes[i], sizes[i-1])
	}
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(WithMinBlockSize(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	var ae *AllocError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "new", ae.Op)

	_, err = New(WithMinBlockSize(1024), WithMaxBlockSize(64))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAllocateDeallocate(t *testing.T) {
	a := newTestAllocator(t, WithMinBlockSize(16), WithMaxBlockSize(4096))

	p, err := a.Allocate(100, 8)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Zero(t, uintptr(p)%8)
	assert.GreaterOrEqual(t, a.UsableSize(p), uintptr(100))

	b := unsafe.Slice((*byte)(p), 100)
	for i := range b {
		b[i] = byte(i)
	}

	require.NoError(t, a.Deallocate(p))
	assert.NoError(t, a.Deallocate(nil))

	st := a.Stats()
	assert.Equal(t, uint64(1), st.TotalAllocs)
	assert.Equal(t, uint64(1), st.TotalFrees)
	assert.Zero(t, st.InFlight)
	assert.Equal(t, int64(1), st.Chunks)
	assert.Equal(t, int64(1), st.Pages.Mappings)

	require.NoError(t, a.Verify())
}

func TestAllocateInvalidAlignment(t *testing.T) {
	a := newTestAllocator(t)

	_, err := a.Allocate(64, 3)
	assert.ErrorIs(t, err, ErrInvalidAlignment)

	_, err = a.Allocate(64, MaxAlign*2)
	assert.ErrorIs(t, err, ErrInvalidAlignment)
}

func TestAllocBytes(t *testing.T) {
	a := newTestAllocator(t)

	b, err := a.AllocBytes(40)
	require.NoError(t, err)
	assert.Len(t, b, 40)
	assert.GreaterOrEqual(t, cap(b), 40)

	copy(b, "hello, off-heap world")
	assert.Equal(t, "hello", string(b[:5]))
	require.NoError(t, a.FreeBytes(b))

	empty, err := a.AllocBytes(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
	require.NoError(t, a.FreeBytes(empty))

	_, err = a.AllocBytes(-1)
	assert.Error(t, err)

	assert.NoError(t, a.FreeBytes(nil))
}

func TestOversize(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	a := newTestAllocator(t, WithMaxBlockSize(4096), WithMetricsCollector(metrics))

	p, err := a.Allocate(1<<20, 8)
	require.NoError(t, err)
	assert.Equal(t, uintptr(1<<20), a.UsableSize(p))

	st := a.Stats()
	assert.Equal(t, uint64(1), st.OversizeAllocs)
	assert.Equal(t, int64(1<<20), st.OversizeBytes)
	assert.Zero(t, st.Chunks)

	require.NoError(t, a.Deallocate(p))

	ms := metrics.GetStats()
	assert.Equal(t, int64(1), ms.OversizeCount)
	assert.Equal(t, int64(1), ms.DeallocCount)
	assert.Zero(t, ms.RefillCount)
}

func TestTryReallocate(t *testing.T) {
	a := newTestAllocator(t, WithMinBlockSize(16), WithMaxBlockSize(4096))

	p, err := a.Allocate(20, 8)
	require.NoError(t, err)

	usable := a.UsableSize(p)
	assert.True(t, a.TryReallocate(p, usable))
	assert.False(t, a.TryReallocate(p, usable+1))
	assert.Equal(t, usable, a.UsableSize(p))

	require.NoError(t, a.Deallocate(p))
}

func TestDoubleFreeDetected(t *testing.T) {
	a := newTestAllocator(t, WithMaxBlockSize(4096))

	p, err := a.Allocate(64, 8)
	require.NoError(t, err)
	require.NoError(t, a.Deallocate(p))

	err = a.Deallocate(p)
	assert.ErrorIs(t, err, ErrDoubleFree)

	var ae *AllocError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "deallocate", ae.Op)
}

func TestMisuseDetection(t *testing.T) {
	a := newTestAllocator(t, WithMaxBlockSize(4096), WithMisuseDetection(true))

	p, err := a.Allocate(64, 8)
	require.NoError(t, err)
	big, err := a.Allocate(8192, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), a.Stats().LiveBlocks)

	require.NoError(t, a.Deallocate(p))
	require.NoError(t, a.Deallocate(big))
	assert.Zero(t, a.Stats().LiveBlocks)

	assert.ErrorIs(t, a.Deallocate(p), ErrDoubleFree)
	// The oversize block is unmapped; the live set rejects it untouched.
	assert.ErrorIs(t, a.Deallocate(big), ErrDoubleFree)

	var local [4]uint64
	assert.ErrorIs(t, a.Deallocate(unsafe.Pointer(&local[1])), ErrForeignPointer)
	assert.False(t, a.TryReallocate(p, 16))
	assert.Zero(t, a.UsableSize(p))

	// Reallocating the same address makes it live again.
	q, err := a.Allocate(64, 8)
	require.NoError(t, err)
	assert.Equal(t, p, q)
	require.NoError(t, a.Deallocate(q))

	require.NoError(t, a.Verify())
}

func TestMemoryLimit(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	a := newTestAllocator(t, WithMemoryLimit(4096), WithMetricsCollector(metrics))

	_, err := a.Allocate(64, 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)

	ms := metrics.GetStats()
	assert.Equal(t, int64(1), ms.RefillCount)
	assert.Equal(t, int64(1), ms.RefillErrors)
	assert.Equal(t, int64(1), ms.AllocErrors)
}

type countingLarge struct {
	*pagealloc.Allocator
	allocs atomic.Int64
}

func (c *countingLarge) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	c.allocs.Add(1)
	return c.Allocator.Allocate(size, align)
}

func TestCustomLargeBlockAllocator(t *testing.T) {
	large := &countingLarge{Allocator: pagealloc.New()}
	defer func() { assert.NoError(t, large.Close()) }()

	a, err := New(WithMaxBlockSize(1024), WithLargeBlockAllocator(large))
	require.NoError(t, err)

	p, err := a.Allocate(32, 8)
	require.NoError(t, err)
	q, err := a.Allocate(4096, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(2), large.allocs.Load())
	assert.Zero(t, a.Stats().Pages.Mappings)

	require.NoError(t, a.Deallocate(p))
	require.NoError(t, a.Deallocate(q))
	require.NoError(t, a.Close())

	assert.Zero(t, large.Stats().MappedBytes)
}

type flakyLarge struct {
	*pagealloc.Allocator
	fail atomic.Bool
}

func (f *flakyLarge) Deallocate(p unsafe.Pointer) error {
	if f.fail.Load() {
		return errors.New("unmap refused")
	}
	return f.Allocator.Deallocate(p)
}

func TestFailedDeallocateKeepsBlockLive(t *testing.T) {
	large := &flakyLarge{Allocator: pagealloc.New()}
	defer func() { assert.NoError(t, large.Close()) }()

	a, err := New(WithMaxBlockSize(1024), WithLargeBlockAllocator(large), WithMisuseDetection(true))
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	p, err := a.Allocate(4096, 8)
	require.NoError(t, err)

	large.fail.Store(true)
	err = a.Deallocate(p)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDoubleFree)
	assert.Equal(t, uint64(1), a.Stats().LiveBlocks)
	assert.Equal(t, uintptr(4096), a.UsableSize(p))

	large.fail.Store(false)
	require.NoError(t, a.Deallocate(p))
	assert.Zero(t, a.Stats().LiveBlocks)
	assert.ErrorIs(t, a.Deallocate(p), ErrDoubleFree)
}

func TestAllocateTooLarge(t *testing.T) {
	a := newTestAllocator(t, WithMaxBlockSize(4096))

	_, err := a.Allocate(^uintptr(0)-16, 8)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	_, err = a.Allocate(^uintptr(0)>>1, 8)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	st := a.Stats()
	assert.Zero(t, st.OversizeAllocs)
	assert.Zero(t, st.Pages.Mappings)
}

func TestClose(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	p, err := a.Allocate(64, 8)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())

	_, err = a.Allocate(64, 8)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Deallocate(p), ErrClosed)
	assert.False(t, a.TryReallocate(p, 8))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a, err := New(WithMaxBlockSize(1024), WithLogger(logger))
	require.NoError(t, err)

	p, err := a.Allocate(32, 8)
	require.NoError(t, err)
	q, err := a.Allocate(2048, 8)
	require.NoError(t, err)
	require.NoError(t, a.Deallocate(p))
	require.NoError(t, a.Deallocate(q))
	assert.Error(t, a.Deallocate(p))
	require.NoError(t, a.Close())

	out := buf.String()
	assert.Contains(t, out, "chunk refilled")
	assert.Contains(t, out, "oversize allocation delegated")
	assert.Contains(t, out, "allocator misuse")
	assert.Contains(t, out, "allocator closed")
}

func TestWarningsThrottled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	a := newTestAllocator(t, WithMemoryLimit(1), WithLogger(logger))

	for i := 0; i < 100; i++ {
		_, err := a.Allocate(64, 8)
		require.Error(t, err)
	}

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Greater(t, lines, 0)
	assert.Less(t, lines, 100)
}

func TestConcurrent(t *testing.T) {
	const (
		goroutines = 8
		ops        = 4000
		maxHeld    = 32
	)

	a := newTestAllocator(t, WithMinBlockSize(16), WithMaxBlockSize(8192), WithMisuseDetection(true))
	rng := testutil.NewRNG(99)

	var g errgroup.Group
	for w := 0; w < goroutines; w++ {
		r := rng.Fork()
		tag := byte(w + 1)
		g.Go(func() error {
			var held [][]byte
			for i := 0; i < ops; i++ {
				if len(held) < maxHeld && (len(held) == 0 || r.Intn(2) == 0) {
					b, err := a.AllocBytes(r.LogUniform(1, 16384))
					if err != nil {
						return err
					}
					for j := range b {
						b[j] = tag
					}
					held = append(held, b)
					continue
				}

				k := r.Intn(len(held))
				b := held[k]
				for _, c := range b {
					if c != tag {
						return errors.New("block overwritten by another goroutine")
					}
				}
				if err := a.FreeBytes(b); err != nil {
					return err
				}
				held[k] = held[len(held)-1]
				held = held[:len(held)-1]
			}
			for _, b := range held {
				if err := a.FreeBytes(b); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	st := a.Stats()
	assert.Equal(t, st.TotalAllocs, st.TotalFrees)
	assert.Equal(t, st.OversizeAllocs, st.OversizeFrees)
	assert.Zero(t, st.InFlight)
	assert.Zero(t, st.LiveBlocks)
	assert.Equal(t, st.ReservedBytes, st.FreeBytes)

	require.NoError(t, a.Verify())
}
