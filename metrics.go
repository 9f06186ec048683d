package lfalloc

import (
	"sync/atomic"

	"github.com/hupe1980/lfalloc/internal/buddy"
)

// OversizeClass is the class reported to metrics for requests served
// directly by the large-block allocator.
const OversizeClass = -1

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    allocCounter *prometheus.CounterVec
//	}
//
//	func (p *PrometheusCollector) RecordAllocate(size uintptr, class int, err error) {
//	    p.allocCounter.WithLabelValues(strconv.Itoa(class)).Inc()
//	}
type MetricsCollector interface {
	// RecordAllocate is called after each allocation. class is OversizeClass
	// for delegated requests; err is nil if successful.
	RecordAllocate(size uintptr, class int, err error)

	// RecordDeallocate is called after each deallocation.
	RecordDeallocate(class int, err error)

	// RecordRefill is called after each attempt to obtain a chunk.
	RecordRefill(bytes uintptr, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAllocate(uintptr, int, error) {}
func (NoopMetricsCollector) RecordDeallocate(int, error)        {}
func (NoopMetricsCollector) RecordRefill(uintptr, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount    atomic.Int64
	AllocErrors   atomic.Int64
	AllocBytes    atomic.Int64
	OversizeCount atomic.Int64
	DeallocCount  atomic.Int64
	DeallocErrors atomic.Int64
	RefillCount   atomic.Int64
	RefillErrors  atomic.Int64
	RefillBytes   atomic.Int64
	ClassAllocs   [buddy.MaxClasses]atomic.Int64
}

// RecordAllocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocate(size uintptr, class int, err error) {
	b.AllocCount.Add(1)
	if err != nil {
		b.AllocErrors.Add(1)
		return
	}
	b.AllocBytes.Add(int64(size))
	if class == OversizeClass {
		b.OversizeCount.Add(1)
	} else if class >= 0 && class < len(b.ClassAllocs) {
		b.ClassAllocs[class].Add(1)
	}
}

// RecordDeallocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeallocate(class int, err error) {
	b.DeallocCount.Add(1)
	if err != nil {
		b.DeallocErrors.Add(1)
	}
}

// RecordRefill implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRefill(bytes uintptr, err error) {
	b.RefillCount.Add(1)
	if err != nil {
		b.RefillErrors.Add(1)
		return
	}
	b.RefillBytes.Add(int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	st := BasicMetricsStats{
		AllocCount:    b.AllocCount.Load(),
		AllocErrors:   b.AllocErrors.Load(),
		AllocAvgBytes: b.getAvgAllocBytes(),
		OversizeCount: b.OversizeCount.Load(),
		DeallocCount:  b.DeallocCount.Load(),
		DeallocErrors: b.DeallocErrors.Load(),
		RefillCount:   b.RefillCount.Load(),
		RefillErrors:  b.RefillErrors.Load(),
		RefillBytes:   b.RefillBytes.Load(),
	}
	for i := range b.ClassAllocs {
		if n := b.ClassAllocs[i].Load(); n > 0 {
			if st.ClassAllocs == nil {
				st.ClassAllocs = make(map[int]int64)
			}
			st.ClassAllocs[i] = n
		}
	}
	return st
}

func (b *BasicMetricsCollector) getAvgAllocBytes() int64 {
	count := b.AllocCount.Load() - b.AllocErrors.Load()
	if count <= 0 {
		return 0
	}
	return b.AllocBytes.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocCount    int64
	AllocErrors   int64
	AllocAvgBytes int64
	OversizeCount int64
	DeallocCount  int64
	DeallocErrors int64
	RefillCount   int64
	RefillErrors  int64
	RefillBytes   int64
	ClassAllocs   map[int]int64 // allocations per size class, zero entries omitted
}
