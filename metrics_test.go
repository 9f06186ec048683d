package lfalloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	m := &BasicMetricsCollector{}

	m.RecordAllocate(100, 2, nil)
	m.RecordAllocate(300, 2, nil)
	m.RecordAllocate(1<<20, OversizeClass, nil)
	m.RecordAllocate(64, 1, errors.New("boom"))
	m.RecordDeallocate(2, nil)
	m.RecordDeallocate(-1, ErrDoubleFree)
	m.RecordRefill(4096, nil)
	m.RecordRefill(4096, ErrOutOfMemory)

	st := m.GetStats()
	assert.Equal(t, int64(4), st.AllocCount)
	assert.Equal(t, int64(1), st.AllocErrors)
	assert.Equal(t, int64((100+300+1<<20)/3), st.AllocAvgBytes)
	assert.Equal(t, int64(1), st.OversizeCount)
	assert.Equal(t, map[int]int64{2: 2}, st.ClassAllocs)
	assert.Equal(t, int64(2), st.DeallocCount)
	assert.Equal(t, int64(1), st.DeallocErrors)
	assert.Equal(t, int64(2), st.RefillCount)
	assert.Equal(t, int64(1), st.RefillErrors)
	assert.Equal(t, int64(4096), st.RefillBytes)
}

func TestNoopMetricsCollector(t *testing.T) {
	var m MetricsCollector = NoopMetricsCollector{}
	m.RecordAllocate(1, 0, nil)
	m.RecordDeallocate(0, nil)
	m.RecordRefill(1, nil)
}
