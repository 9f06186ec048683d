//go:build amd64 || arm64

package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntToUintptr(t *testing.T) {
	t.Run("valid zero", func(t *testing.T) {
		got, err := IntToUintptr(0)
		assert.NoError(t, err)
		assert.Equal(t, uintptr(0), got)
	})

	t.Run("valid max int", func(t *testing.T) {
		got, err := IntToUintptr(math.MaxInt)
		assert.NoError(t, err)
		assert.Equal(t, uintptr(math.MaxInt), got)
	})

	t.Run("invalid negative", func(t *testing.T) {
		_, err := IntToUintptr(-1)
		assert.Error(t, err)
	})
}

func TestUint64ToUintptr(t *testing.T) {
	got, err := Uint64ToUintptr(math.MaxUint64)
	assert.NoError(t, err)
	assert.Equal(t, ^uintptr(0), got)
}

func TestUintptrToInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := UintptrToInt(4096)
		assert.NoError(t, err)
		assert.Equal(t, 4096, got)
	})

	t.Run("invalid too large", func(t *testing.T) {
		_, err := UintptrToInt(^uintptr(0))
		assert.Error(t, err)
	})
}
