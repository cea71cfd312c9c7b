package safe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint32(t *testing.T) {
	t.Parallel()

	v, err := Uint32(int64(42))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)

	v, err = Uint32(uint64(math.MaxUint32))
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), v)

	_, err = Uint32(int64(-1))
	assert.Error(t, err)

	_, err = Uint32(uint64(math.MaxUint32) + 1)
	assert.Error(t, err)
}

func TestInt32(t *testing.T) {
	t.Parallel()

	v, err := Int32(uint32(7))
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)

	v, err = Int32(int64(math.MinInt32))
	require.NoError(t, err)
	assert.Equal(t, int32(math.MinInt32), v)

	_, err = Int32(uint32(math.MaxInt32) + 1)
	assert.Error(t, err)

	_, err = Int32(int64(math.MaxInt32) + 1)
	assert.Error(t, err)
}
