package vcache

import (
	"testing"

	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func base(id int64, nelem int) *view.BaseArray {
	return &view.BaseArray{ID: id, DType: dtype.Float64, Nelem: nelem}
}

func TestMallocIsNoopWhenAlreadyRealized(t *testing.T) {
	c := New(DefaultSize)
	b := base(1, 10)
	b.Data = make([]byte, 80)
	orig := &b.Data[0]
	require.NoError(t, c.Malloc(b))
	assert.Same(t, orig, &b.Data[0])
}

func TestFreeThenMallocRecyclesExactSize(t *testing.T) {
	c := New(2)
	x := base(1, 1_000_000)
	require.NoError(t, c.Malloc(x))
	buf := x.Data
	c.Free(x)
	assert.False(t, x.Realized())
	assert.Equal(t, 1, c.Len())

	y := base(2, 1_000_000)
	require.NoError(t, c.Malloc(y))
	assert.Equal(t, 0, c.Len(), "the exact-size entry was detached and handed to y")
	assert.Same(t, &buf[0], &y.Data[0])
}

func TestZeroCapacityFreesImmediately(t *testing.T) {
	c := New(0)
	x := base(1, 100)
	require.NoError(t, c.Malloc(x))
	c.Free(x)
	assert.Equal(t, 0, c.Len())
}

func TestCapacityEvictsOldestOnOverflow(t *testing.T) {
	c := New(1)
	a := base(1, 10)
	b := base(2, 20)
	require.NoError(t, c.Malloc(a))
	require.NoError(t, c.Malloc(b))
	c.Free(a) // entries: [size=80]
	c.Free(b) // capacity 1: evicts the size=80 entry, keeps size=160
	require.Equal(t, 1, c.Len())

	// Confirm the surviving entry is b's size, not a's: mallocing a's size should
	// miss the cache (and thus allocate fresh, not detach a cached buffer).
	a2 := base(3, 10)
	require.NoError(t, c.Malloc(a2))
	assert.Equal(t, 1, c.Len(), "a's size was already evicted; the cache still holds b's entry")
}

func TestClearDropsEverything(t *testing.T) {
	c := New(DefaultSize)
	x := base(1, 10)
	require.NoError(t, c.Malloc(x))
	c.Free(x)
	require.Equal(t, 1, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
