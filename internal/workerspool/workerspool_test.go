package workerspool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ParallelFor(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(4)

	const n = 1000
	var visited [n]atomic.Int32
	var numChunks atomic.Int32
	pool.ParallelFor(n, 10, func(start, end int) {
		numChunks.Add(1)
		for i := start; i < end; i++ {
			visited[i].Add(1)
		}
	})
	for i := range visited {
		require.Equalf(t, int32(1), visited[i].Load(), "item %d", i)
	}
	assert.Equal(t, int32(4), numChunks.Load())

	// Small loops run inline, in one chunk.
	numChunks.Store(0)
	pool.ParallelFor(5, 10, func(start, end int) {
		numChunks.Add(1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 5, end)
	})
	assert.Equal(t, int32(1), numChunks.Load())

	// Empty loops never call fn.
	pool.ParallelFor(0, 1, func(start, end int) { t.Fatal("unexpected call") })
}

func TestPool_NoParallelism(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	var sum int
	pool.ParallelForEach(100, 1, func(i int) { sum += i })
	assert.Equal(t, 4950, sum)
}

func TestDefault(t *testing.T) {
	t.Setenv(EnvParallelism, "3")
	pool := Default()
	require.NotNil(t, pool)
	assert.Same(t, pool, Default())
	assert.GreaterOrEqual(t, pool.MaxParallelism(), 0)
}
