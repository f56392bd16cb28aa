package bucketstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bucketstore/resource"
)

func newResizedForTest(t *testing.T, drives []string, src *Storage, pow2 uint8, numElems, elemSize uint64, opts ...Option) *Storage {
	t.Helper()
	dst, err := NewResized(context.Background(), drives, src, pow2, numElems, elemSize, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })
	return dst
}

func TestNewResized_Grow(t *testing.T) {
	src := newTestStorage(t, 1, 8, 2)
	for _, ix := range []uint64{0, 1, 3} {
		require.NoError(t, src.Allocate(ix, false))
		*GetMut[uint64](src, ix) = 100 + ix
	}

	dst := newResizedForTest(t, []string{t.TempDir()}, src, 4, 1, 8)

	assert.Equal(t, uint64(16), dst.Capacity())
	assert.Equal(t, []uint64{0, 4, 12}, dst.Occupied().ToArray())
	for _, ix := range []uint64{0, 1, 3} {
		assert.Equal(t, 100+ix, *Get[uint64](dst, ix*4), "source cell %d", ix)
	}

	assert.Same(t, src.SharedCount(), dst.SharedCount())
	assert.Equal(t, uint64(3), dst.Count())

	stats := dst.Stats().Snapshot()
	assert.Same(t, src.Stats(), dst.Stats())
	assert.Equal(t, uint64(1), stats.Resizes)
	assert.Equal(t, uint64(16), stats.MaxSize)

	// The source is left intact.
	assert.Equal(t, []uint64{0, 1, 3}, src.Occupied().ToArray())
	assert.Equal(t, uint64(101), *Get[uint64](src, 1))
}

func TestNewResized_SameCapacity(t *testing.T) {
	src := newTestStorage(t, 1, 8, 3)
	require.NoError(t, src.Allocate(5, false))
	*GetMut[uint64](src, 5) = 9

	dst := newResizedForTest(t, []string{t.TempDir()}, src, 3, 1, 8)
	assert.Equal(t, []uint64{5}, dst.Occupied().ToArray())
	assert.Equal(t, uint64(9), *Get[uint64](dst, 5))
}

func TestNewResized_LargerCells(t *testing.T) {
	src := newTestStorage(t, 1, 8, 2)
	require.NoError(t, src.Allocate(2, false))
	*GetMut[uint64](src, 2) = 77

	dst := newResizedForTest(t, []string{t.TempDir()}, src, 3, 2, 8)

	assert.Equal(t, uint64(24), dst.CellSize())
	assert.False(t, dst.IsFree(4))
	assert.Equal(t, []uint64{77, 0}, CellSlice[uint64](dst, 4, 2))
}

func TestNewResized_FreedCellsStayFree(t *testing.T) {
	src := newTestStorage(t, 1, 8, 3)
	for ix := range src.Capacity() {
		require.NoError(t, src.Allocate(ix, false))
		*GetMut[uint64](src, ix) = ix
	}
	for _, ix := range []uint64{1, 4, 6} {
		src.Free(ix)
	}

	dst := newResizedForTest(t, []string{t.TempDir()}, src, 4, 1, 8)

	assert.Equal(t, uint64(5), dst.Count())
	for ix := range dst.Capacity() {
		srcIx := ix / 2
		migrated := ix%2 == 0 && !src.IsFree(srcIx)
		assert.Equal(t, !migrated, dst.IsFree(ix), "cell %d", ix)
		if migrated {
			assert.Equal(t, srcIx, *Get[uint64](dst, ix))
		} else {
			assert.Zero(t, *Get[uint64](dst, ix))
		}
	}
}

func TestNewResized_Validation(t *testing.T) {
	src := newTestStorage(t, 2, 8, 3)
	dir := t.TempDir()

	_, err := NewResized(context.Background(), []string{dir}, src, 2, 2, 8)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewResized(context.Background(), []string{dir}, src, 4, 1, 8)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewResized(context.Background(), nil, src, 4, 2, 8)
	assert.ErrorIs(t, err, ErrNoDrives)

	assert.Empty(t, dirEntries(t, dir))
}

func TestNewResized_WithoutSource(t *testing.T) {
	stats := &Stats{}
	s := newResizedForTest(t, []string{t.TempDir()}, nil, 3, 1, 8, WithStats(stats))

	assert.Equal(t, uint64(8), s.Capacity())
	assert.Equal(t, uint64(0), s.Count())
	assert.Empty(t, s.Occupied().ToArray())
	assert.Equal(t, uint64(0), stats.Resizes.Load())
	assert.Equal(t, uint64(8), stats.MaxSize.Load())
}

func TestNewResized_InheritsOptions(t *testing.T) {
	stats := &Stats{}
	var count atomic.Uint64
	src := newTestStorage(t, 1, 8, 2,
		WithStats(stats),
		WithMaxSearch(5),
		WithLockMode(LockAtomic),
		WithCount(&count),
	)
	require.NoError(t, src.Allocate(0, false))

	var other atomic.Uint64
	dst := newResizedForTest(t, []string{t.TempDir()}, src, 3, 1, 8, WithCount(&other), WithMaxSearch(6))

	assert.Same(t, stats, dst.Stats())
	assert.Same(t, &count, dst.SharedCount())
	assert.Equal(t, LockAtomic, dst.LockMode())
	assert.Equal(t, uint64(6), dst.MaxSearch())

	require.NoError(t, dst.Allocate(1, false))
	assert.Equal(t, uint64(2), count.Load())
	assert.Equal(t, uint64(0), other.Load())
}

func TestNewResized_Workers(t *testing.T) {
	// Several migration ranges.
	const pow2 = 13
	src := newTestStorage(t, 2, 8, pow2)
	for ix := uint64(0); ix < src.Capacity(); ix += 3 {
		require.NoError(t, src.Allocate(ix, false))
		copy(MutCellSlice[uint64](src, ix, 2), []uint64{ix, ^ix})
	}

	drives := []string{t.TempDir()}
	single := newResizedForTest(t, drives, src, pow2+1, 2, 8)
	parallel := newResizedForTest(t, drives, src, pow2+1, 2, 8, WithMigrationWorkers(4))

	occupied := single.Occupied()
	assert.True(t, occupied.Equals(parallel.Occupied()))
	assert.Equal(t, src.Occupied().GetCardinality(), occupied.GetCardinality())

	it := occupied.Iterator()
	for it.HasNext() {
		ix := it.Next()
		assert.Equal(t, []uint64{ix / 2, ^(ix / 2)}, CellSlice[uint64](parallel, ix, 2))
		assert.Equal(t, CellSlice[uint64](single, ix, 2), CellSlice[uint64](parallel, ix, 2))
	}
	assert.Equal(t, uint64(2), src.Stats().Resizes.Load())
}

func TestNewResized_Cancelled(t *testing.T) {
	src := newTestStorage(t, 1, 8, 3)
	require.NoError(t, src.Allocate(1, false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	_, err := NewResized(ctx, []string{dir}, src, 4, 1, 8)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, dir))
	assert.Equal(t, uint64(0), src.Stats().Resizes.Load())
	assert.Equal(t, uint64(1), src.Count())
}

func TestNewResized_ResourceController(t *testing.T) {
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     1 << 20,
		MaxBackgroundWorkers: 2,
		IOLimitBytesPerSec:   1 << 20,
	})
	src := newTestStorage(t, 1, 8, 4, WithResourceController(rc))
	for ix := range src.Capacity() {
		require.NoError(t, src.Allocate(ix, false))
	}

	dst := newResizedForTest(t, []string{t.TempDir()}, src, 5, 1, 8)
	assert.Equal(t, int64(src.CapacityBytes()+dst.CapacityBytes()), rc.MemoryUsage())
	assert.Equal(t, uint64(16), dst.Occupied().GetCardinality())

	require.NoError(t, dst.Close())
	assert.Equal(t, int64(src.CapacityBytes()), rc.MemoryUsage())
	assert.True(t, rc.TryAcquireBackground())
	rc.ReleaseBackground()
}

func TestNewResized_IOLimitHonoursDeadline(t *testing.T) {
	// 16 bytes per second against 128 bytes to copy.
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 16})
	src := newTestStorage(t, 1, 8, 3, WithResourceController(rc))
	for ix := range src.Capacity() {
		require.NoError(t, src.Allocate(ix, false))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dir := t.TempDir()
	_, err := NewResized(ctx, []string{dir}, src, 4, 1, 8)
	require.Error(t, err)
	assert.Empty(t, dirEntries(t, dir))
	assert.Equal(t, int64(src.CapacityBytes()), rc.MemoryUsage())
}

func TestNewResized_MemoryBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 300})
	src := newTestStorage(t, 1, 8, 4, WithResourceController(rc))

	dir := t.TempDir()
	_, err := NewResized(context.Background(), []string{dir}, src, 5, 1, 8)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Empty(t, dirEntries(t, dir))
}
