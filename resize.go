package bucketstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// migrationRangeCells is the number of source cells one migration task copies.
const migrationRangeCells = 1 << 12

// NewResized creates a storage with 2^capacityPow2 cells and, if src is not
// nil, copies every occupied cell of src into it.
//
// A source cell at index i lands at index i<<(capacityPow2-src.CapacityPow2()),
// so occupied cells keep their relative order. Cells that are free in src are
// not copied and stay free. The new storage shares src's
// occupied count, so the total carries forward unchanged, and starts from
// src's options; opts override everything but the count. Without src,
// NewResized behaves like NewWithCapacity.
//
// src must not be modified while NewResized runs. It stays open; the caller
// closes it once the new storage has replaced it. If ctx is cancelled during
// migration the partially filled storage is closed and ctx's error returned.
func NewResized(ctx context.Context, drives []string, src *Storage, capacityPow2 uint8, numElems, elemSize uint64, opts ...Option) (*Storage, error) {
	base := defaultOptions()
	if src != nil {
		base = src.opts
	}
	o := applyOptions(base, opts)

	if src != nil {
		o.count = src.count
		if capacityPow2 < src.capacityPow2 {
			return nil, fmt.Errorf("%w: cannot shrink from capacity exponent %d to %d",
				ErrInvalidOptions, src.capacityPow2, capacityPow2)
		}
		cellSize, err := cellSizeFor(numElems, elemSize)
		if err != nil {
			return nil, err
		}
		if cellSize < src.cellSize {
			return nil, fmt.Errorf("%w: cell size %d is smaller than source cell size %d",
				ErrInvalidOptions, cellSize, src.cellSize)
		}
	}

	dst, err := newStorage(drives, numElems, elemSize, capacityPow2, o)
	if err != nil {
		return nil, err
	}
	if src != nil {
		if err := dst.copyContents(ctx, src); err != nil {
			_ = dst.Close()
			return nil, err
		}
	}
	dst.UpdateMaxSize()
	return dst, nil
}

// copyContents copies the occupied cells of old into s.
func (s *Storage) copyContents(ctx context.Context, old *Storage) error {
	start := time.Now()
	oldCap := old.Capacity()
	indexGrow := uint64(1) << (s.capacityPow2 - old.capacityPow2)

	var migrated atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.workers)
	for lo := uint64(0); lo < oldCap; lo += migrationRangeCells {
		hi := min(lo+migrationRangeCells, oldCap)
		g.Go(func() error {
			return s.copyRange(gctx, old, lo, hi, indexGrow, &migrated)
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	s.logger.LogResize(ctx, oldCap, s.Capacity(), migrated.Load(), elapsed, err)
	if err != nil {
		return fmt.Errorf("migrate %s into %s: %w", old.path, s.path, err)
	}

	s.stats.Resizes.Add(1)
	s.stats.ResizeUs.Add(micros(elapsed))
	return nil
}

// copyRange copies the occupied cells in [lo, hi) of old.
func (s *Storage) copyRange(ctx context.Context, old *Storage, lo, hi, indexGrow uint64, migrated *atomic.Uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer s.rc.ReleaseBackground()

	oldCell := old.cellSize
	var n uint64
	for i := lo; i < hi; i++ {
		if old.IsFree(i) {
			continue
		}
		// The allocated flag travels with the header bytes.
		oldOff := i * oldCell
		newOff := i * indexGrow * s.cellSize
		copy(s.data[newOff:newOff+oldCell], old.data[oldOff:oldOff+oldCell])
		n++
	}
	migrated.Add(n)
	return s.rc.AcquireIO(ctx, int(n*oldCell))
}
