package bucketstore

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hupe1980/bucketstore/internal/conv"
	"github.com/hupe1980/bucketstore/internal/mmap"
	"github.com/hupe1980/bucketstore/resource"
)

// Capacity exponents and the resulting cell counts:
//
//	 1  2
//	 5  32
//	10  1,024
//	14  16,384
//	23  8,388,608
//	24  16,777,216
const DefaultCapacityPow2 uint8 = 5

// maxCapacityPow2 keeps 1<<pow2 representable in a uint64.
const maxCapacityPow2 = 63

// MaxSearch is the probe limit of the index stored in a Storage.
// The storage carries it for the index and never reads it.
type MaxSearch uint8

// Storage is a memory-mapped array of 2^CapacityPow2 equal-size cells.
//
// Every cell starts with a header holding its allocated flag, followed by
// the payload. The storage owns its backing file and mapping; the occupied
// count and Stats may be shared with other storages (typically the previous
// and next generation of the same bucket).
//
// A Storage does no internal locking. See LockMode for the per-index rules
// of Allocate and Free; typed views are never synchronized.
type Storage struct {
	path         string
	mapping      *mmap.Mapping
	data         []byte
	cellSize     uint64
	numElems     uint64
	elemSize     uint64
	capacityPow2 uint8
	lockMode     LockMode
	maxSearch    MaxSearch
	count        *atomic.Uint64
	stats        *Stats
	logger       *Logger
	fs           FileSystem
	rc           *resource.Controller
	opts         options
	closed       atomic.Bool
	cleanup      runtime.Cleanup
}

// New creates a storage with DefaultCapacityPow2 (or WithCapacityPow2)
// cells of numElems elements of elemSize bytes each.
//
// The backing file is placed in a randomly chosen directory of drives.
func New(drives []string, numElems, elemSize uint64, opts ...Option) (*Storage, error) {
	o := applyOptions(defaultOptions(), opts)
	return newStorage(drives, numElems, elemSize, o.capacityPow2, o)
}

// NewWithCapacity creates a storage with 2^capacityPow2 cells.
func NewWithCapacity(drives []string, numElems, elemSize uint64, capacityPow2 uint8, opts ...Option) (*Storage, error) {
	o := applyOptions(defaultOptions(), opts)
	return newStorage(drives, numElems, elemSize, capacityPow2, o)
}

// cellSizeFor returns elemSize*numElems + HeaderSize().
func cellSizeFor(numElems, elemSize uint64) (uint64, error) {
	payload, err := conv.MulUint64(elemSize, numElems)
	if err != nil {
		return 0, fmt.Errorf("%w: cell payload: %w", ErrInvalidOptions, err)
	}
	cellSize, err := conv.AddUint64(payload, HeaderSize())
	if err != nil {
		return 0, fmt.Errorf("%w: cell size: %w", ErrInvalidOptions, err)
	}
	return cellSize, nil
}

func newStorage(drives []string, numElems, elemSize uint64, capacityPow2 uint8, o options) (*Storage, error) {
	if len(drives) == 0 {
		return nil, ErrNoDrives
	}
	if capacityPow2 > maxCapacityPow2 {
		return nil, fmt.Errorf("%w: capacity exponent %d exceeds %d", ErrInvalidOptions, capacityPow2, maxCapacityPow2)
	}
	cellSize, err := cellSizeFor(numElems, elemSize)
	if err != nil {
		return nil, err
	}
	switch o.lockMode {
	case LockPlain:
	case LockAtomic:
		if cellSize%lockWordSize != 0 {
			return nil, fmt.Errorf("%w: %s lock mode needs a cell size divisible by %d, got %d",
				ErrInvalidOptions, o.lockMode, lockWordSize, cellSize)
		}
	default:
		return nil, fmt.Errorf("%w: unknown lock mode %d", ErrInvalidOptions, int(o.lockMode))
	}

	capacity := uint64(1) << capacityPow2
	total, err := conv.MulUint64(capacity, cellSize)
	if err != nil {
		return nil, fmt.Errorf("%w: capacity bytes: %w", ErrInvalidOptions, err)
	}
	reserved, err := conv.Uint64ToInt64(total)
	if err != nil {
		return nil, fmt.Errorf("%w: capacity bytes: %w", ErrInvalidOptions, err)
	}

	if err := o.rc.AcquireMemory(reserved); err != nil {
		return nil, fmt.Errorf("reserve %d bytes: %w", total, err)
	}

	m, path, err := newMap(drives, total, o)
	if err != nil {
		o.rc.ReleaseMemory(reserved)
		o.logger.LogCreate(path, capacity, cellSize, err)
		return nil, err
	}

	if o.access != AccessDefault {
		if err := m.Advise(o.access); err != nil {
			o.logger.Warn("madvise failed", "path", path, "error", err)
		}
	}

	s := &Storage{
		path:         path,
		mapping:      m,
		data:         m.Bytes(),
		cellSize:     cellSize,
		numElems:     numElems,
		elemSize:     elemSize,
		capacityPow2: capacityPow2,
		lockMode:     o.lockMode,
		maxSearch:    o.maxSearch,
		count:        o.count,
		stats:        o.stats,
		logger:       o.logger,
		fs:           o.fs,
		rc:           o.rc,
		opts:         o,
	}

	// Remove the file even if the owner forgets to Close. The mapping is left
	// alone because views handed out may still point into it.
	fsys := o.fs
	s.cleanup = runtime.AddCleanup(s, func(path string) { _ = fsys.Remove(path) }, path)

	o.logger.LogCreate(path, capacity, cellSize, nil)
	return s, nil
}

// newMap creates a file of size bytes in a random drive and maps it.
func newMap(drives []string, size uint64, o options) (*mmap.Mapping, string, error) {
	length, err := conv.Uint64ToInt(size)
	if err != nil {
		return nil, "", fmt.Errorf("%w: mapping length: %w", ErrInvalidOptions, err)
	}
	last, err := conv.Uint64ToInt64(size - 1)
	if err != nil {
		return nil, "", fmt.Errorf("%w: mapping length: %w", ErrInvalidOptions, err)
	}

	newFileStart := time.Now()
	drive := drives[o.rand.IntN(len(drives))]
	path := filepath.Join(drive, randomFileName(o.rand))

	f, err := o.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		wd, _ := os.Getwd()
		return nil, path, fmt.Errorf("unable to create data file %s in current dir(%s): %w", path, wd, err)
	}
	fail := func(err error) (*mmap.Mapping, string, error) {
		_ = f.Close()
		_ = o.fs.Remove(path)
		return nil, path, err
	}

	// Write a zero to the end of the file so that it never has to be
	// resized later.
	if _, err := f.Seek(last, io.SeekStart); err != nil {
		return fail(fmt.Errorf("seek %s to %d: %w", path, last, err))
	}
	if _, err := f.Write([]byte{0}); err != nil {
		return fail(fmt.Errorf("extend %s to %d bytes: %w", path, size, err))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind %s: %w", path, err))
	}
	newFileElapsed := time.Since(newFileStart)

	flushStart := time.Now()
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("flush %s: %w", path, err))
	}
	flushElapsed := time.Since(flushStart)

	mmapStart := time.Now()
	m, err := mmap.Map(f, length)
	if err != nil {
		return fail(fmt.Errorf("mmap %s (%d bytes): %w", path, size, err))
	}
	mmapElapsed := time.Since(mmapStart)

	if err := f.Close(); err != nil {
		_ = m.Close()
		_ = o.fs.Remove(path)
		return nil, path, fmt.Errorf("close %s: %w", path, err)
	}

	o.stats.NewFileUs.Add(micros(newFileElapsed))
	o.stats.FlushFileUs.Add(micros(flushElapsed))
	o.stats.MmapUs.Add(micros(mmapElapsed))
	return m, path, nil
}

// randomFileName renders a random 128-bit integer in decimal.
func randomFileName(r Rand) string {
	hi := new(big.Int).SetUint64(r.Uint64())
	lo := new(big.Int).SetUint64(r.Uint64())
	return hi.Lsh(hi, 64).Or(hi, lo).String()
}

// Close unmaps the storage and deletes its backing file. Failure to delete
// the file is ignored. Views obtained from the storage must not be used
// afterwards. Close is idempotent.
func (s *Storage) Close() error {
	if s == nil || s.closed.Swap(true) {
		return nil
	}
	s.cleanup.Stop()

	var err error
	if unmapErr := s.mapping.Close(); unmapErr != nil {
		err = fmt.Errorf("munmap %s: %w", s.path, unmapErr)
	}
	s.data = nil

	s.logger.LogClose(s.path, s.fs.Remove(s.path))
	s.rc.ReleaseMemory(int64(s.CapacityBytes()))
	return err
}

// Path returns the backing file path.
func (s *Storage) Path() string { return s.path }

// CellSize returns the size of one cell in bytes, header included.
func (s *Storage) CellSize() uint64 { return s.cellSize }

// PayloadSize returns the number of payload bytes in one cell.
func (s *Storage) PayloadSize() uint64 { return s.cellSize - HeaderSize() }

// NumElems returns the number of elements per cell.
func (s *Storage) NumElems() uint64 { return s.numElems }

// ElemSize returns the element size in bytes.
func (s *Storage) ElemSize() uint64 { return s.elemSize }

// CapacityPow2 returns the capacity exponent.
func (s *Storage) CapacityPow2() uint8 { return s.capacityPow2 }

// Capacity returns the number of cells.
func (s *Storage) Capacity() uint64 { return 1 << s.capacityPow2 }

// CapacityBytes returns the size of the mapping in bytes.
func (s *Storage) CapacityBytes() uint64 { return s.Capacity() * s.cellSize }

// MaxSearch returns the probe limit passed at construction.
func (s *Storage) MaxSearch() uint64 { return uint64(s.maxSearch) }

// LockMode returns how cell headers are locked.
func (s *Storage) LockMode() LockMode { return s.lockMode }

// Stats returns the shared statistics sink.
func (s *Storage) Stats() *Stats { return s.stats }

// Count returns the number of occupied cells recorded in the shared count.
func (s *Storage) Count() uint64 { return s.count.Load() }

// SharedCount returns the occupied-cell counter shared across generations.
func (s *Storage) SharedCount() *atomic.Uint64 { return s.count }

// UpdateMaxSize records this storage's capacity in the MaxSize watermark.
func (s *Storage) UpdateMaxSize() {
	s.stats.UpdateMaxSize(s.Capacity())
}
