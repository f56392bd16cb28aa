package bucketstore

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// FlagLocation selects where the allocated flag of a cell is stored.
type FlagLocation int

const (
	// FlagInHeader stores the flag in a uint64 header in front of every cell.
	FlagInHeader FlagLocation = iota
)

const flagLocation = FlagInHeader

// LockMode selects how a cell header is tested and set.
type LockMode int

const (
	// LockPlain reads and writes the lock word with ordinary loads and
	// stores. Allocate is a check-then-set; callers must ensure that no two
	// operations touch the same index at the same time.
	LockPlain LockMode = iota

	// LockAtomic uses compare-and-swap on the lock word, so concurrent
	// Allocate/Free/IsFree calls on one index are safe. Typed views are
	// still unsynchronized. Requires a cell size that is a multiple of 8.
	LockAtomic
)

func (m LockMode) String() string {
	switch m {
	case LockPlain:
		return "plain"
	case LockAtomic:
		return "atomic"
	default:
		return fmt.Sprintf("LockMode(%d)", int(m))
	}
}

const (
	// uidUnlocked marks a free cell. Freshly mapped files are zeroed, so
	// every cell starts free.
	uidUnlocked uint64 = 0
	// uidLocked marks an allocated cell.
	uidLocked uint64 = 1
)

// uint64 so that payloads that follow keep 8-byte alignment.
const lockWordSize = 8

// HeaderSize returns the number of bytes in front of every cell payload.
func HeaderSize() uint64 {
	switch flagLocation {
	case FlagInHeader:
		return lockWordSize
	default:
		return 0
	}
}

func (s *Storage) checkIndex(op string, ix uint64) {
	if ix >= s.Capacity() {
		panic(fmt.Sprintf("bucketstore: %s: bad index %d (capacity %d)", op, ix, s.Capacity()))
	}
}

func (s *Storage) lockWord(ix uint64) []byte {
	off := ix * s.cellSize
	return s.data[off : off+lockWordSize : off+lockWordSize]
}

// atomicWord is only valid in LockAtomic mode, where construction
// guarantees 8-byte alignment of every header.
func (s *Storage) atomicWord(ix uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.lockWord(ix)[0]))
}

func (s *Storage) loadLock(ix uint64) uint64 {
	if s.lockMode == LockAtomic {
		return atomic.LoadUint64(s.atomicWord(ix))
	}
	return binary.NativeEndian.Uint64(s.lockWord(ix))
}

// tryLock locks entry ix and reports whether it was unlocked before.
func (s *Storage) tryLock(ix uint64) bool {
	if s.lockMode == LockAtomic {
		return atomic.CompareAndSwapUint64(s.atomicWord(ix), uidUnlocked, uidLocked)
	}
	w := s.lockWord(ix)
	if binary.NativeEndian.Uint64(w) != uidUnlocked {
		return false
	}
	binary.NativeEndian.PutUint64(w, uidLocked)
	return true
}

func (s *Storage) unlock(ix uint64) {
	if s.lockMode == LockAtomic {
		if !atomic.CompareAndSwapUint64(s.atomicWord(ix), uidLocked, uidUnlocked) {
			panic(fmt.Sprintf("bucketstore: free: cell %d is not allocated (lock word %d)", ix, s.loadLock(ix)))
		}
		return
	}
	w := s.lockWord(ix)
	if v := binary.NativeEndian.Uint64(w); v != uidLocked {
		panic(fmt.Sprintf("bucketstore: free: cell %d is not allocated (lock word %d)", ix, v))
	}
	binary.NativeEndian.PutUint64(w, uidUnlocked)
}

// IsFree reports whether cell ix is free.
// Panics if ix is out of range.
func (s *Storage) IsFree(ix uint64) bool {
	s.checkIndex("is free", ix)
	// The header calls it locked/unlocked, the API allocated/free.
	switch flagLocation {
	case FlagInHeader:
		return s.loadLock(ix) == uidUnlocked
	default:
		return false
	}
}

// Allocate marks cell ix as occupied.
//
// If the cell is already occupied it returns ErrAlreadyAllocated and changes
// nothing. isResizing is true when the caller is moving an existing entry
// into this storage as part of a resize; the shared count already includes
// that entry and is left alone. When false, the allocation is a new entry and
// the count is incremented.
//
// Panics if ix is out of range.
func (s *Storage) Allocate(ix uint64, isResizing bool) error {
	s.checkIndex("allocate", ix)
	if !s.tryLock(ix) {
		return ErrAlreadyAllocated
	}
	if !isResizing {
		s.count.Add(1)
	}
	return nil
}

// Free marks cell ix as free and decrements the shared count.
// Panics if ix is out of range or the cell is already free.
func (s *Storage) Free(ix uint64) {
	s.checkIndex("free", ix)
	switch flagLocation {
	case FlagInHeader:
		s.unlock(ix)
	}
	s.count.Add(^uint64(0))
}

// Occupied returns the set of currently occupied cell indices, read from the
// cell headers. Its cardinality equals Count() as long as every Allocate made
// for a new entry passed isResizing=false.
func (s *Storage) Occupied() *roaring64.Bitmap {
	bm := roaring64.New()
	capacity := s.Capacity()
	for ix := uint64(0); ix < capacity; ix++ {
		if s.loadLock(ix) != uidUnlocked {
			bm.Add(ix)
		}
	}
	return bm
}
