package bucketstore

import (
	"fmt"
	"unsafe"

	"github.com/hupe1980/bucketstore/internal/conv"
)

// The functions in this file reinterpret cell payload bytes as Go values
// without copying. The storage checks the index and that the view fits in
// one cell payload. Everything else is the caller's contract:
//
//   - T must match the bytes actually stored and contain no Go pointers
//     (the mapping is invisible to the garbage collector).
//   - The payload offset (index*CellSize()+HeaderSize()) must suit T's
//     alignment; keep CellSize() a multiple of T's alignment.
//   - A view written to must not be held while another view of the same cell
//     is read or written.
//   - Views are invalid once the storage is closed.

// payloadOffset validates a view of n values of size bytes at cell ix and
// returns the byte offset of the payload.
func (s *Storage) payloadOffset(op string, ix uint64, size uintptr, n uint64) uint64 {
	s.checkIndex(op, ix)
	need, err := conv.MulUint64(uint64(size), n)
	if err != nil || need > s.PayloadSize() {
		panic(fmt.Sprintf("bucketstore: %s: view of %d x %d bytes exceeds cell payload of %d bytes",
			op, n, size, s.PayloadSize()))
	}
	return ix*s.cellSize + HeaderSize()
}

// Get returns the payload of cell ix viewed as a T.
// The value must not be written through; use GetMut for that.
func Get[T any](s *Storage, ix uint64) *T {
	return view[T](s, "get", ix)
}

// GetMut returns the payload of cell ix viewed as a writable T.
func GetMut[T any](s *Storage, ix uint64) *T {
	return view[T](s, "get mut", ix)
}

func view[T any](s *Storage, op string, ix uint64) *T {
	size := unsafe.Sizeof(*new(T))
	off := s.payloadOffset(op, ix, size, 1)
	if size == 0 {
		return new(T)
	}
	return (*T)(unsafe.Pointer(&s.data[off]))
}

// CellSlice returns the first n elements of the payload of cell ix viewed
// as a []T. The slice must not be written through; use MutCellSlice for that.
func CellSlice[T any](s *Storage, ix, n uint64) []T {
	return sliceView[T](s, "cell slice", ix, n)
}

// MutCellSlice returns the first n elements of the payload of cell ix viewed
// as a writable []T.
func MutCellSlice[T any](s *Storage, ix, n uint64) []T {
	return sliceView[T](s, "mut cell slice", ix, n)
}

func sliceView[T any](s *Storage, op string, ix, n uint64) []T {
	size := unsafe.Sizeof(*new(T))
	off := s.payloadOffset(op, ix, size, n)
	if n == 0 {
		return EmptyCellSlice[T]()
	}
	if size == 0 {
		return make([]T, n)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&s.data[off])), n)
}

// EmptyCellSlice returns a zero-length slice that does not allocate. It lets
// callers treat an absent payload like a populated one.
func EmptyCellSlice[T any]() []T {
	return []T{}
}

// Payload returns the raw payload bytes of cell ix.
func (s *Storage) Payload(ix uint64) []byte {
	return MutCellSlice[byte](s, ix, s.PayloadSize())
}
