// Package bucketstore provides fixed-cell, memory-mapped storage for
// open-addressing hash indexes.
//
// A Storage is one memory-mapped file holding 2^p equal-size cells. Every
// cell has a small header with its allocated flag, followed by a payload of
// numElems elements of elemSize bytes. The index built on top decides which
// cell an entry goes to, how far it probes and when to grow; the storage only
// tracks which cells are occupied and hands out zero-copy views of their
// payloads.
//
// # Quick Start
//
//	stats := &bucketstore.Stats{}
//	s, err := bucketstore.New([]string{"/mnt/nvme0", "/mnt/nvme1"}, 1, 32,
//	    bucketstore.WithStats(stats),
//	    bucketstore.WithMaxSearch(8),
//	)
//	if err != nil { ... }
//	defer s.Close()
//
//	if err := s.Allocate(ix, false); errors.Is(err, bucketstore.ErrAlreadyAllocated) {
//	    // probe the next index
//	}
//	rec := bucketstore.GetMut[Record](s, ix)
//	rec.Key = key
//
// # Growth
//
// Growth is never automatic. When the index decides a bucket is too full it
// builds the next generation and swaps it in:
//
//	next, err := bucketstore.NewResized(ctx, drives, s, s.CapacityPow2()+1, 1, 32)
//	if err != nil { ... }
//	s.Close()
//	s = next
//
// Occupied cell i of the old storage is copied to cell i*2^d of the new one,
// where d is the increase of the capacity exponent. Both generations share
// one occupied count.
//
// # Error Model
//
// Allocate on an occupied cell returns ErrAlreadyAllocated. Construction
// problems (no drives, impossible shapes, I/O failures, resource limits) are
// returned as errors. Bugs panic: an out-of-range index, freeing a free cell
// and a view larger than a cell payload all panic immediately.
//
// # Concurrency
//
// The storage runs no goroutines of its own except for migration workers
// inside NewResized. The occupied count and Stats are atomic. In the default
// LockPlain mode the caller must serialize operations on each index; with
// LockAtomic, Allocate, Free and IsFree may race on one index safely. Typed
// views are never synchronized. A storage being migrated must not be
// modified until NewResized returns.
//
// # Durability
//
// None. Backing files are scratch space: they are not flushed after
// creation, are deleted on Close and cannot be reopened.
package bucketstore
