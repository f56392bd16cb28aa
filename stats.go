package bucketstore

import (
	"sync/atomic"
	"time"
)

// Stats accumulates timing and count counters for storages that share it.
//
// All counters only ever grow. Durations are in microseconds. The storage
// writes to Stats but never reads it, so any number of storage generations
// and callers may share one instance.
type Stats struct {
	NewFileUs   atomic.Uint64 // Creating and pre-sizing backing files
	FlushFileUs atomic.Uint64 // Flushing backing files before mapping
	MmapUs      atomic.Uint64 // Mapping backing files
	Resizes     atomic.Uint64 // Completed migrations
	ResizeUs    atomic.Uint64 // Time spent copying cells during migrations
	MaxSize     atomic.Uint64 // Largest capacity (in cells) ever created
}

// UpdateMaxSize raises the MaxSize watermark to size if it is larger.
func (s *Stats) UpdateMaxSize(size uint64) {
	for {
		cur := s.MaxSize.Load()
		if size <= cur || s.MaxSize.CompareAndSwap(cur, size) {
			return
		}
	}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	NewFileUs   uint64
	FlushFileUs uint64
	MmapUs      uint64
	Resizes     uint64
	ResizeUs    uint64
	MaxSize     uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		NewFileUs:   s.NewFileUs.Load(),
		FlushFileUs: s.FlushFileUs.Load(),
		MmapUs:      s.MmapUs.Load(),
		Resizes:     s.Resizes.Load(),
		ResizeUs:    s.ResizeUs.Load(),
		MaxSize:     s.MaxSize.Load(),
	}
}

func micros(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Microseconds())
}
