package bucketstore

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkAllocateFree(b *testing.B) {
	for _, mode := range []LockMode{LockPlain, LockAtomic} {
		b.Run(mode.String(), func(b *testing.B) {
			s, err := NewWithCapacity([]string{b.TempDir()}, 1, 8, 16, WithLockMode(mode))
			if err != nil {
				b.Fatal(err)
			}
			defer s.Close()

			mask := s.Capacity() - 1
			b.ResetTimer()
			for i := range b.N {
				ix := uint64(i) & mask
				if err := s.Allocate(ix, false); err != nil {
					b.Fatal(err)
				}
				s.Free(ix)
			}
		})
	}
}

func BenchmarkNewResized(b *testing.B) {
	for _, workers := range []int{1, 4} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			drives := []string{b.TempDir()}
			src, err := NewWithCapacity(drives, 4, 8, 16)
			if err != nil {
				b.Fatal(err)
			}
			defer src.Close()
			for ix := uint64(0); ix < src.Capacity(); ix += 2 {
				if err := src.Allocate(ix, false); err != nil {
					b.Fatal(err)
				}
			}

			b.SetBytes(int64(src.CapacityBytes() / 2))
			b.ResetTimer()
			for range b.N {
				dst, err := NewResized(context.Background(), drives, src, 17, 4, 8, WithMigrationWorkers(workers))
				if err != nil {
					b.Fatal(err)
				}
				_ = dst.Close()
			}
		})
	}
}
