// Package mmap provides read/write shared memory mappings of files.
//
// # Overview
//
// A storage maps its whole backing file once and then reads and writes cells
// directly through the mapped bytes. Nothing here flushes the mapping to disk;
// dirty pages are written back whenever the kernel decides to.
//
// # Usage
//
//	f, _ := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
//	// ... extend f to size bytes ...
//	m, err := mmap.Map(f, size)
//	if err != nil { ... }
//	f.Close()
//	defer m.Close()
//
//	data := m.Bytes()
//	m.Advise(mmap.AccessRandom)
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): Uses mmap(2) with madvise(2) for access hints
//   - Windows: Uses CreateFileMapping/MapViewOfFile (madvise is a no-op)
//
// # Thread Safety
//
// The Close() method is idempotent and protected by atomic operations.
// Callers must ensure no goroutines access Bytes() after Close() returns.
package mmap
