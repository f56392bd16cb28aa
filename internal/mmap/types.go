package mmap

import "errors"

// AccessPattern is an madvise hint for a whole mapping.
type AccessPattern int

const (
	// AccessDefault leaves the kernel's read-ahead policy alone.
	AccessDefault AccessPattern = iota
	// AccessSequential suits a front-to-back pass, such as a migration scan.
	AccessSequential
	// AccessRandom suits hashed probing; read-ahead is disabled.
	AccessRandom
	// AccessWillNeed asks for the pages to be faulted in early.
	AccessWillNeed
	// AccessDontNeed lets the kernel drop the pages.
	AccessDontNeed
)

var (
	// ErrClosed is returned by operations on an unmapped Mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when asked to map zero or fewer bytes.
	ErrInvalidSize = errors.New("mmap: invalid size")
)
