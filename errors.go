package bucketstore

import (
	"errors"
)

var (
	// ErrAlreadyAllocated is returned by Allocate when the cell is already
	// occupied. The cell is left untouched; callers typically probe another index.
	ErrAlreadyAllocated = errors.New("bucketstore: cell already allocated")

	// ErrNoDrives is returned when no candidate directory is supplied.
	ErrNoDrives = errors.New("bucketstore: no drives")

	// ErrInvalidOptions indicates a cell shape, capacity or option combination
	// that cannot be laid out. It is always wrapped with the offending values.
	ErrInvalidOptions = errors.New("bucketstore: invalid options")
)
