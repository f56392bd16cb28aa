package bucketstore

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/hupe1980/bucketstore/internal/fs"
	"github.com/hupe1980/bucketstore/internal/mmap"
	"github.com/hupe1980/bucketstore/resource"
)

// Rand is the randomness used to pick a drive and a backing file name.
// *rand.Rand from math/rand/v2 satisfies it. A *rand.Rand is not safe for
// concurrent use, so storages built concurrently must not share one.
type Rand interface {
	IntN(n int) int
	Uint64() uint64
}

// globalRand draws from the process-wide math/rand/v2 source.
type globalRand struct{}

func (globalRand) IntN(n int) int  { return rand.IntN(n) }
func (globalRand) Uint64() uint64 { return rand.Uint64() }

// FileSystem is the file system backing files are created in.
// Tests swap in a fault-injecting implementation.
type FileSystem = fs.FileSystem

// File is an open backing file as returned by FileSystem.OpenFile.
type File = fs.File

// AccessPattern is a kernel hint for how a mapping will be accessed.
type AccessPattern = mmap.AccessPattern

const (
	AccessDefault    = mmap.AccessDefault
	AccessSequential = mmap.AccessSequential
	AccessRandom     = mmap.AccessRandom
	AccessWillNeed   = mmap.AccessWillNeed
	AccessDontNeed   = mmap.AccessDontNeed
)

type options struct {
	capacityPow2 uint8
	maxSearch    MaxSearch
	stats        *Stats
	count        *atomic.Uint64
	logger       *Logger
	rand         Rand
	fs           FileSystem
	lockMode     LockMode
	workers      int
	rc           *resource.Controller
	access       AccessPattern
}

// Option configures storage construction.
//
// NewResized starts from the options of its source storage, so only the
// options that should differ from the previous generation need passing.
type Option func(*options)

// WithCapacityPow2 sets the capacity exponent used by New.
// NewWithCapacity and NewResized take the exponent explicitly and ignore it.
func WithCapacityPow2(pow2 uint8) Option {
	return func(o *options) {
		o.capacityPow2 = pow2
	}
}

// WithMaxSearch stores the probe limit of the index built on top.
// The storage never interprets it.
func WithMaxSearch(maxSearch MaxSearch) Option {
	return func(o *options) {
		o.maxSearch = maxSearch
	}
}

// WithStats shares a statistics sink. If unset, each first-generation
// storage gets its own.
func WithStats(stats *Stats) Option {
	return func(o *options) {
		o.stats = stats
	}
}

// WithCount shares an occupied-cell counter. NewResized ignores it when a
// source storage is given and reuses the source's counter instead.
func WithCount(count *atomic.Uint64) Option {
	return func(o *options) {
		o.count = count
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := bucketstore.NewJSONLogger(slog.LevelDebug)
//	s, _ := bucketstore.New(drives, 1, 32, bucketstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRand replaces the randomness used for drive and file name selection.
// Tests use a seeded source to make placement deterministic:
//
//	bucketstore.WithRand(rand.New(rand.NewPCG(1, 2)))
func WithRand(r Rand) Option {
	return func(o *options) {
		o.rand = r
	}
}

// WithFileSystem replaces the file system used for backing files.
func WithFileSystem(fsys FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithLockMode selects how cell headers are locked. See LockMode.
func WithLockMode(mode LockMode) Option {
	return func(o *options) {
		o.lockMode = mode
	}
}

// WithMigrationWorkers sets how many index ranges NewResized copies in
// parallel. Values below 1 mean 1.
func WithMigrationWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithResourceController accounts mapped bytes against rc and throttles
// migration copies with its background and IO limits.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithAccessPattern applies a kernel access hint to the whole mapping.
func WithAccessPattern(pattern AccessPattern) Option {
	return func(o *options) {
		o.access = pattern
	}
}

func defaultOptions() options {
	return options{
		capacityPow2: DefaultCapacityPow2,
		workers:      1,
	}
}

func applyOptions(o options, optFns []Option) options {
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.stats == nil {
		o.stats = &Stats{}
	}
	if o.count == nil {
		o.count = &atomic.Uint64{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.rand == nil {
		o.rand = globalRand{}
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}
