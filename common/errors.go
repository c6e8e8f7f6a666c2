package common

import "errors"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrDiskFull    = errors.New("disk full")

	ErrClosed   = errors.New("storage engine closed")
	ErrKeyEmpty = errors.New("key cannot be empty")

	// ErrUnexpectedCommandType is returned when an index entry resolves to
	// a record that isn't a Set. It indicates a corrupted log or a bug in
	// how the index was built.
	ErrUnexpectedCommandType = errors.New("unexpected command type at indexed position")

	// ErrCrcMismatch is returned when an SSTable footer's crc32 does not
	// match the crc32 of its data block. Fatal at open.
	ErrCrcMismatch = errors.New("crc32 mismatch")

	// ErrFileNotFound indicates the current-generation segment handler is
	// missing from the manifest. This is an internal invariant violation.
	ErrFileNotFound = errors.New("segment handler not found for current generation")

	// ErrCacheSizeOverflow is returned when a negative cache size is
	// supplied at construction. A zero size selects the default.
	ErrCacheSizeOverflow = errors.New("cache size must not be negative")

	// ErrLevelOver is returned when a major compaction would promote an
	// SSTable beyond the deepest level (6).
	ErrLevelOver = errors.New("max level is 6")

	// ErrWalLoadError is returned when the WAL references state that
	// cannot be replayed consistently.
	ErrWalLoadError = errors.New("wal load error")

	// ErrSSTableLost is returned when a level slice references a
	// generation absent from the manifest's ss_tables_map.
	ErrSSTableLost = errors.New("sstable not found for tracked generation")
)
