package lsm

import "errors"

// Sentinel errors for the storage engine's error kinds (spec §7).
var (
	// ErrNotFound is returned by Store.Get when a key has no live entry
	// (never written, or shadowed by a tombstone). Callers test for it with
	// errors.Is. Sorted runs and MemTables report absence with an ok boolean
	// instead.
	ErrNotFound = errors.New("lsm: key not found")

	// ErrCorruption marks a checksum mismatch, malformed footer, or a
	// manifest referencing a missing file. The engine refuses to serve
	// requests against data flagged this way until operator intervention.
	ErrCorruption = errors.New("lsm: corruption detected")

	// ErrClosed is returned by operations attempted after the owning
	// component (sorted run, Store) has been closed.
	ErrClosed = errors.New("lsm: component closed")
)
