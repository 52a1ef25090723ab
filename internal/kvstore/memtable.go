package kvstore

import (
	"bytes"
	"sort"
	"sync"
	"time"
)

// MemTable is an in-memory ordered buffer of recent writes. Entries are
// kept in key order incrementally (sorted-slice + binary-search
// insert/delete), the same idiom the B+ tree index uses for its own
// separator slices, so ordered iteration never requires a sort-on-read.
type MemTable struct {
	mu      sync.RWMutex
	entries []MemTableEntry

	size      int64 // Total memory usage estimate in bytes
	maxSize   int64 // Maximum size before flush
	createdAt time.Time

	stats MemTableStats
}

// MemTableEntry is a single buffered write: a key/value pair (or
// tombstone) tagged with the sequence number that produced it.
type MemTableEntry struct {
	Key       []byte
	Value     []byte
	Deleted   bool   // True if this is a deletion marker (tombstone)
	Sequence  uint64 // Store-assigned sequence number
}

// MemTableStats holds statistics about MemTable operations
type MemTableStats struct {
	Entries       int
	MemoryUsage   int64
	PutCount      uint64
	GetCount      uint64
	DeleteCount   uint64
	FlushCount    uint64
	LastFlushTime time.Time
}

// MemTableConfig holds configuration for MemTable
type MemTableConfig struct {
	MaxSize      int64 // Maximum size in bytes before forcing flush
	MaxEntries   int   // Not read by NewMemTable: ShouldFlush triggers on MaxSize alone
	FlushTimeout time.Duration
}

// DefaultMemTableConfig returns default MemTable configuration
func DefaultMemTableConfig() MemTableConfig {
	return MemTableConfig{
		MaxSize:      16 * 1024 * 1024, // 16MB
		MaxEntries:   100000,           // 100K entries
		FlushTimeout: 30 * time.Second,
	}
}

// NewMemTable creates a new MemTable
func NewMemTable(config MemTableConfig) *MemTable {
	maxSize := config.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMemTableConfig().MaxSize
	}
	return &MemTable{
		maxSize:   maxSize,
		createdAt: time.Now(),
	}
}

// entrySize estimates the in-memory footprint of one entry: key + value +
// struct overhead, matching the teacher's existing estimation approach.
func entrySize(key, value []byte) int64 {
	return int64(64 + len(key) + len(value))
}

// search returns the index of key in entries, and whether it was found.
// Callers must hold mu.
func (mt *MemTable) search(key []byte) (int, bool) {
	idx := sort.Search(len(mt.entries), func(i int) bool {
		return bytes.Compare(mt.entries[i].Key, key) >= 0
	})
	if idx < len(mt.entries) && bytes.Equal(mt.entries[idx].Key, key) {
		return idx, true
	}
	return idx, false
}

func (mt *MemTable) upsert(key, value []byte, deleted bool, sequence uint64) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	idx, found := mt.search(key)
	entry := MemTableEntry{
		Key:      append([]byte(nil), key...),
		Value:    append([]byte(nil), value...),
		Deleted:  deleted,
		Sequence: sequence,
	}

	if found {
		mt.size += entrySize(key, value) - entrySize(mt.entries[idx].Key, mt.entries[idx].Value)
		mt.entries[idx] = entry
	} else {
		mt.entries = append(mt.entries, MemTableEntry{})
		copy(mt.entries[idx+1:], mt.entries[idx:])
		mt.entries[idx] = entry
		mt.size += entrySize(key, value)
	}

	if deleted {
		mt.stats.DeleteCount++
	} else {
		mt.stats.PutCount++
	}
	mt.stats.Entries = len(mt.entries)
	mt.stats.MemoryUsage = mt.size
}

// Put inserts or replaces the value for key, stamped with sequence.
func (mt *MemTable) Put(key, value []byte, sequence uint64) {
	mt.upsert(key, value, false, sequence)
}

// Delete inserts a tombstone for key, stamped with sequence.
func (mt *MemTable) Delete(key []byte, sequence uint64) {
	mt.upsert(key, nil, true, sequence)
}

// Get returns the most recent entry for key, if any is buffered.
func (mt *MemTable) Get(key []byte) (MemTableEntry, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	mt.stats.GetCount++
	idx, found := mt.search(key)
	if !found {
		return MemTableEntry{}, false
	}
	return mt.entries[idx], true
}

// All returns a snapshot slice of every entry (including tombstones) in
// key order, used by flush to build a sorted run and by scan to merge
// across memtables and runs.
func (mt *MemTable) All() []MemTableEntry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	out := make([]MemTableEntry, len(mt.entries))
	copy(out, mt.entries)
	return out
}

// Range returns the entries with keys in [lo, hi]. nil bounds are open.
func (mt *MemTable) Range(lo, hi []byte) []MemTableEntry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	start := 0
	if lo != nil {
		start = sort.Search(len(mt.entries), func(i int) bool {
			return bytes.Compare(mt.entries[i].Key, lo) >= 0
		})
	}
	end := len(mt.entries)
	if hi != nil {
		end = sort.Search(len(mt.entries), func(i int) bool {
			return bytes.Compare(mt.entries[i].Key, hi) > 0
		})
	}
	if start >= end {
		return nil
	}
	out := make([]MemTableEntry, end-start)
	copy(out, mt.entries[start:end])
	return out
}

// Size returns the estimated memory usage in bytes.
func (mt *MemTable) Size() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

// Count returns the number of buffered entries.
func (mt *MemTable) Count() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.entries)
}

// ShouldFlush reports whether the MemTable has crossed its capacity
// threshold and the Store should trigger a flush.
func (mt *MemTable) ShouldFlush() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size >= mt.maxSize
}

// IsEmpty reports whether the MemTable has no buffered entries.
func (mt *MemTable) IsEmpty() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.entries) == 0
}

// GetStats returns a snapshot of MemTable statistics.
func (mt *MemTable) GetStats() MemTableStats {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	stats := mt.stats
	stats.Entries = len(mt.entries)
	stats.MemoryUsage = mt.size
	return stats
}

// Age returns how long this MemTable has been active.
func (mt *MemTable) Age() time.Duration {
	return time.Since(mt.createdAt)
}

// MarkFlushed records that this MemTable has been (or is being) flushed.
func (mt *MemTable) MarkFlushed() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.stats.FlushCount++
	mt.stats.LastFlushTime = time.Now()
}
