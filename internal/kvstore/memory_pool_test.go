package kvstore

import (
	"testing"

	"github.com/mozdb/kvengine/internal/index"
)

func TestMemoryPoolsBufferReuse(t *testing.T) {
	mp := NewMemoryPools(DefaultMemoryPoolConfig())

	buf := mp.GetBuffer()
	buf = append(buf, []byte("hello")...)
	mp.PutBuffer(buf)

	stats := mp.GetStats()
	if stats.BufferGets != 1 || stats.BufferPuts != 1 {
		t.Errorf("unexpected buffer stats: %+v", stats)
	}

	buf2 := mp.GetBuffer()
	if len(buf2) != 0 {
		t.Errorf("expected fresh buffer from pool to have zero length, got %d", len(buf2))
	}
}

func TestMemoryPoolsIndexEntryReset(t *testing.T) {
	mp := NewMemoryPools(DefaultMemoryPoolConfig())

	entry := mp.GetIndexEntry()
	entry.Key = "a"
	entry.Size = 42
	mp.PutIndexEntry(entry)

	entry2 := mp.GetIndexEntry()
	if entry2.Key != "" || entry2.Size != 0 {
		t.Errorf("expected pooled entry to be reset, got %+v", entry2)
	}
}

func TestMemoryPoolsDisabled(t *testing.T) {
	cfg := DefaultMemoryPoolConfig()
	cfg.EnableBufferPool = false
	cfg.EnableIndexPool = false
	mp := NewMemoryPools(cfg)

	buf := mp.GetBuffer()
	if buf == nil {
		t.Error("expected a non-nil buffer even with pooling disabled")
	}
	entry := mp.GetIndexEntry()
	if entry == nil {
		t.Error("expected a non-nil index entry even with pooling disabled")
	}
}

func TestMemoryOptimizerLifecycle(t *testing.T) {
	mo := NewMemoryOptimizer(DefaultMemoryPoolConfig())
	defer mo.Close()

	if mo.GetPools() == nil {
		t.Fatal("expected non-nil pools")
	}
	slices := mo.GetPreallocatedSlices()
	if slices == nil {
		t.Fatal("expected non-nil preallocated slices")
	}
	slices.IndexEntries = append(slices.IndexEntries, index.IndexEntry{Key: "a"})
}
