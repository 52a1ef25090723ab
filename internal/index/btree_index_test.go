package index

import (
	"fmt"
	"testing"
)

func entryFor(offset int64) IndexEntry {
	return IndexEntry{Offset: offset, Size: 10, Timestamp: offset}
}

func TestBTreeIndexInsertAndGet(t *testing.T) {
	bt, err := NewBTreeIndex(DefaultBTreeIndexConfig())
	if err != nil {
		t.Fatalf("NewBTreeIndex: %v", err)
	}

	if err := bt.Insert("a", entryFor(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := bt.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Offset != 1 {
		t.Errorf("expected offset 1, got %d", got.Offset)
	}

	if _, err := bt.Get("missing"); err == nil {
		t.Error("expected error getting a missing key")
	}
}

func TestBTreeIndexInsertOverwritesExistingKey(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	bt.Insert("a", entryFor(1))
	bt.Insert("a", entryFor(2))

	if bt.Size() != 1 {
		t.Errorf("expected size 1 after overwrite, got %d", bt.Size())
	}
	got, _ := bt.Get("a")
	if got.Offset != 2 {
		t.Errorf("expected overwritten offset 2, got %d", got.Offset)
	}
}

func TestBTreeIndexSplitsAcrossManyInserts(t *testing.T) {
	bt, err := NewBTreeIndex(BTreeIndexConfig{Order: 4})
	if err != nil {
		t.Fatalf("NewBTreeIndex: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		if err := bt.Insert(key, entryFor(int64(i))); err != nil {
			t.Fatalf("Insert(%s): %v", key, err)
		}
	}

	if bt.Size() != n {
		t.Fatalf("expected %d entries, got %d", n, bt.Size())
	}
	if err := bt.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		got, err := bt.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if got.Offset != int64(i) {
			t.Errorf("expected offset %d for %s, got %d", i, key, got.Offset)
		}
	}
}

func TestBTreeIndexDeleteRebalancesAcrossManyRemovals(t *testing.T) {
	bt, err := NewBTreeIndex(BTreeIndexConfig{Order: 4})
	if err != nil {
		t.Fatalf("NewBTreeIndex: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		bt.Insert(key, entryFor(int64(i)))
	}

	for i := 0; i < n; i += 2 {
		key := fmt.Sprintf("key-%04d", i)
		if err := bt.Delete(key); err != nil {
			t.Fatalf("Delete(%s): %v", key, err)
		}
	}

	if err := bt.Validate(); err != nil {
		t.Errorf("Validate after deletes: %v", err)
	}
	if bt.Size() != n/2 {
		t.Errorf("expected %d remaining entries, got %d", n/2, bt.Size())
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		_, err := bt.Get(key)
		if i%2 == 0 && err == nil {
			t.Errorf("expected %s to be deleted", key)
		}
		if i%2 == 1 && err != nil {
			t.Errorf("expected %s to survive, got error: %v", key, err)
		}
	}
}

func TestBTreeIndexDeleteMissingKeyErrors(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	if err := bt.Delete("missing"); err == nil {
		t.Error("expected error deleting a missing key")
	}
}

func TestBTreeIndexExists(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	bt.Insert("a", entryFor(1))

	if !bt.Exists("a") {
		t.Error("expected a to exist")
	}
	if bt.Exists("b") {
		t.Error("expected b to not exist")
	}
}

func TestBTreeIndexRange(t *testing.T) {
	bt, _ := NewBTreeIndex(BTreeIndexConfig{Order: 4})
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		bt.Insert(k, entryFor(1))
	}

	entries, err := bt.Range("b", "d")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in [b,d], got %d", len(entries))
	}
}

func TestBTreeIndexPrefix(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	for _, k := range []string{"app", "apple", "application", "banana"} {
		bt.Insert(k, entryFor(1))
	}

	entries, err := bt.Prefix("app")
	if err != nil {
		t.Fatalf("Prefix: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 entries with prefix app, got %d", len(entries))
	}
}

func TestBTreeIndexKeysSortedByLeafChain(t *testing.T) {
	bt, _ := NewBTreeIndex(BTreeIndexConfig{Order: 4})
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		bt.Insert(k, entryFor(1))
	}

	keys := bt.Keys()
	want := []string{"a", "b", "c", "d", "e"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("expected key %d to be %s, got %s", i, k, keys[i])
		}
	}
}

func TestBTreeIndexBatchInsertAndDelete(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	entries := map[string]IndexEntry{
		"a": entryFor(1),
		"b": entryFor(2),
		"c": entryFor(3),
	}
	if err := bt.BatchInsert(entries); err != nil {
		t.Fatalf("BatchInsert: %v", err)
	}
	if bt.Size() != 3 {
		t.Fatalf("expected 3 entries, got %d", bt.Size())
	}

	if err := bt.BatchDelete([]string{"a", "c"}); err != nil {
		t.Fatalf("BatchDelete: %v", err)
	}
	if bt.Size() != 1 {
		t.Errorf("expected 1 remaining entry, got %d", bt.Size())
	}
	if !bt.Exists("b") {
		t.Error("expected b to survive batch delete")
	}
}

func TestBTreeIndexRebuild(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	bt.Insert("stale", entryFor(1))

	entries := map[string]IndexEntry{"a": entryFor(1), "b": entryFor(2)}
	if err := bt.Rebuild(entries); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if bt.Exists("stale") {
		t.Error("expected rebuild to discard prior entries")
	}
	if bt.Size() != 2 {
		t.Errorf("expected 2 entries after rebuild, got %d", bt.Size())
	}
}

func TestBTreeIndexNewRejectsSmallOrder(t *testing.T) {
	if _, err := NewBTreeIndex(BTreeIndexConfig{Order: 2}); err == nil {
		t.Error("expected error for order below 3")
	}
}

func TestBTreeIndexSaveLoadUnimplemented(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	if err := bt.Save("x"); err == nil {
		t.Error("expected Save to report it is unsupported")
	}
	if err := bt.Load("x"); err == nil {
		t.Error("expected Load to report it is unsupported")
	}
}

func TestBTreeIndexClose(t *testing.T) {
	bt, _ := NewBTreeIndex(DefaultBTreeIndexConfig())
	bt.Insert("a", entryFor(1))
	if err := bt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bt.Size() != 0 {
		t.Errorf("expected size 0 after close, got %d", bt.Size())
	}
}
