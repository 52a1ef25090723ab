package kvstore

import "testing"

func TestMemTablePutGet(t *testing.T) {
	mt := NewMemTable(DefaultMemTableConfig())
	mt.Put([]byte("a"), []byte("1"), 1)
	mt.Put([]byte("b"), []byte("2"), 2)

	e, ok := mt.Get([]byte("a"))
	if !ok {
		t.Fatal("expected to find key a")
	}
	if string(e.Value) != "1" {
		t.Errorf("expected value 1, got %s", e.Value)
	}

	if _, ok := mt.Get([]byte("missing")); ok {
		t.Error("expected missing key to not be found")
	}
}

func TestMemTableOverwriteKeepsSortedOrder(t *testing.T) {
	mt := NewMemTable(DefaultMemTableConfig())
	mt.Put([]byte("c"), []byte("3"), 1)
	mt.Put([]byte("a"), []byte("1"), 2)
	mt.Put([]byte("b"), []byte("2"), 3)
	mt.Put([]byte("a"), []byte("1-updated"), 4)

	all := mt.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if string(all[0].Key) != "a" || string(all[1].Key) != "b" || string(all[2].Key) != "c" {
		t.Errorf("expected sorted order a,b,c; got %s,%s,%s", all[0].Key, all[1].Key, all[2].Key)
	}
	if string(all[0].Value) != "1-updated" {
		t.Errorf("expected overwritten value, got %s", all[0].Value)
	}
}

func TestMemTableDeleteTombstone(t *testing.T) {
	mt := NewMemTable(DefaultMemTableConfig())
	mt.Put([]byte("a"), []byte("1"), 1)
	mt.Delete([]byte("a"), 2)

	e, ok := mt.Get([]byte("a"))
	if !ok {
		t.Fatal("expected tombstone entry to remain present")
	}
	if !e.Deleted {
		t.Error("expected entry to be marked deleted")
	}
}

func TestMemTableRange(t *testing.T) {
	mt := NewMemTable(DefaultMemTableConfig())
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		mt.Put([]byte(k), []byte(k), 1)
	}

	got := mt.Range([]byte("b"), []byte("d"))
	if len(got) != 3 {
		t.Fatalf("expected 3 entries in range, got %d", len(got))
	}
	if string(got[0].Key) != "b" || string(got[2].Key) != "d" {
		t.Errorf("unexpected range bounds: %s .. %s", got[0].Key, got[2].Key)
	}
}

func TestMemTableShouldFlush(t *testing.T) {
	mt := NewMemTable(MemTableConfig{MaxSize: 10})
	if mt.ShouldFlush() {
		t.Error("expected empty memtable to not need flush")
	}
	mt.Put([]byte("key"), []byte("a moderately long value"), 1)
	if !mt.ShouldFlush() {
		t.Error("expected memtable over MaxSize to need flush")
	}
}

func TestMemTableIsEmpty(t *testing.T) {
	mt := NewMemTable(DefaultMemTableConfig())
	if !mt.IsEmpty() {
		t.Error("expected new memtable to be empty")
	}
	mt.Put([]byte("a"), []byte("1"), 1)
	if mt.IsEmpty() {
		t.Error("expected non-empty memtable after Put")
	}
}
