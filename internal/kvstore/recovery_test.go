package kvstore

import "testing"

func TestRecoveryManagerReplaysIntoMemTable(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	if err := w.Append(1, OpTypePut, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(2, OpTypePut, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(3, OpTypeDelete, []byte("a"), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	mt := NewMemTable(DefaultMemTableConfig())
	rm := NewRecoveryManager(w, mt)

	maxSeq, err := rm.RecoverFromWAL()
	if err != nil {
		t.Fatalf("RecoverFromWAL: %v", err)
	}
	if maxSeq != 3 {
		t.Errorf("expected max sequence 3, got %d", maxSeq)
	}

	e, ok := mt.Get([]byte("a"))
	if !ok || !e.Deleted {
		t.Error("expected key a to be recovered as a tombstone")
	}
	e, ok = mt.Get([]byte("b"))
	if !ok || string(e.Value) != "2" {
		t.Errorf("expected key b to be recovered with value 2, got %+v ok=%v", e, ok)
	}

	stats := rm.GetRecoveryStats()
	if stats.EntriesReplayed != 3 || stats.PutOperations != 2 || stats.DeleteOperations != 1 {
		t.Errorf("unexpected recovery stats: %+v", stats)
	}
}

func TestRecoveryManagerEmptyWAL(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	mt := NewMemTable(DefaultMemTableConfig())
	rm := NewRecoveryManager(w, mt)

	maxSeq, err := rm.RecoverFromWAL()
	if err != nil {
		t.Fatalf("RecoverFromWAL: %v", err)
	}
	if maxSeq != 0 {
		t.Errorf("expected max sequence 0 for empty WAL, got %d", maxSeq)
	}
	if !mt.IsEmpty() {
		t.Error("expected memtable to remain empty")
	}
}
