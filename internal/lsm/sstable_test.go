package lsm

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestSSTable(t *testing.T, dir, name string, entries []SSTableEntry) *SSTable {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := NewSSTableWriter(path, uint64(len(entries)), 0.01)
	if err != nil {
		t.Fatalf("NewSSTableWriter: %v", err)
	}
	for _, e := range entries {
		if err := w.Add(e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := w.Finish(0); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	run, err := OpenSSTable(name, path, 0)
	if err != nil {
		t.Fatalf("OpenSSTable: %v", err)
	}
	t.Cleanup(func() { run.Close() })
	return run
}

func TestSSTableWriteAndGet(t *testing.T) {
	dir := t.TempDir()
	entries := []SSTableEntry{
		{Key: []byte("a"), Value: []byte("1"), Sequence: 1},
		{Key: []byte("b"), Value: []byte("2"), Sequence: 2},
		{Key: []byte("c"), Value: []byte("3"), Sequence: 3},
	}
	run := writeTestSSTable(t, dir, "run1.sst", entries)

	for _, e := range entries {
		got, ok, err := run.Get(e.Key)
		if err != nil {
			t.Fatalf("Get(%s): %v", e.Key, err)
		}
		if !ok {
			t.Fatalf("expected to find key %s", e.Key)
		}
		if string(got.Value) != string(e.Value) {
			t.Errorf("expected value %s, got %s", e.Value, got.Value)
		}
	}

	_, ok, err := run.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get(missing): %v", err)
	}
	if ok {
		t.Error("expected missing key to not be found")
	}
}

func TestSSTableRejectsOutOfOrderKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSSTableWriter(filepath.Join(dir, "bad.sst"), 10, 0.01)
	if err != nil {
		t.Fatalf("NewSSTableWriter: %v", err)
	}
	if err := w.Add(SSTableEntry{Key: []byte("b"), Value: []byte("1")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(SSTableEntry{Key: []byte("a"), Value: []byte("2")}); err == nil {
		t.Fatal("expected error for out-of-order key")
	}
}

func TestSSTableScanRange(t *testing.T) {
	dir := t.TempDir()
	entries := []SSTableEntry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
		{Key: []byte("d"), Value: []byte("4")},
	}
	run := writeTestSSTable(t, dir, "scan.sst", entries)

	it := run.Scan([]byte("b"), []byte("c"))
	var got []string
	for it.Next() {
		got = append(got, string(it.Current().Key))
	}
	if it.Err() != nil {
		t.Fatalf("scan error: %v", it.Err())
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected [b c], got %v", got)
	}
}

func TestSSTableTombstoneRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := []SSTableEntry{
		{Key: []byte("a"), Value: nil, Tombstone: true, Sequence: 5},
	}
	run := writeTestSSTable(t, dir, "tomb.sst", entries)

	got, ok, err := run.Get([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.Tombstone {
		t.Error("expected tombstone flag to survive round trip")
	}
}

func TestOpenSSTableRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.sst")
	if err := os.WriteFile(path, make([]byte, footerSize+8), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenSSTable("junk", path, 0); err == nil {
		t.Fatal("expected error opening a non-sorted-run file")
	}
}
