package kvstore

import (
	"testing"
	"time"
)

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	if err := w.Append(1, OpTypePut, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(2, OpTypeDelete, []byte("b"), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := w.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Sequence != 1 || string(entries[0].Key) != "a" || string(entries[0].Value) != "1" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Operation != OpTypeDelete || string(entries[1].Key) != "b" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestWALReplayOnFreshDirIsEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	entries, err := w.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries on a fresh WAL, got %d", len(entries))
	}
}

func TestWALRotateStartsFreshSegment(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	if err := w.Append(1, OpTypePut, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	oldPath, err := w.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if err := w.Append(2, OpTypePut, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Append after rotate: %v", err)
	}

	entries, err := w.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 1 || string(entries[0].Key) != "b" {
		t.Fatalf("expected replay of the new segment only, got %+v", entries)
	}

	if err := w.RemoveSegment(oldPath); err != nil {
		t.Fatalf("RemoveSegment: %v", err)
	}
}

func TestWALAppendGroupCommit(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(WALConfig{DataDir: dir, GroupCommit: true, FlushTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	if err := w.Append(1, OpTypePut, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	stats := w.GetStats()
	if stats.TotalEntries != 1 {
		t.Errorf("expected 1 total entry, got %d", stats.TotalEntries)
	}
}
