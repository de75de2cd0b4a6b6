package wal

import "testing"

func TestCompactor_RetainsMinimumSegments(t *testing.T) {
	dir := t.TempDir()
	rec := &Record{Op: OpSet, Key: []byte("k"), Value: []byte("v")}
	maxFileSize := int64(rec.EncodedLen())

	w, err := NewWriter(Config{Dir: dir, Policy: SyncEveryWrite, MaxFileSize: maxFileSize})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := w.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCompactor(dir, maxFileSize, 2)
	// Checkpoint offset covers everything; retention should still keep
	// the newest 2 segments.
	if err := c.Compact(uint64(6) * uint64(maxFileSize)); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	count, err := c.FileCount()
	if err != nil {
		t.Fatalf("FileCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("FileCount after compaction = %d, want 2", count)
	}
}

func TestCompactor_NoopBelowRetentionFloor(t *testing.T) {
	dir := t.TempDir()
	rec := &Record{Op: OpSet, Key: []byte("k"), Value: []byte("v")}
	w, err := NewWriter(Config{Dir: dir, Policy: SyncEveryWrite})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c := NewCompactor(dir, DefaultMaxFileSize, 2)
	if err := c.Compact(^uint64(0)); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	count, err := c.FileCount()
	if err != nil {
		t.Fatalf("FileCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("FileCount = %d, want 1 (below retention floor, nothing removed)", count)
	}
}
