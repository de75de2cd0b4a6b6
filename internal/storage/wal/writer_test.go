package wal

import (
	"path/filepath"
	"testing"
)

func TestWriter_AppendAndClose(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Config{Dir: dir, Policy: SyncEveryWrite})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	rec := &Record{Op: OpSet, Key: []byte("hello"), Value: []byte("world")}
	off1, err := w.Append(rec)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off1 == 0 {
		t.Fatalf("expected nonzero offset")
	}

	off2, err := w.Append(rec)
	if err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if off2 <= off1 {
		t.Fatalf("offsets did not advance: %d -> %d", off1, off2)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	finalized, err := segmentIsFinalized(
		filepath.Join(w.cfg.Dir, formatSegmentFilename(1)),
	)
	if err != nil {
		t.Fatalf("segmentIsFinalized: %v", err)
	}
	if !finalized {
		t.Fatalf("expected segment to be finalized after Close")
	}
}

func TestWriter_ResumesOpenSegment(t *testing.T) {
	dir := t.TempDir()

	w1, err := NewWriter(Config{Dir: dir, Policy: SyncEveryWrite})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	rec := &Record{Op: OpSet, Key: []byte("a"), Value: []byte("1")}
	if _, err := w1.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Simulate a crash: do not call Close, just drop the handle.

	w2, err := NewWriter(Config{Dir: dir, Policy: SyncEveryWrite})
	if err != nil {
		t.Fatalf("NewWriter (resume): %v", err)
	}
	defer w2.Close()

	if w2.segmentID != 1 {
		t.Fatalf("expected to resume segment 1, got %d", w2.segmentID)
	}
	if w2.fileSize == 0 {
		t.Fatalf("expected resumed segment to carry over its existing byte size")
	}
}

func TestWriter_RotatesAtMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	rec := &Record{Op: OpSet, Key: []byte("k"), Value: []byte("v")}

	frameLen := rec.EncodedLen()
	w, err := NewWriter(Config{
		Dir:         dir,
		Policy:      SyncEveryWrite,
		MaxFileSize: int64(frameLen), // forces rotation after every record
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Append(rec); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if _, err := w.Append(rec); err != nil {
		t.Fatalf("Append 2: %v", err)
	}

	if w.segmentID != 2 {
		t.Fatalf("expected rotation to segment 2, got %d", w.segmentID)
	}
}

func TestWriter_RejectsOversizedRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Config{Dir: dir, Policy: SyncEveryWrite, MaxFileSize: 32})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	rec := &Record{Op: OpSet, Key: []byte("k"), Value: []byte("v")}
	if _, err := w.Append(rec); err != ErrRecordTooLarge {
		t.Fatalf("Append oversized record = %v, want ErrRecordTooLarge", err)
	}
}
