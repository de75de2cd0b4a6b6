package wal

import (
	"bufio"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tidekv/tidekv/pkg/crypto/adaptive"
)

// File naming (§3): <prefix><seq>, seq monotone and 1-based. The segment
// with the greatest seq is active and is the only one open for append.
const (
	FilePrefix    = "wal-"
	FileExtension = ".log"

	// ChecksumSize is the size of the optional whole-segment SHA-256
	// trailer appended when a segment is finalized (SPEC_FULL §12). The
	// record wire format itself carries no file header or trailer; this
	// is purely a belt-and-suspenders integrity check over closed
	// segments and is never present on the active segment.
	ChecksumSize = sha256.Size

	DefaultFilePerm = 0o600
	DefaultDirPerm  = 0o750
)

// SegmentState is the lifecycle of the active segment (§4.4).
type SegmentState int

const (
	StateOpening SegmentState = iota
	StateActive
	StateRotating
	StateClosed
)

// SyncPolicy governs when Append's durability becomes visible to callers.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs inline before Append returns.
	SyncEveryWrite SyncPolicy = iota
	// SyncEveryMs fsyncs on a fixed interval (group commit); Append blocks
	// until the next periodic fsync covering its record completes.
	SyncEveryMs
	// SyncNever never fsyncs. Testing only.
	SyncNever
)

// Config configures a WAL Writer.
type Config struct {
	Dir string

	Policy       SyncPolicy
	SyncInterval time.Duration // used when Policy == SyncEveryMs

	MaxFileSize int64

	Cipher adaptive.Cipher
	Logger *slog.Logger
}

const (
	DefaultMaxFileSize   int64 = 64 << 20
	DefaultSyncInterval        = 5 * time.Millisecond
)

func (c *Config) applyDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// waiter is a pending group-commit waiter: the caller blocks on ready
// until the fsync covering its append completes.
type waiter struct {
	ready chan error
}

// Writer owns the active WAL segment and serializes appends behind a
// single mutex, per §5 ("the WAL active-segment handle is guarded by a
// single mutex; held only for append duration").
type Writer struct {
	cfg Config

	mu    sync.Mutex
	state SegmentState

	segmentID uint64
	file      *os.File
	fileSize  int64
	hash      hash.Hash

	pendingSync bool
	waiters     []waiter

	syncTicker *time.Ticker
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     bool
}

// NewWriter opens (or creates) the WAL directory and resumes the highest
// numbered segment, per the Opening -> Active transition in §4.4.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("wal: dir is required")
	}
	cfg.applyDefaults()
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	w := &Writer{
		cfg:    cfg,
		state:  StateOpening,
		hash:   sha256.New(),
		stopCh: make(chan struct{}),
	}

	latestID, latestPath, closed, err := findLatestSegment(cfg.Dir)
	if err != nil {
		return nil, err
	}

	if latestID == 0 || closed {
		w.segmentID = latestID + 1
		if err := w.openNewSegment(); err != nil {
			return nil, err
		}
	} else {
		w.segmentID = latestID
		if err := w.openExistingSegment(latestPath); err != nil {
			return nil, err
		}
	}
	w.state = StateActive

	if cfg.Policy == SyncEveryMs {
		w.startSyncLoop()
	}

	return w, nil
}

// SetSyncPolicy changes the durability policy new Appends observe,
// starting or stopping the periodic fsync loop as needed. Used by the
// config hot-reload path (SPEC_FULL §10.3) to flip between SyncEveryMs
// and the other policies without a restart.
func (w *Writer) SetSyncPolicy(policy SyncPolicy) {
	w.mu.Lock()
	old := w.cfg.Policy
	w.cfg.Policy = policy
	startLoop := policy == SyncEveryMs && w.syncTicker == nil
	var stopTicker *time.Ticker
	if old == SyncEveryMs && policy != SyncEveryMs && w.syncTicker != nil {
		stopTicker = w.syncTicker
		w.syncTicker = nil
	}
	w.mu.Unlock()

	if stopTicker != nil {
		stopTicker.Stop()
		w.syncTick() // release Appends still waiting on the stopped loop
	}
	if startLoop {
		w.startSyncLoop()
	}
}

// CurrentOffset reports the monotone external offset (seq*max_file_size +
// offset), per §3's WalSegment definition.
func (w *Writer) CurrentOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offsetLocked()
}

func (w *Writer) offsetLocked() uint64 {
	return w.segmentID*uint64(w.cfg.MaxFileSize) + uint64(w.fileSize)
}

// Append serializes and writes rec, rotating the segment first if
// necessary, and honors the configured sync policy before returning. It
// returns the composite offset immediately after the record, which is
// where the next record starts.
func (w *Writer) Append(rec *Record) (uint64, error) {
	frame, err := Encode(rec, w.cfg.Cipher)
	if err != nil {
		return 0, err
	}
	if int64(len(frame)) > w.cfg.MaxFileSize {
		return 0, ErrRecordTooLarge
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, fmt.Errorf("wal: writer is closed")
	}

	if w.fileSize+int64(len(frame)) > w.cfg.MaxFileSize {
		if err := w.rotateLocked(); err != nil {
			w.mu.Unlock()
			return 0, err
		}
	}

	if _, err := w.writeLocked(frame); err != nil {
		w.mu.Unlock()
		return 0, err
	}
	offset := w.offsetLocked()

	switch w.cfg.Policy {
	case SyncEveryWrite:
		err := w.file.Sync()
		w.mu.Unlock()
		return offset, err
	case SyncNever:
		w.mu.Unlock()
		return offset, nil
	default: // SyncEveryMs: group-commit, block until the next periodic fsync
		ch := make(chan error, 1)
		w.waiters = append(w.waiters, waiter{ready: ch})
		w.pendingSync = true
		w.mu.Unlock()
		return offset, <-ch
	}
}

func (w *Writer) startSyncLoop() {
	w.mu.Lock()
	ticker := time.NewTicker(w.cfg.SyncInterval)
	w.syncTicker = ticker
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ticker.C:
				w.syncTick()
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *Writer) syncTick() {
	w.mu.Lock()
	if !w.pendingSync || w.file == nil {
		w.mu.Unlock()
		return
	}
	err := w.file.Sync()
	waiters := w.waiters
	w.waiters = nil
	w.pendingSync = false
	w.mu.Unlock()

	for _, wt := range waiters {
		wt.ready <- err
	}
}

func (w *Writer) writeLocked(p []byte) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("wal: file not open")
	}
	n, err := w.file.Write(p)
	if n > 0 {
		w.hash.Write(p[:n])
		w.fileSize += int64(n)
	}
	return n, err
}

// rotateLocked closes the active segment (fsyncing and appending the
// supplemental whole-segment checksum) and opens seq+1 as the new active
// segment. §4.4: "fsynced and closed, a new segment at seq+1 is opened".
func (w *Writer) rotateLocked() error {
	w.state = StateRotating
	if err := w.finalizeLocked(); err != nil {
		return err
	}
	w.segmentID++
	if err := w.openNewSegment(); err != nil {
		return err
	}
	w.state = StateActive
	return nil
}

func (w *Writer) finalizeLocked() error {
	if w.file == nil {
		return nil
	}
	checksum := w.hash.Sum(nil)
	if _, err := w.file.Write(checksum); err != nil {
		return fmt.Errorf("wal: write segment checksum: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	w.cfg.Logger.Info("wal segment finalized", "segment", w.segmentID, "size", w.fileSize)
	w.file = nil
	return nil
}

func (w *Writer) openNewSegment() error {
	path := filepath.Join(w.cfg.Dir, formatSegmentFilename(w.segmentID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}
	w.file = f
	w.fileSize = 0
	w.hash = sha256.New()
	w.cfg.Logger.Info("wal segment opened", "segment", w.segmentID)
	return nil
}

// openExistingSegment resumes an unfinalized (no checksum trailer)
// segment found on disk. Per §4.4, a torn tail left by a crash mid-append
// is rewound: the segment is validated record-by-record and truncated
// back to the offset just past the last complete, valid record before
// appends resume, so the torn bytes are never left stranded mid-file.
func (w *Writer) openExistingSegment(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open existing segment: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat segment: %w", err)
	}

	validEnd, err := validateSegmentRecords(f, stat.Size(), w.cfg.Cipher)
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: validate existing segment: %w", err)
	}
	if validEnd < stat.Size() {
		w.cfg.Logger.Warn("wal: rewinding torn tail on resume",
			"segment", w.segmentID, "from_size", stat.Size(), "truncated_to", validEnd)
		if err := f.Truncate(validEnd); err != nil {
			f.Close()
			return fmt.Errorf("wal: truncate torn tail: %w", err)
		}
	}

	w.hash = sha256.New()
	if _, err := io.CopyN(w.hash, io.NewSectionReader(f, 0, validEnd), validEnd); err != nil {
		f.Close()
		return fmt.Errorf("wal: hash existing segment: %w", err)
	}
	if _, err := f.Seek(validEnd, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("wal: seek: %w", err)
	}

	w.file = f
	w.fileSize = validEnd
	return nil
}

// validateSegmentRecords scans records from the start of an unfinalized
// segment and returns the offset just past the last complete, valid
// record. A short read on the trailing record — fewer bytes on disk than
// its header declares — is a torn tail and simply ends the scan; a
// record whose bytes are fully present but fails header or checksum
// validation is mid-stream corruption and is fatal, matching Reader's
// tolerance rule (§4.4, §7).
func validateSegmentRecords(f *os.File, size int64, cipher adaptive.Cipher) (int64, error) {
	br := bufio.NewReader(io.NewSectionReader(f, 0, size))
	var pos int64
	for pos < size {
		header := make([]byte, HeaderSize)
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return pos, nil
			}
			return 0, err
		}
		keyLen, valueLen, _, ok := HeaderLens(header)
		if !ok {
			return 0, fmt.Errorf("%w: corrupted header at offset %d", ErrFatalCorruption, pos)
		}

		rest := make([]byte, int(keyLen)+int(valueLen)+4)
		if _, err := io.ReadFull(br, rest); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return pos, nil
			}
			return 0, err
		}

		frame := append(header, rest...)
		if _, err := Decode(frame, cipher); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrFatalCorruption, err)
		}
		pos += int64(len(frame))
	}
	return pos, nil
}

// Close flushes and finalizes the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()

	for _, wt := range waiters {
		wt.ready <- fmt.Errorf("wal: writer closed before sync")
	}

	if w.syncTicker != nil {
		w.syncTicker.Stop()
	}
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateClosed
	return w.finalizeLocked()
}

func formatSegmentFilename(seq uint64) string {
	return fmt.Sprintf("%s%020d%s", FilePrefix, seq, FileExtension)
}

func parseSegmentFilename(name string) (uint64, bool) {
	if len(name) <= len(FilePrefix)+len(FileExtension) {
		return 0, false
	}
	if name[:len(FilePrefix)] != FilePrefix || name[len(name)-len(FileExtension):] != FileExtension {
		return 0, false
	}
	var seq uint64
	_, err := fmt.Sscanf(name, FilePrefix+"%d"+FileExtension, &seq)
	if err != nil {
		return 0, false
	}
	return seq, true
}

type segmentFile struct {
	seq  uint64
	path string
}

func listSegments(dir string) ([]segmentFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var segs []segmentFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSegmentFilename(e.Name())
		if !ok {
			continue
		}
		segs = append(segs, segmentFile{seq: seq, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })
	return segs, nil
}

// findLatestSegment returns the highest-seq segment and whether it has
// already been finalized (carries a valid trailing checksum).
func findLatestSegment(dir string) (seq uint64, path string, closed bool, err error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, "", false, err
	}
	if len(segs) == 0 {
		return 0, "", false, nil
	}
	last := segs[len(segs)-1]
	closed, err = segmentIsFinalized(last.path)
	if err != nil {
		return 0, "", false, err
	}
	return last.seq, last.path, closed, nil
}

// segmentIsFinalized checks for a trailing SHA-256 over the data that
// precedes it; a segment lacking one (or still mid-write) is the active
// segment to resume appending to.
func segmentIsFinalized(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return false, err
	}
	if stat.Size() < ChecksumSize {
		return false, nil
	}

	dataLen := stat.Size() - ChecksumSize
	trailer := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, dataLen, ChecksumSize), trailer); err != nil {
		return false, err
	}

	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return false, err
	}
	return hashesEqual(h.Sum(nil), trailer), nil
}

func hashesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
