package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidekv/tidekv/pkg/crypto/adaptive"
)

// Magic bytes and format version, exactly as external interfaces §6
// specifies: MAGIC(4)=\x4B\x56\x53\x53 ("KVSS") || version(u32) ||
// num_shards(u32) || wal_offset(u64) || per-shard { entry_count(u64) ||
// entries }.
var magicBytes = [4]byte{0x4B, 0x56, 0x53, 0x53}

const (
	FormatVersion = 1

	filePrefix    = "snapshot_"
	fileExtension = ".bin"

	DefaultRetentionCount = 3
	DefaultRetentionDays  = 7
)

var (
	ErrInvalidMagic       = errors.New("snapshot: invalid magic bytes")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported format version")
	ErrShardCountMismatch = errors.New("snapshot: num_shards does not match current configuration")
	ErrNoSnapshots        = errors.New("snapshot: no snapshots available")
)

// Config configures a Manager.
type Config struct {
	Dir            string
	RetentionCount int
	RetentionDays  int
	Cipher         adaptive.Cipher
	Logger         *slog.Logger
}

// Manager captures and restores whole-engine state (§4.5).
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if cfg.RetentionCount <= 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Info describes one snapshot file on disk.
type Info struct {
	Path      string
	WALOffset uint64
	NumShards uint32
	CreatedAt time.Time
	Size      int64
}

// Create writes shards (one []Entry per shard index, in shard order) to
// a new snapshot file named snapshot_<unix_seconds>.bin, via a temp file
// plus atomic rename, then fsyncs the directory (§4.5 steps 3-4).
func (m *Manager) Create(numShards uint32, walOffset uint64, shards [][]Entry) (*Info, error) {
	now := time.Now()
	name := fmt.Sprintf("%s%d%s", filePrefix, now.Unix(), fileExtension)
	finalPath := filepath.Join(m.cfg.Dir, name)
	tempPath := finalPath + ".tmp"

	if err := m.writeFile(tempPath, numShards, walOffset, shards); err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}

	if dir, err := os.Open(m.cfg.Dir); err == nil {
		_ = dir.Sync()
		dir.Close()
	}

	stat, err := os.Stat(finalPath)
	if err != nil {
		return nil, err
	}

	m.cfg.Logger.Info("snapshot created", "path", finalPath, "wal_offset", walOffset, "num_shards", numShards)

	return &Info{
		Path:      finalPath,
		WALOffset: walOffset,
		NumShards: numShards,
		CreatedAt: now,
		Size:      stat.Size(),
	}, nil
}

func (m *Manager) writeFile(path string, numShards uint32, walOffset uint64, shards [][]Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if _, err := w.Write(magicBytes[:]); err != nil {
		return err
	}
	if err := writeU32(w, FormatVersion); err != nil {
		return err
	}
	if err := writeU32(w, numShards); err != nil {
		return err
	}
	if err := writeU64(w, walOffset); err != nil {
		return err
	}

	for _, shard := range shards {
		if err := writeU64(w, uint64(len(shard))); err != nil {
			return err
		}
		for _, e := range shard {
			if err := m.writeEntry(w, e); err != nil {
				return err
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("snapshot: flush: %w", err)
	}
	return f.Sync()
}

func (m *Manager) writeEntry(w io.Writer, e Entry) error {
	value := e.Value
	if m.cfg.Cipher != nil && len(value) > 0 {
		ciphertext, err := m.cfg.Cipher.Encrypt(value, nil)
		if err != nil {
			return fmt.Errorf("snapshot: encrypt value: %w", err)
		}
		value = ciphertext
	}

	if err := writeU64(w, uint64(len(e.Key))); err != nil {
		return err
	}
	if _, err := w.Write(e.Key); err != nil {
		return err
	}
	if err := writeU64(w, uint64(len(value))); err != nil {
		return err
	}
	if _, err := w.Write(value); err != nil {
		return err
	}
	if err := writeU64(w, e.Version); err != nil {
		return err
	}
	if err := writeU64(w, e.CreatedAt); err != nil {
		return err
	}

	// expires_at_opt: u8 tag (0 = absent, 1 = present) + u64.
	if e.ExpiresAt == 0 {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
		return writeU64(w, 0)
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	return writeU64(w, e.ExpiresAt)
}

// Load reads and validates a snapshot file, rejecting a format-version or
// shard-count mismatch against wantNumShards (§4.5's load contract).
func (m *Manager) Load(path string, wantNumShards uint32) (numShards uint32, walOffset uint64, shards [][]Entry, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, 0, nil, err
	}
	if magic != magicBytes {
		return 0, 0, nil, ErrInvalidMagic
	}

	version, err := readU32(r)
	if err != nil {
		return 0, 0, nil, err
	}
	if version != FormatVersion {
		return 0, 0, nil, ErrUnsupportedVersion
	}

	numShards, err = readU32(r)
	if err != nil {
		return 0, 0, nil, err
	}
	if wantNumShards != 0 && numShards != wantNumShards {
		return 0, 0, nil, ErrShardCountMismatch
	}

	walOffset, err = readU64(r)
	if err != nil {
		return 0, 0, nil, err
	}

	shards = make([][]Entry, numShards)
	for i := uint32(0); i < numShards; i++ {
		count, err := readU64(r)
		if err != nil {
			return 0, 0, nil, err
		}
		entries := make([]Entry, 0, count)
		for j := uint64(0); j < count; j++ {
			e, err := m.readEntry(r)
			if err != nil {
				return 0, 0, nil, err
			}
			entries = append(entries, e)
		}
		shards[i] = entries
	}

	return numShards, walOffset, shards, nil
}

func (m *Manager) readEntry(r io.Reader) (Entry, error) {
	var e Entry

	keyLen, err := readU64(r)
	if err != nil {
		return e, err
	}
	e.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, e.Key); err != nil {
		return e, err
	}

	valueLen, err := readU64(r)
	if err != nil {
		return e, err
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return e, err
	}
	if m.cfg.Cipher != nil && len(value) > 0 {
		plain, err := m.cfg.Cipher.Decrypt(value, nil)
		if err != nil {
			return e, fmt.Errorf("snapshot: decrypt value: %w", err)
		}
		value = plain
	}
	e.Value = value

	if e.Version, err = readU64(r); err != nil {
		return e, err
	}
	if e.CreatedAt, err = readU64(r); err != nil {
		return e, err
	}

	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return e, err
	}
	expiresAt, err := readU64(r)
	if err != nil {
		return e, err
	}
	if tag[0] != 0 {
		e.ExpiresAt = expiresAt
	}

	return e, nil
}

// Latest returns the most recently created snapshot, or ErrNoSnapshots.
func (m *Manager) Latest() (*Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNoSnapshots
	}
	return infos[len(infos)-1], nil
}

// List returns every snapshot file, oldest first.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []*Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		unixSeconds, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExtension), 10, 64)
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			Path:      filepath.Join(m.cfg.Dir, name),
			CreatedAt: time.Unix(unixSeconds, 0),
			Size:      info.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos, nil
}

// Prune deletes snapshots beyond RetentionCount and older than
// RetentionDays, always keeping at least the single newest snapshot.
func (m *Manager) Prune() error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	if len(infos) <= 1 {
		return nil
	}

	keep := make(map[string]struct{}, len(infos))
	start := len(infos) - m.cfg.RetentionCount
	if start < 0 {
		start = 0
	}
	for _, info := range infos[start:] {
		keep[info.Path] = struct{}{}
	}

	cutoff := time.Now().AddDate(0, 0, -m.cfg.RetentionDays)
	for _, info := range infos {
		if info.CreatedAt.After(cutoff) {
			keep[info.Path] = struct{}{}
		}
	}

	// Never delete the single newest snapshot, even if policy would.
	keep[infos[len(infos)-1].Path] = struct{}{}

	var errs []error
	for _, info := range infos {
		if _, ok := keep[info.Path]; ok {
			continue
		}
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
