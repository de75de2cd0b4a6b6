package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/tidekv/tidekv/internal/storage"
	"github.com/tidekv/tidekv/internal/storage/snapshot"
	"github.com/tidekv/tidekv/internal/storage/wal"
	"github.com/tidekv/tidekv/internal/ttl"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *storage.Engine) {
	t.Helper()

	walDir := t.TempDir()
	engine, err := storage.New(storage.Config{
		NumShards: 4,
		WAL:       wal.Config{Dir: walDir, Policy: wal.SyncEveryWrite},
		TTL:       ttl.Config{Interval: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	snapMgr, err := snapshot.NewManager(snapshot.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("snapshot.NewManager: %v", err)
	}

	coord, err := New(Config{
		Interval:   time.Hour,
		ControlDir: t.TempDir(),
		WALDir:     walDir,
	}, engine, snapMgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { coord.Stop() })

	return coord, engine
}

func TestCheckpoint_RecordsOffsetAndCreatesSnapshot(t *testing.T) {
	coord, engine := newTestCoordinator(t)

	if _, err := engine.Set("a", []byte("1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := coord.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	offset, err := coord.control.WALOffset()
	if err != nil {
		t.Fatalf("WALOffset: %v", err)
	}
	if offset == 0 {
		t.Fatal("expected a nonzero recorded wal offset after checkpoint")
	}

	infos, err := coord.snapMgr.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("snapshot count = %d, want 1", len(infos))
	}
}

func TestCheckpoint_SecondRunAdvancesOffset(t *testing.T) {
	coord, engine := newTestCoordinator(t)

	if _, err := engine.Set("a", []byte("1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := coord.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint 1: %v", err)
	}
	first, _ := coord.control.WALOffset()

	if _, err := engine.Set("b", []byte("2"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := coord.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint 2: %v", err)
	}
	second, _ := coord.control.WALOffset()

	if second <= first {
		t.Fatalf("offset did not advance: first=%d second=%d", first, second)
	}
}
