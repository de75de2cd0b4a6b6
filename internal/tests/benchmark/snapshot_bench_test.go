package benchmark

import (
	"io"
	"log/slog"
	"testing"

	"github.com/tidekv/tidekv/internal/checkpoint"
	"github.com/tidekv/tidekv/internal/storage/snapshot"
)

// BenchmarkCheckpoint measures a full snapshot-then-compact cycle at
// increasing resident key counts, the operation the periodic coordinator
// runs on every interval tick.
func BenchmarkCheckpoint(b *testing.B) {
	runWithKeyCounts(b, SmallKeyCounts, func(b *testing.B, count int) {
		base := b.TempDir()
		e := newTestEngine(b, base+"/wal")
		defer e.Close()
		prefillEngine(b, e, count)

		snapMgr, err := snapshot.NewManager(snapshot.Config{
			Dir:            base + "/snapshot",
			RetentionCount: 3,
			RetentionDays:  7,
			Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		if err != nil {
			b.Fatalf("new snapshot manager: %v", err)
		}

		coordinator, err := checkpoint.New(checkpoint.Config{
			ControlDir:     base + "/checkpoint",
			WALDir:         base + "/wal",
			RetainSegments: 2,
			Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		}, e, snapMgr)
		if err != nil {
			b.Fatalf("new coordinator: %v", err)
		}
		defer coordinator.Stop()

		ctx := b.Context()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := coordinator.Checkpoint(ctx); err != nil {
				b.Fatalf("checkpoint: %v", err)
			}
		}
		b.StopTimer()
		reportMemory(b, "checkpoint")
	})
}
