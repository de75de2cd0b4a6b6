package benchmark

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/tidekv/tidekv/internal/storage"
	"github.com/tidekv/tidekv/internal/storage/wal"
	"github.com/tidekv/tidekv/internal/ttl"
)

// KeyCounts defines the resident key counts used by the larger sweeps.
var KeyCounts = []int{1000, 10000, 100000}

// SmallKeyCounts for quick benchmarks.
var SmallKeyCounts = []int{100, 1000}

func newTestEngine(b *testing.B, dir string) *storage.Engine {
	b.Helper()
	e, err := storage.New(storage.Config{
		NumShards: 16,
		WAL: wal.Config{
			Dir:         dir,
			Policy:      wal.SyncEveryMs,
			MaxFileSize: wal.DefaultMaxFileSize,
		},
		TTL:    ttl.Config{Interval: 0}, // 0 selects ttl.DefaultSweepInterval; no benchmark key has a TTL
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		b.Fatalf("new engine: %v", err)
	}
	return e
}

func prefillEngine(b *testing.B, e *storage.Engine, count int) {
	b.Helper()
	for i := 0; i < count; i++ {
		if _, err := e.Set(fmt.Sprintf("key-%d", i), []byte("benchmark-value"), 0); err != nil {
			b.Fatalf("prefill set: %v", err)
		}
	}
}

// reportMemory reports process memory usage as a custom benchmark metric.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithKeyCounts runs a benchmark function across each of counts.
func runWithKeyCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("keys_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
