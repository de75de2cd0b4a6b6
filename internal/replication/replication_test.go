package replication

import (
	"context"
	"testing"
	"time"

	"github.com/tidekv/tidekv/internal/storage"
	"github.com/tidekv/tidekv/internal/storage/wal"
	"github.com/tidekv/tidekv/internal/ttl"
)

func newTestEngine(t *testing.T, walDir string) *storage.Engine {
	t.Helper()
	e, err := storage.New(storage.Config{
		NumShards: 4,
		WAL:       wal.Config{Dir: walDir, Policy: wal.SyncEveryWrite},
		TTL:       ttl.Config{Interval: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not satisfied within %s", timeout)
}

func waitForListenerReady(t *testing.T, s *Streamer) {
	t.Helper()
	waitFor(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running && s.ln != nil
	})
}

func TestStreamer_AsyncStreamsExistingAndNewRecords(t *testing.T) {
	walDir := t.TempDir()
	primaryEngine := newTestEngine(t, walDir)
	if _, err := primaryEngine.Set("a", []byte("1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	streamer := NewStreamer(PrimaryConfig{
		BindAddr:     "127.0.0.1:0",
		WALDir:       walDir,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = streamer.Start(ctx) }()
	t.Cleanup(func() { streamer.Stop() })
	waitForListenerReady(t, streamer)

	followerEngine := newTestEngine(t, t.TempDir())
	follower, err := NewFollower(FollowerConfig{
		PrimaryAddr: streamer.ln.Addr().String(),
		ControlDir:  t.TempDir(),
	}, followerEngine)
	if err != nil {
		t.Fatalf("NewFollower: %v", err)
	}
	t.Cleanup(func() { follower.Close() })

	followerCtx, followerCancel := context.WithCancel(context.Background())
	defer followerCancel()
	go func() { _ = follower.Run(followerCtx) }()

	waitFor(t, 2*time.Second, func() bool {
		entry, err := followerEngine.Get("a")
		return err == nil && string(entry.Value) == "1"
	})

	if _, err := primaryEngine.Set("b", []byte("2"), 0); err != nil {
		t.Fatalf("Set b: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		entry, err := followerEngine.Get("b")
		return err == nil && string(entry.Value) == "2"
	})
}

func TestStreamer_SyncModeWaitsForAck(t *testing.T) {
	walDir := t.TempDir()
	primaryEngine := newTestEngine(t, walDir)
	if _, err := primaryEngine.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	streamer := NewStreamer(PrimaryConfig{
		BindAddr:     "127.0.0.1:0",
		WALDir:       walDir,
		SyncMode:     true,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = streamer.Start(ctx) }()
	t.Cleanup(func() { streamer.Stop() })
	waitForListenerReady(t, streamer)

	followerEngine := newTestEngine(t, t.TempDir())
	follower, err := NewFollower(FollowerConfig{
		PrimaryAddr: streamer.ln.Addr().String(),
		SyncMode:    true,
		ControlDir:  t.TempDir(),
	}, followerEngine)
	if err != nil {
		t.Fatalf("NewFollower: %v", err)
	}
	t.Cleanup(func() { follower.Close() })

	followerCtx, followerCancel := context.WithCancel(context.Background())
	defer followerCancel()
	go func() { _ = follower.Run(followerCtx) }()

	waitFor(t, 2*time.Second, func() bool {
		entry, err := followerEngine.Get("k")
		return err == nil && string(entry.Value) == "v"
	})
}
