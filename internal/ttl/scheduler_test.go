package ttl

import (
	"sync"
	"testing"
)

func TestScheduler_SweepDeletesExpired(t *testing.T) {
	live := map[string]uint64{"a": 100, "b": 200}
	var deleted []string
	var mu sync.Mutex

	s := New(Config{
		Lookup: func(key string) (uint64, bool) {
			mu.Lock()
			defer mu.Unlock()
			v, ok := live[key]
			return v, ok
		},
		Delete: func(key string) error {
			mu.Lock()
			defer mu.Unlock()
			deleted = append(deleted, key)
			delete(live, key)
			return nil
		},
		NowFunc: func() uint64 { return 150 },
	})

	s.Add("a", 100)
	s.Add("b", 200)
	s.Sweep()

	mu.Lock()
	defer mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "a" {
		t.Fatalf("deleted = %v, want [a]", deleted)
	}
}

func TestScheduler_ToleratesStaleEvent(t *testing.T) {
	var deleted []string
	s := New(Config{
		Lookup: func(key string) (uint64, bool) {
			// Key was rewritten with a new TTL; live value no longer
			// matches the popped (stale) event.
			return 999, true
		},
		Delete: func(key string) error {
			deleted = append(deleted, key)
			return nil
		},
		NowFunc: func() uint64 { return 1000 },
	})

	s.Add("k", 500)
	s.Sweep()

	if len(deleted) != 0 {
		t.Fatalf("expected stale event to be skipped, got deletes: %v", deleted)
	}
}

func TestScheduler_ToleratesRemovedKey(t *testing.T) {
	var deleted []string
	s := New(Config{
		Lookup:  func(key string) (uint64, bool) { return 0, false },
		Delete:  func(key string) error { deleted = append(deleted, key); return nil },
		NowFunc: func() uint64 { return 1000 },
	})

	s.Add("k", 500)
	s.Sweep()

	if len(deleted) != 0 {
		t.Fatalf("expected removed-key event to be skipped, got deletes: %v", deleted)
	}
}

func TestScheduler_LeavesUnexpiredEventsPending(t *testing.T) {
	s := New(Config{
		Lookup:  func(key string) (uint64, bool) { return 0, false },
		Delete:  func(key string) error { return nil },
		NowFunc: func() uint64 { return 50 },
	})
	s.Add("future", 1000)
	s.Sweep()

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (event not yet due)", s.Len())
	}
}
