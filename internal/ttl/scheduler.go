// Package ttl implements the background expiration sweep (§4.3): a
// min-heap of pending expirations and a periodic task that deletes keys
// whose TTL has elapsed, tolerating stale events left behind by
// overwrites.
package ttl

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is the cadence suggested by §4.3.
const DefaultSweepInterval = 100 * time.Millisecond

// Event is one pending expiration (§3, TtlEvent).
type Event struct {
	Key       string
	ExpiresAt uint64 // unix nanoseconds
}

// eventHeap is a container/heap min-heap keyed by ExpiresAt.
type eventHeap []Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].ExpiresAt < h[j].ExpiresAt }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// LiveLookup returns the ExpiresAt currently recorded for key, and
// whether the key exists at all. The scheduler uses it to tell a stale
// event (key was since rewritten or deleted) from a live one before
// deleting.
type LiveLookup func(key string) (expiresAt uint64, ok bool)

// Deleter removes a key that has genuinely expired.
type Deleter func(key string) error

// Scheduler holds the expiration heap and drives the sweep loop. It
// never outlives the engine it was built for; callers stop it via Stop
// at engine shutdown.
type Scheduler struct {
	mu   sync.Mutex
	heap eventHeap

	lookup LiveLookup
	delete Deleter
	logger *slog.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	nowFn    func() uint64
}

// Config configures a Scheduler.
type Config struct {
	Interval time.Duration
	Lookup   LiveLookup
	Delete   Deleter
	Logger   *slog.Logger
	// NowFunc overrides the clock, for tests. Defaults to real time.
	NowFunc func() uint64
}

func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	return &Scheduler{
		lookup:   cfg.Lookup,
		delete:   cfg.Delete,
		logger:   cfg.Logger,
		interval: cfg.Interval,
		nowFn:    cfg.NowFunc,
		stopCh:   make(chan struct{}),
	}
}

// Add registers a pending expiration. Amortized O(log n) (§4.3). Each
// rewrite of a key with a TTL enqueues a new event without removing the
// old one; the sweep tolerates the resulting stale events.
func (s *Scheduler) Add(key string, expiresAt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.heap, Event{Key: key, ExpiresAt: expiresAt})
}

// Len reports the number of pending (possibly stale) events.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Sweep pops every event whose ExpiresAt has elapsed and, for each one
// still live with that same ExpiresAt, deletes it. The heap lock is
// released before invoking Deleter, per §5: "the sweeper holds [the
// heap lock] only while popping, then releases it before invoking engine
// deletes to avoid nesting."
func (s *Scheduler) Sweep() {
	now := s.nowFn()

	var due []Event
	s.mu.Lock()
	for s.heap.Len() > 0 && s.heap[0].ExpiresAt <= now {
		due = append(due, heap.Pop(&s.heap).(Event))
	}
	s.mu.Unlock()

	for _, ev := range due {
		expiresAt, ok := s.lookup(ev.Key)
		if !ok || expiresAt != ev.ExpiresAt {
			continue // stale: key gone, or rewritten with a different TTL
		}
		if err := s.delete(ev.Key); err != nil {
			s.logger.Warn("ttl sweep: delete failed, will retry on a future sweep", "key", ev.Key, "error", err)
			s.Add(ev.Key, ev.ExpiresAt)
		}
	}
}

// Start runs Sweep on a fixed cadence until Stop is called.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
