package storage

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultNumShards matches the typical deployment size named in §3. Any
// nonzero shard count works: ShardIndex reduces the hash with a modulo.
const DefaultNumShards = 256

// ShardIndex computes the deterministic key -> shard assignment (§3):
// fxhash32(key) mod num_shards. Any 32-bit non-cryptographic hash is
// acceptable provided it is used consistently everywhere in a
// deployment; this engine standardizes on murmur3.Sum32 because Go's hash/maphash reseeds randomly per process and would break
// the cross-process determinism replay and replication both require.
func ShardIndex(key []byte, numShards uint32) uint32 {
	return murmur3.Sum32(key) % numShards
}

// Shard is a single partition of the key space (§4.1). Each shard holds
// its own reader-writer lock; the engine computes the hash once and
// never moves a key between shards.
type Shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func newShard() *Shard {
	return &Shard{entries: make(map[string]Entry)}
}

// Get returns the stored entry and whether it was present. It does not
// check expiration; that policy lives in the engine (§4.2's get).
func (s *Shard) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Set stores entry under key, returning the previous entry if any.
func (s *Shard) Set(key string, entry Entry) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, had := s.entries[key]
	s.entries[key] = entry
	return old, had
}

// Delete removes key, returning the removed entry if any.
func (s *Shard) Delete(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, had := s.entries[key]
	if had {
		delete(s.entries, key)
	}
	return old, had
}

// MutateResult is what a Mutate callback produces: either a new/updated
// entry, or a deletion.
type MutateResult struct {
	Entry  Entry
	Delete bool
}

// Mutate runs fn with the shard's write lock held for the whole
// read-modify-write, so version computation (old.Version+1) and CAS
// checks (expected version) are atomic with respect to other writers on
// this shard. This is the single entry point Set/Del/ApplyWALRecord use.
func (s *Shard) Mutate(key string, fn func(old Entry, had bool) (MutateResult, error)) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, had := s.entries[key]
	res, err := fn(old, had)
	if err != nil {
		return Entry{}, err
	}
	if res.Delete {
		delete(s.entries, key)
		return res.Entry, nil
	}
	s.entries[key] = res.Entry
	return res.Entry, nil
}

// Len returns the number of entries currently held, expired or not.
func (s *Shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a deep copy of the shard's map (§4.1: "Snapshot
// returns a deep copy of the map").
func (s *Shard) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v.Clone()
	}
	return out
}

// Restore atomically replaces the shard's entire map, used by
// load_from_snapshot (§4.2). The caller must ensure the engine is
// quiescent first.
func (s *Shard) Restore(entries map[string]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}
