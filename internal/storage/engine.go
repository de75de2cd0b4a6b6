// Package storage provides the storage engine: the sharded in-memory map,
// write-ahead log, TTL scheduler, and snapshot load/restore wired together
// behind a single get/set/del/exists surface (§4.2).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tidekv/tidekv/internal/storage/snapshot"
	"github.com/tidekv/tidekv/internal/storage/wal"
	"github.com/tidekv/tidekv/internal/ttl"
)

// Config configures a storage Engine.
type Config struct {
	// NumShards is the fixed shard count for this engine's lifetime; it is
	// part of snapshot and replication compatibility and cannot change
	// without a full rehash (§9, "Shard count fixed at startup").
	NumShards uint32

	WAL wal.Config
	TTL ttl.Config

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.NumShards == 0 {
		c.NumShards = DefaultNumShards
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine is the storage engine (§4.2): shard fan-out, get/set/del/exists,
// WAL-replay apply, and snapshot/restore hooks.
type Engine struct {
	cfg    Config
	shards []*Shard

	wal *wal.Writer
	ttl *ttl.Scheduler

	logger *slog.Logger

	// readOnly is set once a WAL append fails; per §7, persistent WAL I/O
	// errors force the engine into a read-only state. Transient and
	// persistent failures aren't distinguished here: every append
	// failure is treated as persistent.
	readOnly atomic.Bool
}

// New constructs an Engine and opens its WAL writer, but performs no
// recovery; call Recover after New to load existing data.
func New(cfg Config) (*Engine, error) {
	cfg.applyDefaults()

	writer, err := wal.NewWriter(cfg.WAL)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		shards: make([]*Shard, cfg.NumShards),
		wal:    writer,
		logger: cfg.Logger,
	}
	for i := range e.shards {
		e.shards[i] = newShard()
	}

	ttlCfg := cfg.TTL
	ttlCfg.Lookup = e.ttlLookup
	ttlCfg.Delete = e.ttlDelete
	if ttlCfg.Logger == nil {
		ttlCfg.Logger = cfg.Logger
	}
	e.ttl = ttl.New(ttlCfg)
	e.ttl.Start()

	return e, nil
}

func (e *Engine) shardFor(key string) *Shard {
	idx := ShardIndex([]byte(key), e.cfg.NumShards)
	return e.shards[idx]
}

func (e *Engine) ttlLookup(key string) (uint64, bool) {
	entry, ok := e.shardFor(key).Get(key)
	if !ok || !entry.HasTTL() {
		return 0, false
	}
	return entry.ExpiresAt, true
}

func (e *Engine) ttlDelete(key string) error {
	e.shardFor(key).Delete(key)
	return nil
}

// Get returns a clone of the stored value, or ErrNotFound if absent or
// expired. An expired entry found on read is removed best-effort without
// a WAL record: replay restores such an entry from its SET record, and
// the same expiry check on read hides it again, so no durability is lost
// by skipping the log write.
func (e *Engine) Get(key string) (Entry, error) {
	shard := e.shardFor(key)
	entry, ok := shard.Get(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	if entry.Expired(nowNanos()) {
		shard.Delete(key)
		return Entry{}, ErrNotFound
	}
	return entry.Clone(), nil
}

// Exists reports whether key is present and unexpired (§4.2).
func (e *Engine) Exists(key string) bool {
	_, err := e.Get(key)
	return err == nil
}

// Set stores value under key, assigning version = old.version+1 (or 1 for
// a new key), and registers a TTL event when ttl > 0. The WAL record is
// appended, under the shard's write lock, before the map is mutated, so
// the record is durable (per sync policy) before Set returns success
// (§4.2, "Write ordering contract").
func (e *Engine) Set(key string, value []byte, ttl time.Duration) (Entry, error) {
	if e.readOnly.Load() {
		return Entry{}, ErrEngineReadOnly
	}
	if len(key) > wal.MaxKeyLen {
		return Entry{}, ErrSerialization.withCause(fmt.Errorf("key exceeds %d bytes", wal.MaxKeyLen))
	}

	now := nowNanos()
	var ttlNanos uint64
	if ttl > 0 {
		ttlNanos = uint64(ttl)
	}

	shard := e.shardFor(key)
	result, err := shard.Mutate(key, func(old Entry, had bool) (MutateResult, error) {
		version := uint64(1)
		if had {
			version = old.Version + 1
		}
		entry := Entry{
			Value:     cloneBytes(value),
			Version:   version,
			CreatedAt: now,
		}
		if ttlNanos > 0 {
			entry.ExpiresAt = now + ttlNanos
		}

		rec := &wal.Record{
			Timestamp: now,
			Version:   version,
			TTLNanos:  ttlNanos,
			Op:        wal.OpSet,
			Key:       []byte(key),
			Value:     value,
		}
		if _, err := e.wal.Append(rec); err != nil {
			e.readOnly.Store(true)
			return MutateResult{}, ErrWalIO.withCause(err)
		}
		return MutateResult{Entry: entry}, nil
	})
	if err != nil {
		return Entry{}, err
	}

	if result.HasTTL() {
		e.ttl.Add(key, result.ExpiresAt)
	}
	return result, nil
}

// Del removes key. If expectedVersion is non-nil and does not match the
// current version, it fails with ErrVersionMismatch; if the key is
// absent, ErrNotFound (§4.2).
func (e *Engine) Del(key string, expectedVersion *uint64) error {
	if e.readOnly.Load() {
		return ErrEngineReadOnly
	}

	shard := e.shardFor(key)
	_, err := shard.Mutate(key, func(old Entry, had bool) (MutateResult, error) {
		if !had {
			return MutateResult{}, ErrNotFound
		}
		if expectedVersion != nil && *expectedVersion != old.Version {
			return MutateResult{}, ErrVersionMismatch
		}

		rec := &wal.Record{
			Timestamp: nowNanos(),
			Version:   old.Version,
			Op:        wal.OpDel,
			Key:       []byte(key),
		}
		if _, err := e.wal.Append(rec); err != nil {
			e.readOnly.Store(true)
			return MutateResult{}, ErrWalIO.withCause(err)
		}
		return MutateResult{Delete: true}, nil
	})
	return err
}

// ApplyWALRecord is the engine-internal entry point used by replay and
// replication (§4.2). It dispatches on op-code to the same shard-level
// mutations Set/Del use, but never re-appends to the WAL, and it adopts
// the record's stored version rather than recomputing one.
//
// OpIncr and OpCAS are reserved op-codes the codec accepts but the engine
// does not yet give independent semantics; per §9's design note, this
// implementation takes option (b) and treats both as aliases for OpSet.
func (e *Engine) ApplyWALRecord(rec *wal.Record) error {
	shard := e.shardFor(string(rec.Key))

	_, err := shard.Mutate(string(rec.Key), func(old Entry, had bool) (MutateResult, error) {
		switch rec.Op {
		case wal.OpSet, wal.OpIncr, wal.OpCAS:
			entry := Entry{
				Value:     cloneBytes(rec.Value),
				Version:   rec.Version,
				CreatedAt: rec.Timestamp,
			}
			if rec.TTLNanos > 0 {
				entry.ExpiresAt = rec.Timestamp + rec.TTLNanos
			}
			return MutateResult{Entry: entry}, nil
		case wal.OpDel:
			if !had {
				return MutateResult{Delete: true}, nil
			}
			return MutateResult{Delete: true}, nil
		default:
			return MutateResult{}, ErrSerialization
		}
	})
	if err != nil {
		return err
	}

	if rec.Op != wal.OpDel && rec.TTLNanos > 0 {
		e.ttl.Add(string(rec.Key), rec.Timestamp+rec.TTLNanos)
	}
	return nil
}

// Snapshot takes shard-by-shard copies in fixed shard index order (§4.2).
func (e *Engine) Snapshot() [][]snapshot.Entry {
	out := make([][]snapshot.Entry, len(e.shards))
	for i, shard := range e.shards {
		entries := shard.Snapshot()
		converted := make([]snapshot.Entry, 0, len(entries))
		for key, entry := range entries {
			converted = append(converted, snapshot.Entry{
				Key:       []byte(key),
				Value:     entry.Value,
				Version:   entry.Version,
				CreatedAt: entry.CreatedAt,
				ExpiresAt: entry.ExpiresAt,
			})
		}
		out[i] = converted
	}
	return out
}

// LoadFromSnapshot replaces every shard's map atomically with the
// supplied shard data. The caller must ensure the engine is quiescent
// first (§4.2).
func (e *Engine) LoadFromSnapshot(shardData [][]snapshot.Entry) error {
	if uint32(len(shardData)) != e.cfg.NumShards {
		return ErrShardCountMismatch
	}
	for i, entries := range shardData {
		restored := make(map[string]Entry, len(entries))
		for _, se := range entries {
			restored[string(se.Key)] = Entry{
				Value:     se.Value,
				Version:   se.Version,
				CreatedAt: se.CreatedAt,
				ExpiresAt: se.ExpiresAt,
			}
		}
		e.shards[i].Restore(restored)
	}
	e.seedTTLFromShards()
	return nil
}

// seedTTLFromShards re-registers a TTL event for every entry currently
// carrying an expiration, used after a snapshot load or WAL replay
// replaces shard contents wholesale without going through Set.
func (e *Engine) seedTTLFromShards() {
	for _, shard := range e.shards {
		for key, entry := range shard.Snapshot() {
			if entry.HasTTL() {
				e.ttl.Add(key, entry.ExpiresAt)
			}
		}
	}
}

// Recover loads the most recent snapshot (if any) and replays the WAL
// forward from its recorded offset, applying records via ApplyWALRecord
// (§4.5's recovery rule). The resulting state equals the state that
// existed in memory at the moment of the last durable WAL record.
func (e *Engine) Recover(ctx context.Context, snapMgr *snapshot.Manager) error {
	start := time.Now()
	e.logger.Info("storage recovery started")

	walOffset := uint64(0)

	info, err := snapMgr.Latest()
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshots):
		e.logger.Info("no snapshot found, starting with empty store")
	case err != nil:
		return fmt.Errorf("storage: find latest snapshot: %w", err)
	default:
		numShards, offset, shardData, err := snapMgr.Load(info.Path, e.cfg.NumShards)
		if err != nil {
			return fmt.Errorf("storage: load snapshot: %w", err)
		}
		if numShards != e.cfg.NumShards {
			return ErrShardCountMismatch
		}
		if err := e.LoadFromSnapshot(shardData); err != nil {
			return fmt.Errorf("storage: install snapshot: %w", err)
		}
		walOffset = offset
		e.logger.Info("snapshot loaded", "path", info.Path, "wal_offset", walOffset)
	}

	applied, err := e.replayWAL(ctx, walOffset)
	if err != nil {
		return fmt.Errorf("storage: replay wal: %w", err)
	}

	e.logger.Info("storage recovery completed",
		"elapsed", time.Since(start),
		"entries_applied", applied)
	return nil
}

// replayWAL streams records from fromOffset and applies each one. A torn
// tail at the very end of the log is tolerated by the reader itself
// (surfaced as io.EOF); anything else is fatal, per §7's WalCorruption.
func (e *Engine) replayWAL(ctx context.Context, fromOffset uint64) (int, error) {
	reader, err := wal.NewReader(wal.ReaderConfig{
		Dir:         e.cfg.WAL.Dir,
		MaxFileSize: e.cfg.WAL.MaxFileSize,
		Cipher:      e.cfg.WAL.Cipher,
		Logger:      e.logger,
	}, fromOffset)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	applied := 0
	for {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		rec, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return applied, nil
			}
			return applied, ErrWalCorruption.withCause(err)
		}
		if err := e.ApplyWALRecord(rec); err != nil {
			return applied, fmt.Errorf("storage: apply record at entry %d: %w", applied, err)
		}
		applied++
	}
}

// Close stops the TTL scheduler and closes the WAL writer, flushing
// pending writes.
func (e *Engine) Close() error {
	e.ttl.Stop()
	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("storage: close wal: %w", err)
	}
	return nil
}

// ReadOnly reports whether the engine has entered the read-only state
// described in §7 after a WAL append failure.
func (e *Engine) ReadOnly() bool {
	return e.readOnly.Load()
}

// CurrentWALOffset returns the WAL's current end offset (just past the
// last appended record; under SyncEveryMs or SyncNever those bytes may
// not be fsynced yet), used by the checkpoint coordinator to record a snapshot's consistency
// point.
func (e *Engine) CurrentWALOffset() uint64 {
	return e.wal.CurrentOffset()
}

// SetWALSyncPolicy changes the WAL's durability policy without a
// restart, used by the config hot-reload path (SPEC_FULL §10.3).
func (e *Engine) SetWALSyncPolicy(policy wal.SyncPolicy) {
	e.wal.SetSyncPolicy(policy)
}

// Keys returns every live, unexpired key carrying the given prefix, across
// all shards. This is not part of spec.md's core get/set/del/exists
// surface; it exists solely so callers like the auth catalog (§12) can
// enumerate a reserved key range without the engine exposing a general
// range-scan operation (§1's explicit non-goal).
func (e *Engine) Keys(prefix string) []string {
	now := nowNanos()
	var out []string
	for _, shard := range e.shards {
		for key, entry := range shard.Snapshot() {
			if entry.Expired(now) {
				continue
			}
			if len(prefix) == 0 || (len(key) >= len(prefix) && key[:len(prefix)] == prefix) {
				out = append(out, key)
			}
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func nowNanos() uint64 {
	return uint64(time.Now().UnixNano())
}
