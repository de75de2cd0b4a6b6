// Package snapshot provides snapshot management for tidekv.
//
// Snapshots are periodic full dumps of the in-memory state, enabling
// faster recovery by reducing WAL replay time:
//
//   snapshot_<unix_seconds>.bin
//   [magic:4 "KVSS"][version:4][num_shards:4][wal_offset:8]
//   per shard: [entry_count:8] { entries, optionally value-encrypted }
//
// Recovery process:
//
//  1. Load the newest snapshot (one that fails to load aborts recovery)
//  2. Replay WAL entries after the snapshot's WAL offset
//  3. Rebuild in-memory shard state and TTL index
package snapshot
