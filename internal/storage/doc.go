// Package storage provides the storage engine for tidekv.
//
// The storage engine combines a sharded in-memory map, a write-ahead
// log, and periodic snapshots to provide durable, high-performance
// key-value storage.
//
// Architecture:
//
//   - Shards: primary storage using sharded concurrent maps
//   - WAL: write-ahead logging for durability and crash recovery
//   - Snapshot: periodic snapshots for faster recovery
//
// The engine supports:
//
//   - Durability: writes are logged before acknowledgment
//   - Recovery: automatic recovery from WAL and snapshots on startup
//   - Active TTL expiration alongside lazy expiry on read
//   - Encryption: optional at-rest encryption using adaptive ciphers
package storage
