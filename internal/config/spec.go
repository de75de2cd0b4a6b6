// Package config defines tidekv's configuration structure.
package config

import "time"

// Config is the root configuration for tidekv-server.
type Config struct {
	Engine      EngineSection      `koanf:"engine"`
	WAL         WALSection         `koanf:"wal"`
	TTL         TTLSection         `koanf:"ttl"`
	Snapshot    SnapshotSection    `koanf:"snapshot"`
	Checkpoint  CheckpointSection  `koanf:"checkpoint"`
	Replication ReplicationSection `koanf:"replication"`
	Security    SecuritySection    `koanf:"security"`
	Log         LogSection         `koanf:"log"`
	Metrics     MetricsSection     `koanf:"metrics"`
}

// EngineSection configures the storage engine.
type EngineSection struct {
	NumShards uint32 `koanf:"num_shards"`
}

// WALSection configures the write-ahead log.
type WALSection struct {
	Dir string `koanf:"dir"`

	// SyncPolicy is "every-write" (fsync inline) or "every-ms" (group
	// commit on SyncInterval), matching wal.SyncPolicy.
	SyncPolicy   string        `koanf:"sync_policy"`
	SyncInterval time.Duration `koanf:"sync_interval"`
	MaxFileSize  int64         `koanf:"max_file_size"`
}

// TTLSection configures the active expiration scheduler.
type TTLSection struct {
	Interval time.Duration `koanf:"interval"`
}

// SnapshotSection configures snapshot capture and retention.
type SnapshotSection struct {
	Dir            string `koanf:"dir"`
	RetentionCount int    `koanf:"retention_count"`
	RetentionDays  int    `koanf:"retention_days"`
}

// CheckpointSection configures the periodic checkpoint coordinator.
type CheckpointSection struct {
	Interval       time.Duration `koanf:"interval"`
	ControlDir     string        `koanf:"control_dir"`
	RetainSegments int           `koanf:"retain_segments"`
}

// ReplicationSection configures the replica streamer (primary side) and
// the follower client (follower side). A process runs as a primary, a
// follower, or neither — never both.
type ReplicationSection struct {
	Role string `koanf:"role"` // "primary", "follower", or "" (standalone)

	// Primary-side.
	BindAddr     string        `koanf:"bind_addr"`
	SyncMode     bool          `koanf:"sync_mode"`
	PollInterval time.Duration `koanf:"poll_interval"`

	// Follower-side.
	PrimaryAddr  string        `koanf:"primary_addr"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// ControlDir durably records the last primary WAL offset this
	// follower has applied, so a restart resumes the stream there
	// instead of replaying the primary's full retained history (§4.6).
	ControlDir string `koanf:"control_dir"`

	// TLS, shared by both sides (optional; see SecuritySection).
	TLSEnabled bool `koanf:"tls_enabled"`
}

// SecuritySection configures at-rest encryption and replication TLS.
type SecuritySection struct {
	// EncryptionKey, when set, enables at-rest encryption of WAL value
	// bytes and snapshot entry bodies via pkg/crypto/adaptive.
	EncryptionKey string `koanf:"encryption_key"`

	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
	TLSCAFile   string `koanf:"tls_ca_file"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSection configures the Prometheus /metrics HTTP listener.
type MetricsSection struct {
	Addr string `koanf:"addr"`
}
