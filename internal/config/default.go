// Package config defines tidekv's configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultNumShards = 16

	DefaultDataDir         = "/var/lib/tidekv/data"
	DefaultWALSyncPolicy   = "every-write"
	DefaultWALSyncInterval = 5 * time.Millisecond
	DefaultWALMaxFileSize  = 64 << 20

	DefaultTTLInterval = time.Second

	DefaultSnapshotRetentionCount = 3
	DefaultSnapshotRetentionDays  = 7

	DefaultCheckpointInterval       = 60 * time.Second
	DefaultCheckpointRetainSegments = 2

	DefaultReplicationBindAddr     = "127.0.0.1:7070"
	DefaultReplicationPollInterval = 50 * time.Millisecond
	DefaultRetryBackoff            = time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsAddr = "127.0.0.1:9090"
)

// Default returns the default tidekv configuration. dataDir is the base data
// directory; WAL, snapshot, and checkpoint-control subdirectories nest
// under it unless overridden.
func Default(dataDir string) *Config {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return &Config{
		Engine: EngineSection{
			NumShards: DefaultNumShards,
		},
		WAL: WALSection{
			Dir:          dataDir + "/wal",
			SyncPolicy:   DefaultWALSyncPolicy,
			SyncInterval: DefaultWALSyncInterval,
			MaxFileSize:  DefaultWALMaxFileSize,
		},
		TTL: TTLSection{
			Interval: DefaultTTLInterval,
		},
		Snapshot: SnapshotSection{
			Dir:            dataDir + "/snapshot",
			RetentionCount: DefaultSnapshotRetentionCount,
			RetentionDays:  DefaultSnapshotRetentionDays,
		},
		Checkpoint: CheckpointSection{
			Interval:       DefaultCheckpointInterval,
			ControlDir:     dataDir + "/checkpoint",
			RetainSegments: DefaultCheckpointRetainSegments,
		},
		Replication: ReplicationSection{
			BindAddr:     DefaultReplicationBindAddr,
			PollInterval: DefaultReplicationPollInterval,
			RetryBackoff: DefaultRetryBackoff,
			ControlDir:   dataDir + "/replication-control",
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Addr: DefaultMetricsAddr,
		},
	}
}
