// Package config defines tidekv's configuration structure.
package config

import (
	"errors"
	"fmt"
	"os"
)

// Verify validates the configuration, creating any data directories that
// do not yet exist.
func Verify(cfg *Config) error {
	if err := verifyEngine(&cfg.Engine); err != nil {
		return err
	}
	if err := verifyWAL(&cfg.WAL); err != nil {
		return err
	}
	if err := verifySnapshot(&cfg.Snapshot); err != nil {
		return err
	}
	if err := verifyCheckpoint(&cfg.Checkpoint); err != nil {
		return err
	}
	if err := verifyReplication(&cfg.Replication); err != nil {
		return err
	}
	return nil
}

func verifyEngine(cfg *EngineSection) error {
	if cfg.NumShards == 0 {
		return errors.New("engine.num_shards must be at least 1")
	}
	return nil
}

func verifyWAL(cfg *WALSection) error {
	if cfg.Dir == "" {
		return errors.New("wal.dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("wal.dir: %w", err)
	}
	switch cfg.SyncPolicy {
	case "", "every-write", "every-ms":
	default:
		return fmt.Errorf("wal.sync_policy %q must be \"every-write\" or \"every-ms\"", cfg.SyncPolicy)
	}
	return nil
}

func verifySnapshot(cfg *SnapshotSection) error {
	if cfg.Dir == "" {
		return errors.New("snapshot.dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("snapshot.dir: %w", err)
	}
	if cfg.RetentionCount < 1 {
		return errors.New("snapshot.retention_count must be at least 1")
	}
	return nil
}

func verifyCheckpoint(cfg *CheckpointSection) error {
	if cfg.ControlDir == "" {
		return errors.New("checkpoint.control_dir is required")
	}
	if err := os.MkdirAll(cfg.ControlDir, 0o750); err != nil {
		return fmt.Errorf("checkpoint.control_dir: %w", err)
	}
	return nil
}

func verifyReplication(cfg *ReplicationSection) error {
	switch cfg.Role {
	case "", "primary", "follower":
	default:
		return fmt.Errorf("replication.role %q must be \"primary\", \"follower\", or empty", cfg.Role)
	}
	if cfg.Role == "primary" && cfg.BindAddr == "" {
		return errors.New("replication.bind_addr is required when role is primary")
	}
	if cfg.Role == "follower" && cfg.PrimaryAddr == "" {
		return errors.New("replication.primary_addr is required when role is follower")
	}
	return nil
}
