// Package main provides the entry point for tidekv-server.
//
// tidekv-server is the core service process for tidekv, an in-memory
// key-value store with a durable write-ahead log, periodic snapshots,
// active TTL expiration, and asynchronous primary-to-follower
// replication.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tidekv/tidekv/internal/checkpoint"
	tidekvconfig "github.com/tidekv/tidekv/internal/config"
	"github.com/tidekv/tidekv/internal/infra/buildinfo"
	"github.com/tidekv/tidekv/internal/infra/confloader"
	"github.com/tidekv/tidekv/internal/infra/shutdown"
	"github.com/tidekv/tidekv/internal/infra/tlsroots"
	"github.com/tidekv/tidekv/internal/replication"
	"github.com/tidekv/tidekv/internal/storage"
	"github.com/tidekv/tidekv/internal/storage/snapshot"
	"github.com/tidekv/tidekv/internal/storage/wal"
	"github.com/tidekv/tidekv/internal/telemetry/logger"
	"github.com/tidekv/tidekv/internal/telemetry/metric"
	"github.com/tidekv/tidekv/internal/ttl"
	"github.com/tidekv/tidekv/pkg/crypto/adaptive"
)

func main() {
	app := &cli.App{
		Name:    "tidekv-server",
		Usage:   "in-memory key-value store with durable WAL and replication",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"TIDEKV_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Base data directory",
				EnvVars: []string{"TIDEKV_DATA_DIR"},
				Value:   tidekvconfig.DefaultDataDir,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"TIDEKV_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := tidekvconfig.Load(c.String("data-dir"), c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	log, slogLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting tidekv-server", "version", buildinfo.Version, "config", c.String("config"))
	log.Info("effective configuration", "config", tidekvconfig.Sanitize(cfg))

	cipher, err := initCipher(cfg)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	engine, err := initStorage(cfg, cipher, slogLogger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	snapMgr, err := snapshot.NewManager(snapshot.Config{
		Dir:            cfg.Snapshot.Dir,
		RetentionCount: cfg.Snapshot.RetentionCount,
		RetentionDays:  cfg.Snapshot.RetentionDays,
		Cipher:         cipher,
		Logger:         slogLogger,
	})
	if err != nil {
		return fmt.Errorf("init snapshot manager: %w", err)
	}

	ctx := context.Background()
	if err := engine.Recover(ctx, snapMgr); err != nil {
		return fmt.Errorf("storage recovery: %w", err)
	}

	coordinator, err := checkpoint.New(checkpoint.Config{
		Interval:       cfg.Checkpoint.Interval,
		ControlDir:     cfg.Checkpoint.ControlDir,
		WALDir:         cfg.WAL.Dir,
		WALMaxSize:     cfg.WAL.MaxFileSize,
		RetainSegments: cfg.Checkpoint.RetainSegments,
		Logger:         slogLogger,
	}, engine, snapMgr)
	if err != nil {
		return fmt.Errorf("init checkpoint coordinator: %w", err)
	}
	coordinator.Start()

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing storage engine")
		return engine.Close()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping checkpoint coordinator")
		return coordinator.Stop()
	})

	if watcher, err := startConfigWatcher(c.String("config"), c.String("data-dir"), engine, coordinator, slogLogger); err != nil {
		log.Warn("config hot-reload watcher not started", "error", err)
	} else if watcher != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("stopping config watcher")
			return watcher.Stop()
		})
	}

	if metricsServer := startMetricsServer(cfg, log); metricsServer != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("stopping metrics server")
			return metricsServer.Shutdown(ctx)
		})
	}

	repCtx, repCancel := context.WithCancel(context.Background())
	if stopRep, err := startReplication(repCtx, cfg, engine, cipher, slogLogger); err != nil {
		repCancel()
		return fmt.Errorf("init replication: %w", err)
	} else if stopRep != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("stopping replication")
			repCancel()
			return stopRep()
		})
	} else {
		repCancel()
	}

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

func initLogger(cfg *tidekvconfig.Config) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)
	return log, slog.Default(), nil
}

func initCipher(cfg *tidekvconfig.Config) (adaptive.Cipher, error) {
	if cfg.Security.EncryptionKey == "" {
		return nil, nil
	}
	cipher, _, err := snapshot.NewCipherFromConfig(snapshot.EncryptionConfig{
		Passphrase: []byte(cfg.Security.EncryptionKey),
	})
	return cipher, err
}

func parseSyncPolicy(s string) wal.SyncPolicy {
	if s == "every-ms" {
		return wal.SyncEveryMs
	}
	return wal.SyncEveryWrite
}

func initStorage(cfg *tidekvconfig.Config, cipher adaptive.Cipher, log *slog.Logger) (*storage.Engine, error) {
	policy := parseSyncPolicy(cfg.WAL.SyncPolicy)

	return storage.New(storage.Config{
		NumShards: cfg.Engine.NumShards,
		WAL: wal.Config{
			Dir:          cfg.WAL.Dir,
			Policy:       policy,
			SyncInterval: cfg.WAL.SyncInterval,
			MaxFileSize:  cfg.WAL.MaxFileSize,
			Cipher:       cipher,
			Logger:       log,
		},
		TTL: ttl.Config{
			Interval: cfg.TTL.Interval,
		},
		Logger: log,
	})
}

// startConfigWatcher watches configFile for writes/renames and, on
// change, re-reads it and applies the WAL sync policy and checkpoint
// interval to the running engine and coordinator without a restart
// (SPEC_FULL §10.3). Every other setting still requires a restart. It
// returns a nil watcher (and no error) when configFile is empty, since
// there is nothing to watch.
func startConfigWatcher(configFile, dataDir string, engine *storage.Engine, coordinator *checkpoint.Coordinator, log *slog.Logger) (*confloader.Watcher, error) {
	if configFile == "" {
		return nil, nil
	}

	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Watch(configFile); err != nil {
		return nil, fmt.Errorf("config watcher: watch %s: %w", configFile, err)
	}

	watcher.OnChange(func(path string) {
		cfg, err := tidekvconfig.Load(dataDir, configFile)
		if err != nil {
			log.Warn("config hot-reload: reload failed, keeping previous settings", "error", err)
			return
		}
		engine.SetWALSyncPolicy(parseSyncPolicy(cfg.WAL.SyncPolicy))
		coordinator.SetInterval(cfg.Checkpoint.Interval)
		log.Info("config hot-reload applied",
			"wal_sync_policy", cfg.WAL.SyncPolicy,
			"checkpoint_interval", cfg.Checkpoint.Interval)
	})
	watcher.StartAsync()
	return watcher, nil
}

// startMetricsServer starts the Prometheus /metrics listener in the
// background and returns its *http.Server for graceful shutdown, or nil
// if no listen address is configured.
func startMetricsServer(cfg *tidekvconfig.Config, log logger.Logger) *http.Server {
	if cfg.Metrics.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped with error", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", cfg.Metrics.Addr)
	return srv
}

// buildReplicationTLS builds the *tls.Config the replica streamer or
// follower client should use, or nil when replication TLS is disabled.
// A cert/key pair enables mutual TLS; otherwise connections are
// encrypted but only the CA pool (if any) is verified against.
func buildReplicationTLS(cfg *tidekvconfig.Config) (*tls.Config, error) {
	if !cfg.Replication.TLSEnabled {
		return nil, nil
	}

	if cfg.Security.TLSCertFile != "" && cfg.Security.TLSKeyFile != "" {
		pool, err := tlsroots.NewPool()
		if err != nil {
			return nil, fmt.Errorf("tls: load system roots: %w", err)
		}
		if cfg.Security.TLSCAFile != "" {
			if err := pool.AddCertFile(cfg.Security.TLSCAFile); err != nil {
				return nil, fmt.Errorf("tls: load ca file: %w", err)
			}
		}
		return pool.MutualTLSConfig(cfg.Security.TLSCertFile, cfg.Security.TLSKeyFile)
	}

	pool, err := tlsroots.NewPool()
	if err != nil {
		return nil, fmt.Errorf("tls: load system roots: %w", err)
	}
	if cfg.Security.TLSCAFile != "" {
		if err := pool.AddCertFile(cfg.Security.TLSCAFile); err != nil {
			return nil, fmt.Errorf("tls: load ca file: %w", err)
		}
	}
	return pool.TLSConfig(), nil
}

func startReplication(ctx context.Context, cfg *tidekvconfig.Config, engine *storage.Engine, cipher adaptive.Cipher, log *slog.Logger) (func() error, error) {
	tlsConf, err := buildReplicationTLS(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Replication.Role {
	case "primary":
		streamer := replication.NewStreamer(replication.PrimaryConfig{
			BindAddr:     cfg.Replication.BindAddr,
			WALDir:       cfg.WAL.Dir,
			WALMaxSize:   cfg.WAL.MaxFileSize,
			Cipher:       cipher,
			SyncMode:     cfg.Replication.SyncMode,
			PollInterval: cfg.Replication.PollInterval,
			Logger:       log,
			TLSConfig:    tlsConf,
		})
		go func() {
			if err := streamer.Start(ctx); err != nil {
				log.Error("replica streamer stopped with error", "error", err)
			}
		}()
		return streamer.Stop, nil

	case "follower":
		follower, err := replication.NewFollower(replication.FollowerConfig{
			PrimaryAddr:  cfg.Replication.PrimaryAddr,
			Cipher:       cipher,
			SyncMode:     cfg.Replication.SyncMode,
			RetryBackoff: cfg.Replication.RetryBackoff,
			Logger:       log,
			TLSConfig:    tlsConf,
			ControlDir:   cfg.Replication.ControlDir,
		}, engine)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := follower.Run(ctx); err != nil && err != context.Canceled {
				log.Error("replica follower stopped with error", "error", err)
			}
		}()
		return follower.Close, nil

	default:
		return nil, nil
	}
}
