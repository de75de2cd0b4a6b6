// Package shutdown provides graceful shutdown for tidekv.
//
// This package handles process termination signals so the engine, WAL
// manager, snapshot writer, checkpoint coordinator, and replica
// streamer can all drain in a well-defined order:
//
//   - Signal handling (SIGINT, SIGTERM)
//   - Timeout-based forced shutdown
//   - Cleanup callback registration
//   - Shutdown coordination
//
// Usage:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return engine.Close() })
//	h.Wait()
package shutdown
