// Package tlsroots provides TLS certificate management for tidekv.
//
// The replica streamer (§4.6) uses it to run mutual TLS between a
// primary and its followers:
//
//   - roots.go: System certificates + custom CA loading
//   - watcher.go: Certificate hot-reload via fsnotify
//
// Features:
//
//   - System certificate pool integration
//   - Custom CA certificate support
//   - Automatic certificate reload on file changes
//
// Certificate expiry dates are not monitored.
package tlsroots
