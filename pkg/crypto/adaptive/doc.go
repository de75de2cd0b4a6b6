// Package adaptive provides adaptive encryption for tidekv.
//
// This package implements a cipher abstraction that selects an
// encryption algorithm by target architecture (runtime.GOARCH).
//
// Supported Algorithms:
//
//   - AES-GCM (16, 24 or 32-byte keys): chosen on amd64 and arm64
//   - ChaCha20-Poly1305 (32-byte keys): chosen on every other architecture
//
// Features:
//
//   - Architecture-based selection; CPU features are not probed
//   - AEAD: Authenticated encryption with associated data
//   - Thread Safety: All cipher operations are thread-safe
//
// Keys are used as given; this package does no key derivation.
//
// Usage:
//
//	cipher, err := adaptive.New(key)
//	encrypted, err := cipher.Encrypt(plaintext, aad)
//	plaintext, err := cipher.Decrypt(encrypted, aad)
package adaptive
