// Package wal implements the durability layer for the key-value engine:
// an append-only write-ahead log with checksummed variable-length
// records, segment rotation, configurable fsync policy, and crash-safe
// replay.
//
// Record wire format (little-endian):
//
//	[timestamp:8][version:8][ttl_ns:8][op_code:1][key_len:8][value_len:8][key][value][crc32:4]
//
// Segment files are named wal-<seq>.log with seq monotone from 1 and
// contain a raw concatenation of records with no file header. A
// finalized (rotated or closed) segment additionally carries a trailing
// SHA-256 over its full byte range as a whole-segment integrity check;
// the active segment never has one, which is how the writer tells an
// in-progress segment from a finalized one on restart.
package wal
