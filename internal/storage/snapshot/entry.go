// Package snapshot implements whole-engine capture and restore: an
// atomic point-in-time-per-shard serialization of the sharded map to a
// single binary file, and the reverse load (§4.5).
package snapshot

// Entry is the on-disk representation of one stored key-value pair.
// It intentionally does not import the storage package's Entry type:
// keeping the wire DTO separate from the in-memory domain type means
// this package has no dependency on the engine, and the engine converts
// at the boundary when it calls Create/Load.
type Entry struct {
	Key       []byte
	Value     []byte
	Version   uint64
	CreatedAt uint64
	ExpiresAt uint64 // 0 = none, matching storage.Entry's convention
}
