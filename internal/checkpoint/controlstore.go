// Package checkpoint implements the checkpoint coordinator (§4.7): a
// periodic task that triggers a snapshot, durably records the snapshot's
// WAL offset to a control file, and compacts WAL segments below it.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

var controlOffsetKey = []byte("wal_offset")

// ControlStore durably records the WAL offset of the most recent
// successful checkpoint. It is a small embedded KV rather than a single
// flat file so the write is atomic and crash-safe without hand-rolled
// temp-file-rename plumbing; this repurposes the badger handle the
// original codebase used for Raft log storage, since that subsystem is
// out of scope here.
type ControlStore struct {
	db *badger.DB
}

// OpenControlStore opens (or creates) the control database at dir.
func OpenControlStore(dir string) (*ControlStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open control store: %w", err)
	}
	return &ControlStore{db: db}, nil
}

// WALOffset returns the last durably recorded checkpoint offset, or 0 if
// none has ever been recorded.
func (c *ControlStore) WALOffset() (uint64, error) {
	var offset uint64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(controlOffsetKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			offset = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return offset, err
}

// SetWALOffset durably records offset as the latest checkpoint's
// consistency point (§4.7: "record the snapshot's WAL offset O to a
// control file, atomic write").
func (c *ControlStore) SetWALOffset(offset uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], offset)
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(controlOffsetKey, buf[:])
	})
}

// Close releases the underlying database handle.
func (c *ControlStore) Close() error {
	return c.db.Close()
}
