package storage

import (
	"errors"
	"fmt"
)

// StoreError is a structured engine error, grounded on the same
// Code/Message/Cause shape used elsewhere in this codebase's domain
// errors, mapped onto the taxonomy in §7: NotFound, VersionMismatch,
// WalIo, WalCorruption, SerializationError, ReplicaProtocolError.
type StoreError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newStoreError(code, message string) *StoreError {
	return &StoreError{Code: code, Message: message}
}

func (e *StoreError) withCause(cause error) *StoreError {
	return &StoreError{Code: e.Code, Message: e.Message, Cause: cause}
}

// §7 error taxonomy. NotFound and VersionMismatch are surfaced to the
// caller and never logged; the rest are logged by whichever subsystem
// raises them.
var (
	ErrNotFound           = newStoreError("KV-NOTFOUND", "key not found")
	ErrVersionMismatch    = newStoreError("KV-VERSION-CONFLICT", "expected version does not match current version")
	ErrWalIO              = newStoreError("KV-WAL-IO", "wal i/o error")
	ErrWalCorruption      = newStoreError("KV-WAL-CORRUPT", "wal corruption detected")
	ErrSerialization      = newStoreError("KV-SERIALIZATION", "snapshot serialization error")
	ErrReplicaProtocol    = newStoreError("KV-REPLICA-PROTOCOL", "replica protocol error")
	ErrEngineReadOnly     = newStoreError("KV-READONLY", "engine is in read-only mode after a persistent wal i/o error")
	ErrShardCountMismatch = newStoreError("KV-SHARD-MISMATCH", "snapshot shard count does not match engine configuration")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsVersionMismatch reports whether err is (or wraps) ErrVersionMismatch.
func IsVersionMismatch(err error) bool { return errors.Is(err, ErrVersionMismatch) }
