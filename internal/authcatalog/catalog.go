// Package authcatalog stores auth/role data as ordinary engine keys under
// a reserved prefix (§1, §12): the catalog is not a separate subsystem,
// it is a thin convenience wrapper over the storage engine's own
// get/set/prefix-enumeration surface.
package authcatalog

import (
	"strings"
	"time"

	"github.com/tidekv/tidekv/internal/storage"
)

// Prefix is the reserved key range the catalog owns. Keys under it are
// otherwise ordinary engine entries: they have versions, can carry a TTL,
// and are replicated and snapshotted exactly like any other key.
const Prefix = "__auth/"

// Catalog wraps a storage.Engine to store role/credential records under
// Prefix. It adds no state of its own.
type Catalog struct {
	engine *storage.Engine
}

// New builds a Catalog over engine.
func New(engine *storage.Engine) *Catalog {
	return &Catalog{engine: engine}
}

func fullKey(name string) string {
	return Prefix + name
}

// Put stores value under name, which is namespaced with Prefix before it
// reaches the engine. ttl is the same engine TTL as any other Set call.
func (c *Catalog) Put(name string, value []byte, ttl time.Duration) (storage.Entry, error) {
	return c.engine.Set(fullKey(name), value, ttl)
}

// Get returns the value stored under name, or storage.ErrNotFound.
func (c *Catalog) Get(name string) (storage.Entry, error) {
	return c.engine.Get(fullKey(name))
}

// Delete removes name. expectedVersion has the same optimistic-concurrency
// semantics as storage.Engine.Del.
func (c *Catalog) Delete(name string, expectedVersion *uint64) error {
	return c.engine.Del(fullKey(name), expectedVersion)
}

// List returns the unprefixed names of every entry currently stored in
// the catalog.
func (c *Catalog) List() []string {
	keys := c.engine.Keys(Prefix)
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, Prefix))
	}
	return names
}
