// Package storeenv implements the concrete embedded, transactional,
// memory-mapped environment each index is backed by. The lifecycle manager
// and handle cache only depend on ilm.Handle; this package is the one place
// that talks to go.etcd.io/bbolt directly, standing in for an external
// embedded key-value store owned by code outside this module.
package storeenv

import (
	"fmt"
	"time"

	"github.com/sharedcode/ilm"
	bolt "go.etcd.io/bbolt"
)

// Environment is a bbolt-backed ilm.Handle. Growing its map size requires an
// explicit Close followed by Open with a larger InitialMmapSize: bbolt can
// auto-grow past InitialMmapSize on write, but this package deliberately
// does not rely on that, to keep resize a visible, caller-driven event that
// matches the close-then-reopen contract the handle cache implements.
type Environment struct {
	db      *bolt.DB
	path    string
	mapSize int64
	writemap bool
}

// Open opens (creating if absent) the bbolt file at path with the given map
// size and write-map setting.
func Open(path string, mapSize int64, writemap bool) (*Environment, error) {
	opts := &bolt.Options{
		Timeout:         1 * time.Second,
		InitialMmapSize: int(mapSize),
		NoFreelistSync:  writemap,
	}
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("opening environment at %s: %w", path, err)
	}
	return &Environment{db: db, path: path, mapSize: mapSize, writemap: writemap}, nil
}

// DB returns the underlying *bolt.DB for callers (the indexing engine, out
// of scope here) that need to begin transactions against it.
func (e *Environment) DB() *bolt.DB {
	return e.db
}

// Close releases the memory mapping. Safe to call once; the handle cache's
// Closing-slot contract is responsible for not calling it twice.
func (e *Environment) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// MapSize reports the map size the environment was opened with.
func (e *Environment) MapSize() int64 {
	return e.mapSize
}

// Reopen opens the environment at path with a map size increased by
// growthBytes, returning the new Environment. It does not close any
// Environment already open on path: the handle cache has closed it by the
// time a Closing slot is reopened, which is when the lifecycle manager calls
// this.
func Reopen(path string, currentMapSize, growthBytes int64, writemap bool) (*Environment, error) {
	return Open(path, currentMapSize+growthBytes, writemap)
}

var _ ilm.Handle = (*Environment)(nil)
