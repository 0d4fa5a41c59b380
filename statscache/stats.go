// Package statscache implements the persistent, identifier-keyed cache of
// index statistics: keying by Identifier rather than name means a swap of
// two names never has to touch stats.
package statscache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sharedcode/ilm"
	bolt "go.etcd.io/bbolt"
)

// BucketName is the manager environment's named sub-database holding
// identifier -> serialized Stats.
var BucketName = []byte("index-stats")

// Stats is a cached snapshot of an index's size and shape. Absence of a
// Stats record is not an error: stats_of computes a fresh value on a cache
// miss without writing it back (see lifecycle.Manager.StatsOf).
type Stats struct {
	NumberOfDocuments uint64
	DatabaseSize      uint64
	FieldDistribution map[string]uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Cache reads and writes Stats inside a caller-supplied bbolt transaction.
type Cache struct{}

// New returns a Cache. It carries no state: every operation takes an
// explicit transaction.
func New() *Cache {
	return &Cache{}
}

// EnsureBucket creates the backing bucket if it does not exist yet.
func (c *Cache) EnsureBucket(tx *bolt.Tx) error {
	_, err := tx.CreateBucketIfNotExists(BucketName)
	return err
}

// Get returns the cached Stats for id, if any.
func (c *Cache) Get(tx *bolt.Tx, id ilm.Identifier) (Stats, bool, error) {
	b := tx.Bucket(BucketName)
	if b == nil {
		return Stats{}, false, nil
	}
	v := b.Get(id.Bytes())
	if v == nil {
		return Stats{}, false, nil
	}
	var s Stats
	if err := json.Unmarshal(v, &s); err != nil {
		return Stats{}, false, fmt.Errorf("decoding stats for %s: %w", id, err)
	}
	return s, true, nil
}

// Put upserts the Stats for id.
func (c *Cache) Put(tx *bolt.Tx, id ilm.Identifier, s Stats) error {
	b, err := tx.CreateBucketIfNotExists(BucketName)
	if err != nil {
		return err
	}
	v, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding stats for %s: %w", id, err)
	}
	return b.Put(id.Bytes(), v)
}

// Delete removes the cached Stats for id, if present. Missing is not an
// error.
func (c *Cache) Delete(tx *bolt.Tx, id ilm.Identifier) error {
	b := tx.Bucket(BucketName)
	if b == nil {
		return nil
	}
	return b.Delete(id.Bytes())
}
