// Package registry implements the transactional name registry: the
// persistent mapping from an index's user-facing name to its 128-bit
// Identifier, stored in a bbolt bucket named "index-mapping".
package registry

import (
	"fmt"

	"github.com/sharedcode/ilm"
	bolt "go.etcd.io/bbolt"
)

// BucketName is the manager environment's named sub-database holding the
// name -> identifier mapping.
var BucketName = []byte("index-mapping")

// Registry reads and writes the name -> Identifier mapping inside a
// caller-supplied bbolt transaction, so mutations commit atomically with
// whatever adjacent metadata the caller is also writing.
type Registry struct{}

// New returns a Registry. It carries no state: every operation takes an
// explicit transaction.
func New() *Registry {
	return &Registry{}
}

// EnsureBucket creates the backing bucket if it does not exist yet. Called
// once, inside a write transaction, when the manager's environment is first
// opened.
func (r *Registry) EnsureBucket(tx *bolt.Tx) error {
	_, err := tx.CreateBucketIfNotExists(BucketName)
	return err
}

// Get resolves name to its Identifier. The second return value is false if
// no such name is registered.
func (r *Registry) Get(tx *bolt.Tx, name string) (ilm.Identifier, bool, error) {
	b := tx.Bucket(BucketName)
	if b == nil {
		return ilm.Identifier{}, false, nil
	}
	v := b.Get([]byte(name))
	if v == nil {
		return ilm.Identifier{}, false, nil
	}
	id, err := ilm.IdentifierFromBytes(v)
	if err != nil {
		return ilm.Identifier{}, false, fmt.Errorf("decoding identifier for %q: %w", name, err)
	}
	return id, true, nil
}

// Put overwrites (or creates) the binding from name to id. Used for both
// create and swap.
func (r *Registry) Put(tx *bolt.Tx, name string, id ilm.Identifier) error {
	b, err := tx.CreateBucketIfNotExists(BucketName)
	if err != nil {
		return err
	}
	return b.Put([]byte(name), id.Bytes())
}

// Delete removes name's binding, reporting whether it was present.
func (r *Registry) Delete(tx *bolt.Tx, name string) (bool, error) {
	b := tx.Bucket(BucketName)
	if b == nil {
		return false, nil
	}
	if b.Get([]byte(name)) == nil {
		return false, nil
	}
	if err := b.Delete([]byte(name)); err != nil {
		return false, err
	}
	return true, nil
}

// ForEach visits every (name, identifier) pair in name order, short
// circuiting on the first error fn returns. Because it walks a bbolt
// cursor over a snapshot read transaction, re-invoking ForEach on a freshly
// opened read transaction restarts the traversal from the beginning.
func (r *Registry) ForEach(tx *bolt.Tx, fn func(name string, id ilm.Identifier) error) error {
	b := tx.Bucket(BucketName)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		id, err := ilm.IdentifierFromBytes(v)
		if err != nil {
			return fmt.Errorf("decoding identifier for %q: %w", string(k), err)
		}
		if err := fn(string(k), id); err != nil {
			return err
		}
	}
	return nil
}
